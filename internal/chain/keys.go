package chain

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ParseProgramID validates a base58 program id.
func ParseProgramID(input string) (solana.PublicKey, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return solana.PublicKey{}, fmt.Errorf("program id is empty")
	}
	key, err := solana.PublicKeyFromBase58(input)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", input, err)
	}
	return key, nil
}

// DerivePoolAddress returns a stable pool address for a program and seed.
func DerivePoolAddress(programID string, seed string) string {
	sum := sha256.Sum256([]byte(programID + "/pool/" + seed))
	return solana.PublicKeyFromBytes(sum[:]).String()
}

// SyntheticSignature returns a deterministic base58 transaction signature for
// the n-th synthetic event of a pool.
func SyntheticSignature(poolAddress string, n uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)

	h := sha512.New()
	h.Write([]byte(poolAddress))
	h.Write(buf[:])

	var sig solana.Signature
	copy(sig[:], h.Sum(nil))
	return sig.String()
}
