package model

// Well-known AMM program ids.
const (
	PumpFunAMM  = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	MeteoraDLMM = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	RaydiumCL   = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	Whirlpools  = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
)

// DefaultSwapFee applies to programs without a known fee tier.
const DefaultSwapFee = 0.003

var knownNames = map[string]string{
	PumpFunAMM:  "Pump.fun AMM",
	MeteoraDLMM: "Meteora DLMM",
	RaydiumCL:   "Raydium CL",
	Whirlpools:  "Whirlpools",
}

var knownFees = map[string]float64{
	PumpFunAMM:  0.0025,
	MeteoraDLMM: 0.003,
	RaydiumCL:   0.0025,
	Whirlpools:  0.002,
}

// DefaultPoolPrograms returns the programs used when none are configured.
func DefaultPoolPrograms() []PoolProgram {
	return []PoolProgram{
		{ID: PumpFunAMM, Name: knownNames[PumpFunAMM], Endpoint: "http://ams2.corvus-labs.io:10101"},
		{ID: MeteoraDLMM, Name: knownNames[MeteoraDLMM], Endpoint: "http://86.105.224.13:10101"},
		{ID: RaydiumCL, Name: knownNames[RaydiumCL], Endpoint: "http://ams2.corvus-labs.io:10101"},
		{ID: Whirlpools, Name: knownNames[Whirlpools], Endpoint: "http://86.105.224.13:10101"},
	}
}

// KnownProgramName returns the display name of a well-known program.
func KnownProgramName(id string) (string, bool) {
	name, ok := knownNames[id]
	return name, ok
}

// SwapFeeFor returns the nominal swap fee of a program.
func SwapFeeFor(id string) float64 {
	if fee, ok := knownFees[id]; ok {
		return fee
	}
	return DefaultSwapFee
}
