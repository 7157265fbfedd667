package feed

import (
	"sync"
	"sync/atomic"

	"ammscope/internal/model"
	"ammscope/internal/upstream"
)

// SourceKind tells where a pool's updates come from.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceLive
	SourceSynthetic
)

func (k SourceKind) String() string {
	switch k {
	case SourceLive:
		return "live"
	case SourceSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle position of a source.
type Phase int

const (
	PhaseUnprobed Phase = iota
	PhaseSelected
	PhaseStreaming
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseUnprobed:
		return "unprobed"
	case PhaseSelected:
		return "selected"
	case PhaseStreaming:
		return "streaming"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SourceSnapshot is a read-only view of one source.
type SourceSnapshot struct {
	Program        model.PoolProgram
	Kind           SourceKind
	Phase          Phase
	Forwarded      uint64
	FallbackReason string
	StopReason     string
}

// sourceState is driven by exactly one goroutine; the mutex only guards
// concurrent snapshots.
type sourceState struct {
	pool model.PoolProgram
	conn *upstream.Connection

	mu             sync.Mutex
	kind           SourceKind
	phase          Phase
	fallbackReason string
	stopReason     string

	forwarded atomic.Uint64
}

func newSourceState(pool model.PoolProgram) *sourceState {
	return &sourceState{pool: pool, phase: PhaseUnprobed}
}

func (s *sourceState) selectLive(conn *upstream.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.kind = SourceLive
	s.phase = PhaseSelected
}

func (s *sourceState) selectSynthetic(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind = SourceSynthetic
	s.phase = PhaseSelected
	if reason != nil {
		s.fallbackReason = reason.Error()
	}
}

func (s *sourceState) streaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseStreaming
}

func (s *sourceState) stop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseStopped
	s.stopReason = reason
}

func (s *sourceState) currentKind() SourceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// closeConn releases the live connection, if any.
func (s *sourceState) closeConn() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *sourceState) snapshot() SourceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceSnapshot{
		Program:        s.pool,
		Kind:           s.kind,
		Phase:          s.phase,
		Forwarded:      s.forwarded.Load(),
		FallbackReason: s.fallbackReason,
		StopReason:     s.stopReason,
	}
}
