package breaker

import (
	"time"
)

// State is the circuit state for a single provider.
type State string

const (
	// StateClosed admits all calls.
	StateClosed State = "closed"
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen State = "half_open"
)

func (s State) String() string { return string(s) }

// Settings holds the thresholds governing state transitions.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// closed circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout is how long an open circuit rejects calls before
	// admitting half-open trials.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`

	// HalfOpenMaxCalls bounds trial calls while half-open; that many
	// consecutive successes close the circuit again.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultSettings returns the service-wide transition thresholds.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = d.RecoveryTimeout
	}
	if s.HalfOpenMaxCalls <= 0 {
		s.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return s
}

// Record is the persisted circuit state for one provider. It is the unit the
// backing store serializes; all mutation goes through Store.Update so that
// concurrent transitions for the same provider never interleave.
type Record struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	HalfOpenCalls        int       `json:"half_open_calls"`
	LastFailureAt        time.Time `json:"last_failure_at"`
	LastSuccessAt        time.Time `json:"last_success_at"`
	TotalCalls           uint64    `json:"total_calls"`
	TotalFailures        uint64    `json:"total_failures"`
}

// NewRecord returns the initial closed-circuit record.
func NewRecord() Record {
	return Record{State: StateClosed}
}

// Transition describes one circuit state change.
type Transition struct {
	Provider string    `json:"provider"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason,omitempty"`
	Cause    string    `json:"cause,omitempty"`
}
