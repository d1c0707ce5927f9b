package pipeline

import (
	"time"

	"github.com/samber/lo"
)

// StageTiming records how one stage spent its budget.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Budget   time.Duration `json:"budget"`
	Elapsed  time.Duration `json:"elapsed"`
	Overrun  bool          `json:"overrun"`
	Provider string        `json:"provider,omitempty"`
	Fallback bool          `json:"fallback,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// ledger tracks one turn against the total budget. The clock is injected so
// budget arithmetic is testable without sleeping.
type ledger struct {
	now     func() time.Time
	started time.Time
	total   time.Duration
	stages  []StageTiming
	tags    []string
}

func newLedger(now func() time.Time, total time.Duration) *ledger {
	if now == nil {
		now = time.Now
	}
	return &ledger{now: now, started: now(), total: total}
}

func (l *ledger) elapsed() time.Duration {
	return l.now().Sub(l.started)
}

// remaining never goes below zero.
func (l *ledger) remaining() time.Duration {
	r := l.total - l.elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// stageWindow bounds a stage: its own budget, capped by what remains.
func (l *ledger) stageWindow(budget time.Duration) time.Duration {
	if r := l.remaining(); r < budget {
		return r
	}
	return budget
}

func (l *ledger) record(t StageTiming) {
	t.Overrun = t.Budget > 0 && t.Elapsed > t.Budget
	l.stages = append(l.stages, t)
}

// tag notes a degradation once; repeats are collapsed.
func (l *ledger) tag(tag string) bool {
	if lo.Contains(l.tags, tag) {
		return false
	}
	l.tags = append(l.tags, tag)
	return true
}
