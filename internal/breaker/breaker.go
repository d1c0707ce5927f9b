package breaker

import (
	"context"
	"fmt"
	"time"
)

// Breaker tracks one provider's health and decides whether calls may proceed.
// All state lives in the Store, so multiple instances sharing a store share
// transitions. Methods never panic and never block on other providers.
type Breaker struct {
	name     string
	settings Settings
	store    Store

	now          func() time.Time
	onTransition func(Transition)
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithTransitionFunc registers a sink invoked after every state change.
func WithTransitionFunc(fn func(Transition)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New creates a breaker for the named provider.
func New(name string, settings Settings, store Store, opts ...Option) *Breaker {
	b := &Breaker{
		name:     name,
		settings: settings.normalized(),
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the provider this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Settings returns the thresholds in effect.
func (b *Breaker) Settings() Settings { return b.settings }

// Allow reports whether a call may proceed right now.
//
// Closed circuits always admit. Open circuits reject until RecoveryTimeout
// has elapsed since the last failure, then transition to half-open and admit
// the call as the first trial. Half-open circuits admit until
// HalfOpenMaxCalls trials are in flight. A store error fails open: the call
// is admitted and the error returned for logging.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	now := b.now()
	var allowed bool
	var trans *Transition

	_, err := b.store.Update(ctx, b.name, func(r *Record) {
		allowed, trans = b.admit(r, now)
	})
	if err != nil {
		return true, fmt.Errorf("breaker %s: %w", b.name, err)
	}
	b.emit(trans)
	return allowed, nil
}

func (b *Breaker) admit(r *Record, now time.Time) (bool, *Transition) {
	switch r.State {
	case StateOpen:
		if !r.LastFailureAt.IsZero() && now.Sub(r.LastFailureAt) < b.settings.RecoveryTimeout {
			return false, nil
		}
		trans := b.transition(r, StateHalfOpen, now, "recovery timeout elapsed", "")
		r.HalfOpenCalls = 1
		r.ConsecutiveSuccesses = 0
		return true, trans

	case StateHalfOpen:
		if r.HalfOpenCalls >= b.settings.HalfOpenMaxCalls {
			return false, nil
		}
		r.HalfOpenCalls++
		return true, nil

	default:
		return true, nil
	}
}

// RecordSuccess notes a successful call. Half-open circuits close after
// HalfOpenMaxCalls consecutive successes.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	now := b.now()
	var trans *Transition

	_, err := b.store.Update(ctx, b.name, func(r *Record) {
		r.TotalCalls++
		r.ConsecutiveFailures = 0
		r.ConsecutiveSuccesses++
		r.LastSuccessAt = now

		if r.State == StateHalfOpen && r.ConsecutiveSuccesses >= b.settings.HalfOpenMaxCalls {
			trans = b.transition(r, StateClosed, now, "half-open trials succeeded", "")
			r.HalfOpenCalls = 0
			r.ConsecutiveSuccesses = 0
		}
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", b.name, err)
	}
	b.emit(trans)
	return nil
}

// RecordFailure notes a failed call. Closed circuits open once
// FailureThreshold consecutive failures accumulate; half-open circuits open
// again on any failure.
func (b *Breaker) RecordFailure(ctx context.Context, cause error) error {
	now := b.now()
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	var trans *Transition

	_, err := b.store.Update(ctx, b.name, func(r *Record) {
		r.TotalCalls++
		r.TotalFailures++
		r.ConsecutiveSuccesses = 0
		r.ConsecutiveFailures++
		r.LastFailureAt = now

		switch r.State {
		case StateClosed:
			if r.ConsecutiveFailures >= b.settings.FailureThreshold {
				reason := fmt.Sprintf("%d consecutive failures", r.ConsecutiveFailures)
				trans = b.transition(r, StateOpen, now, reason, causeText)
			}
		case StateHalfOpen:
			trans = b.transition(r, StateOpen, now, "half-open trial failed", causeText)
			r.HalfOpenCalls = 0
		}
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", b.name, err)
	}
	b.emit(trans)
	return nil
}

// Snapshot returns a copy of the current record.
func (b *Breaker) Snapshot(ctx context.Context) (Record, error) {
	rec, err := b.store.View(ctx, b.name)
	if err != nil {
		return Record{}, fmt.Errorf("breaker %s: %w", b.name, err)
	}
	return rec, nil
}

// Reset closes the circuit and clears all counters.
func (b *Breaker) Reset(ctx context.Context) error {
	now := b.now()
	var trans *Transition

	_, err := b.store.Update(ctx, b.name, func(r *Record) {
		if r.State != StateClosed {
			trans = b.transition(r, StateClosed, now, "manual reset", "")
		}
		*r = NewRecord()
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", b.name, err)
	}
	b.emit(trans)
	return nil
}

func (b *Breaker) transition(r *Record, to State, now time.Time, reason, cause string) *Transition {
	trans := &Transition{
		Provider: b.name,
		From:     r.State,
		To:       to,
		At:       now,
		Reason:   reason,
		Cause:    cause,
	}
	r.State = to
	return trans
}

func (b *Breaker) emit(trans *Transition) {
	if trans == nil || b.onTransition == nil {
		return
	}
	b.onTransition(*trans)
}
