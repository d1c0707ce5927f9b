package fallback

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"medvoice/internal/apperrors"
	"medvoice/internal/metrics"
	"medvoice/internal/provider"
)

// Attempt records one failed provider call in a fallback walk.
type Attempt struct {
	Provider string        `json:"provider"`
	Error    string        `json:"error"`
	Timeout  bool          `json:"timeout"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Outcome summarizes a fallback walk: who won, who was tried, who was
// silently skipped because their circuit was open.
type Outcome struct {
	Kind         provider.Kind `json:"kind"`
	Provider     string        `json:"provider,omitempty"`
	Attempts     []Attempt     `json:"attempts,omitempty"`
	Skipped      []string      `json:"skipped,omitempty"`
	UsedFallback bool          `json:"used_fallback"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Options tunes a single fallback walk.
type Options struct {
	// Preferred is tried before the priority order. Unknown names are
	// ignored.
	Preferred string

	// Filter restricts the candidate pool, e.g. to privacy-safe providers.
	Filter func(*provider.Entry) bool

	// PerCallTimeout overrides each candidate's configured timeout.
	PerCallTimeout time.Duration
}

// Executor walks a kind's providers in priority order until one succeeds.
// Open circuits are skipped silently; failures count against the failing
// provider's breaker and the walk continues.
type Executor struct {
	registry *provider.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *provider.Registry, m *metrics.Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		registry: registry,
		metrics:  m,
		logger:   logger,
	}
}

// Registry exposes the underlying registry for candidate inspection.
func (ex *Executor) Registry() *provider.Registry { return ex.registry }

// Candidates builds the ordered candidate list for a walk: the preferred
// provider first when present, then the remaining pool in priority order.
func (ex *Executor) Candidates(kind provider.Kind, opts Options) []*provider.Entry {
	pool := ex.registry.Select(kind, opts.Filter)
	if opts.Preferred == "" {
		return pool
	}

	out := make([]*provider.Entry, 0, len(pool))
	for _, e := range pool {
		if e.Config.Name == opts.Preferred {
			out = append(out, e)
			break
		}
	}
	for _, e := range pool {
		if e.Config.Name != opts.Preferred {
			out = append(out, e)
		}
	}
	return out
}

// Run executes call against candidates of the kind until one succeeds.
//
// Every skip and failed attempt is reported on the Outcome. When no
// candidate was callable the error wraps ErrNoProviders; when every callable
// candidate failed it wraps ErrAllProvidersFailed and the last cause.
func Run[T any](ctx context.Context, ex *Executor, kind provider.Kind, opts Options, call func(ctx context.Context, e *provider.Entry) (T, error)) (T, *Outcome, error) {
	var zero T
	started := time.Now()
	outcome := &Outcome{Kind: kind}
	candidates := ex.Candidates(kind, opts)

	var lastErr error
	for i, entry := range candidates {
		name := entry.Config.Name

		if err := ctx.Err(); err != nil {
			outcome.Elapsed = time.Since(started)
			return zero, outcome, err
		}

		allowed, err := entry.Breaker.Allow(ctx)
		if err != nil {
			ex.logger.Warn("breaker state unavailable, allowing call",
				zap.String("provider", name), zap.Error(err))
		}
		if !allowed {
			outcome.Skipped = append(outcome.Skipped, name)
			ex.metrics.ObserveCall(name, string(kind), 0, metrics.OutcomeSkipped)
			continue
		}

		timeout := opts.PerCallTimeout
		if timeout <= 0 {
			timeout = entry.Config.Timeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		callStarted := time.Now()
		result, callErr := call(callCtx, entry)
		elapsed := time.Since(callStarted)
		cancel()

		if callErr == nil {
			if recErr := entry.Breaker.RecordSuccess(ctx); recErr != nil {
				ex.logger.Warn("record success", zap.String("provider", name), zap.Error(recErr))
			}
			ex.metrics.ObserveCall(name, string(kind), elapsed, metrics.OutcomeSuccess)
			outcome.Provider = name
			outcome.UsedFallback = i > 0
			outcome.Elapsed = time.Since(started)
			if outcome.UsedFallback {
				ex.metrics.FallbackUsed(string(kind))
				ex.logger.Info("fallback provider served stage",
					zap.String("kind", string(kind)),
					zap.String("provider", name),
					zap.Int("attempts", len(outcome.Attempts)),
					zap.Strings("skipped", outcome.Skipped))
			}
			return result, outcome, nil
		}

		// The turn itself ran out of time or was canceled; stop walking.
		if ctx.Err() != nil {
			outcome.Elapsed = time.Since(started)
			return zero, outcome, ctx.Err()
		}

		isTimeout := errors.Is(callErr, context.DeadlineExceeded)
		if isTimeout {
			callErr = apperrors.Wrapf(apperrors.ErrProviderTimeout, "%s after %s", name, timeout)
			ex.metrics.ObserveCall(name, string(kind), elapsed, metrics.OutcomeTimeout)
		} else {
			ex.metrics.ObserveCall(name, string(kind), elapsed, metrics.OutcomeFailure)
		}

		if recErr := entry.Breaker.RecordFailure(ctx, callErr); recErr != nil {
			ex.logger.Warn("record failure", zap.String("provider", name), zap.Error(recErr))
		}
		outcome.Attempts = append(outcome.Attempts, Attempt{
			Provider: name,
			Error:    callErr.Error(),
			Timeout:  isTimeout,
			Elapsed:  elapsed,
		})
		lastErr = callErr

		ex.logger.Warn("provider call failed, trying next candidate",
			zap.String("kind", string(kind)),
			zap.String("provider", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(callErr))
	}

	outcome.Elapsed = time.Since(started)
	if lastErr == nil {
		return zero, outcome, apperrors.Wrapf(apperrors.ErrNoProviders, "%s", kind)
	}
	return zero, outcome, apperrors.Wrap(lastErr, "all providers failed")
}
