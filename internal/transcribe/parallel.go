package transcribe

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"medvoice/internal/apperrors"
	"medvoice/internal/metrics"
	"medvoice/internal/provider"
)

// Config tunes parallel transcription and consensus.
type Config struct {
	// MaxParallelStreams caps how many providers race one utterance.
	MaxParallelStreams int `yaml:"max_parallel_streams" json:"max_parallel_streams"`

	// EarlyTermination cancels outstanding calls once a result reaches
	// this confidence.
	EarlyTermination float64 `yaml:"early_termination_confidence" json:"early_termination_confidence"`

	// ConsensusThreshold is the minimum word overlap for agreement.
	ConsensusThreshold float64 `yaml:"consensus_threshold" json:"consensus_threshold"`

	// PreferCheaper adds a selection bonus for lower cost tiers.
	PreferCheaper bool `yaml:"prefer_cheaper" json:"prefer_cheaper"`

	// FastLatency is the elapsed time under which a result earns a speed
	// bonus when the best transcript is picked.
	FastLatency time.Duration `yaml:"fast_latency" json:"fast_latency"`
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelStreams: 3,
		EarlyTermination:   0.95,
		ConsensusThreshold: 0.8,
		FastLatency:        500 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxParallelStreams <= 0 {
		c.MaxParallelStreams = d.MaxParallelStreams
	}
	if c.EarlyTermination <= 0 || c.EarlyTermination > 1 {
		c.EarlyTermination = d.EarlyTermination
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		c.ConsensusThreshold = d.ConsensusThreshold
	}
	if c.FastLatency <= 0 {
		c.FastLatency = d.FastLatency
	}
	return c
}

// Options narrows the candidate pool for a single utterance.
type Options struct {
	// Preferred forces a provider into the raced set when it is
	// registered and its circuit admits the call.
	Preferred string

	// Filter restricts the candidate pool, e.g. to privacy-safe providers.
	Filter func(*provider.Entry) bool
}

// Attempt reports one raced provider that produced no transcript.
type Attempt struct {
	Provider string        `json:"provider"`
	Error    string        `json:"error,omitempty"`
	Timeout  bool          `json:"timeout,omitempty"`
	Canceled bool          `json:"canceled,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Result carries everything the race produced.
type Result struct {
	Best            *provider.Transcript  `json:"best"`
	All             []provider.Transcript `json:"all"`
	Consensus       Consensus             `json:"consensus"`
	Attempts        []Attempt             `json:"attempts,omitempty"`
	Skipped         []string              `json:"skipped,omitempty"`
	Raced           []string              `json:"raced"`
	EarlyTerminated bool                  `json:"early_terminated"`
	Elapsed         time.Duration         `json:"elapsed"`
}

// Selection scoring weights. Latency contributes at most latencyWeight for
// an instant provider and decays with the tracked average.
const (
	latencyWeight      = 0.5
	multiLanguageBonus = 0.3
	cheaperBonus       = 0.2
	fastResultBonus    = 0.05
	wordTimingsBonus   = 0.03
)

// Parallel races several transcription providers and reconciles their
// output into a consensus.
type Parallel struct {
	cfg      Config
	registry *provider.Registry
	metrics  *metrics.Metrics
	tracker  *metrics.Tracker
	logger   *zap.Logger
}

func NewParallel(cfg Config, registry *provider.Registry, m *metrics.Metrics, logger *zap.Logger) *Parallel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parallel{
		cfg:      cfg.normalized(),
		registry: registry,
		metrics:  m,
		tracker:  m.Tracker(),
		logger:   logger,
	}
}

// score ranks a candidate for selection. Higher is better.
func (p *Parallel) score(cfg provider.Config, hints int) float64 {
	s := 1.0 / float64(1+cfg.Priority)

	avg := p.tracker.AverageLatency(cfg.Name)
	ms := float64(avg.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	s += latencyWeight * 100.0 / (100.0 + ms)

	if hints > 1 && cfg.SupportsMultiLanguage {
		s += multiLanguageBonus
	}
	if p.cfg.PreferCheaper && cfg.CostTier > 0 {
		s += cheaperBonus / float64(cfg.CostTier)
	}

	weight := cfg.Weight
	if weight <= 0 {
		weight = 1.0
	}
	return s * weight
}

// selectCandidates picks up to MaxParallelStreams providers by score. A
// preferred provider is pinned to the front of the set when present.
func (p *Parallel) selectCandidates(req provider.TranscribeRequest, opts Options) []*provider.Entry {
	pool := p.registry.Select(provider.KindTranscription, opts.Filter)
	if len(pool) == 0 {
		return nil
	}

	hints := len(req.LanguageHints)
	sort.SliceStable(pool, func(i, j int) bool {
		return p.score(pool[i].Config, hints) > p.score(pool[j].Config, hints)
	})

	if opts.Preferred != "" {
		for i, e := range pool {
			if e.Config.Name == opts.Preferred && i > 0 {
				pool = append([]*provider.Entry{e}, append(pool[:i:i], pool[i+1:]...)...)
				break
			}
		}
	}

	if len(pool) > p.cfg.MaxParallelStreams {
		pool = pool[:p.cfg.MaxParallelStreams]
	}
	return pool
}

type raceOutcome struct {
	entry      *provider.Entry
	transcript *provider.Transcript
	err        error
	elapsed    time.Duration
}

// call runs one provider under its own timeout. Circuit accounting happens
// here so a cancellation from early termination never counts as a failure.
// recordCtx outlives the race context, keeping state writes alive while the
// losers are torn down.
func (p *Parallel) call(raceCtx, recordCtx context.Context, e *provider.Entry, req provider.TranscribeRequest, out chan<- raceOutcome) {
	name := e.Config.Name
	impl, ok := e.Transcriber()
	if !ok {
		out <- raceOutcome{entry: e, err: apperrors.Newf("provider %s does not transcribe", name)}
		return
	}

	callCtx, cancel := context.WithTimeout(raceCtx, e.Config.Timeout)
	defer cancel()

	start := time.Now()
	transcript, err := impl.Transcribe(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if raceCtx.Err() != nil {
			// The race was torn down around this call, the provider
			// did not fail on its own merits.
			out <- raceOutcome{entry: e, err: context.Canceled, elapsed: elapsed}
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Wrapf(apperrors.ErrProviderTimeout, "%s after %s", name, e.Config.Timeout)
		}
		if recErr := e.Breaker.RecordFailure(recordCtx, err); recErr != nil {
			p.logger.Warn("record failure", zap.String("provider", name), zap.Error(recErr))
		}
		out <- raceOutcome{entry: e, err: err, elapsed: elapsed}
		return
	}

	if recErr := e.Breaker.RecordSuccess(recordCtx); recErr != nil {
		p.logger.Warn("record success", zap.String("provider", name), zap.Error(recErr))
	}
	transcript.Provider = name
	transcript.Elapsed = elapsed
	out <- raceOutcome{entry: e, transcript: transcript, elapsed: elapsed}
}

// Transcribe races the selected providers and reconciles their results.
// Early termination cancels outstanding calls once a transcript reaches the
// configured confidence.
func (p *Parallel) Transcribe(ctx context.Context, req provider.TranscribeRequest, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{}

	candidates := p.selectCandidates(req, opts)
	if len(candidates) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrNoProviders, "%s", provider.KindTranscription)
	}

	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	outcomes := make(chan raceOutcome, len(candidates))
	launched := 0
	for _, e := range candidates {
		allowed, err := e.Breaker.Allow(ctx)
		if err != nil {
			p.logger.Warn("circuit state unavailable, admitting call",
				zap.String("provider", e.Config.Name), zap.Error(err))
		}
		if !allowed {
			res.Skipped = append(res.Skipped, e.Config.Name)
			p.metrics.ObserveCall(e.Config.Name, string(provider.KindTranscription), 0, metrics.OutcomeSkipped)
			continue
		}
		res.Raced = append(res.Raced, e.Config.Name)
		launched++
		go p.call(raceCtx, ctx, e, req, outcomes)
	}
	if launched == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrNoProviders, "%s", provider.KindTranscription)
	}

	var lastErr error
	for received := 0; received < launched; received++ {
		var out raceOutcome
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out = <-outcomes:
		}

		name := out.entry.Config.Name
		kind := string(provider.KindTranscription)
		switch {
		case out.transcript != nil:
			res.All = append(res.All, *out.transcript)
			p.metrics.ObserveCall(name, kind, out.elapsed, metrics.OutcomeSuccess)
			if !res.EarlyTerminated && out.transcript.Confidence >= p.cfg.EarlyTermination {
				res.EarlyTerminated = true
				cancelRace()
				p.logger.Debug("early termination",
					zap.String("provider", name),
					zap.Float64("confidence", out.transcript.Confidence))
			}
		case errors.Is(out.err, context.Canceled):
			res.Attempts = append(res.Attempts, Attempt{Provider: name, Canceled: true, Elapsed: out.elapsed})
			p.metrics.ObserveCall(name, kind, out.elapsed, metrics.OutcomeCanceled)
		case errors.Is(out.err, apperrors.ErrProviderTimeout):
			lastErr = out.err
			res.Attempts = append(res.Attempts, Attempt{Provider: name, Error: out.err.Error(), Timeout: true, Elapsed: out.elapsed})
			p.metrics.ObserveCall(name, kind, out.elapsed, metrics.OutcomeTimeout)
			p.logger.Warn("transcription timed out", zap.String("provider", name), zap.Duration("elapsed", out.elapsed))
		default:
			lastErr = out.err
			res.Attempts = append(res.Attempts, Attempt{Provider: name, Error: out.err.Error(), Elapsed: out.elapsed})
			p.metrics.ObserveCall(name, kind, out.elapsed, metrics.OutcomeFailure)
			p.logger.Warn("transcription failed", zap.String("provider", name), zap.Error(out.err))
		}
	}

	res.Elapsed = time.Since(start)
	if len(res.All) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if lastErr == nil {
			return nil, apperrors.Wrapf(apperrors.ErrNoProviders, "%s", provider.KindTranscription)
		}
		return nil, apperrors.Wrap(lastErr, "all providers failed")
	}

	res.Consensus = computeConsensus(res.All, p.cfg.ConsensusThreshold)
	res.Best = p.pickBest(res.All)
	return res, nil
}

// pickBest favors confidence, with small bonuses for fast results and word
// timings. Ties keep the earliest arrival.
func (p *Parallel) pickBest(all []provider.Transcript) *provider.Transcript {
	best := 0
	bestScore := -1.0
	for i, t := range all {
		score := t.Confidence
		if t.Elapsed > 0 && t.Elapsed < p.cfg.FastLatency {
			score += fastResultBonus
		}
		if len(t.Words) > 0 {
			score += wordTimingsBonus
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	pick := all[best]
	return &pick
}
