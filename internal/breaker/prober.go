package breaker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Target is one provider the prober watches.
type Target struct {
	Name    string
	Breaker *Breaker
	Ping    func(ctx context.Context) error
	Timeout time.Duration
}

type proberTarget struct {
	Target
	bo     *backoff.ExponentialBackOff
	nextAt time.Time
}

// Prober runs the background health loop. Every interval it pings each
// target through its breaker, so a dead provider opens its circuit without a
// live turn paying for the discovery, and an open circuit is probed for
// recovery as soon as its timeout elapses. Failed probes back off
// exponentially per target.
type Prober struct {
	interval time.Duration
	targets  []*proberTarget
	logger   *zap.Logger
}

// NewProber creates a prober ticking at the given interval.
func NewProber(interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		interval: interval,
		logger:   logger,
	}
}

// Add registers a target. Not safe to call after Run has started.
func (p *Prober) Add(t Target) {
	if t.Timeout <= 0 {
		t.Timeout = 3 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.interval
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	p.targets = append(p.targets, &proberTarget{Target: t, bo: bo})
}

// Run blocks until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	if len(p.targets) == 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("health prober started",
		zap.Int("targets", len(p.targets)),
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		case now := <-ticker.C:
			for _, t := range p.targets {
				p.probe(ctx, t, now)
			}
		}
	}
}

func (p *Prober) probe(ctx context.Context, t *proberTarget, now time.Time) {
	if now.Before(t.nextAt) {
		return
	}

	allowed, err := t.Breaker.Allow(ctx)
	if err != nil {
		p.logger.Warn("breaker state unavailable", zap.String("provider", t.Name), zap.Error(err))
	}
	if !allowed {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	pingErr := t.Ping(pingCtx)
	cancel()

	if pingErr != nil {
		if err := t.Breaker.RecordFailure(ctx, pingErr); err != nil {
			p.logger.Warn("record probe failure", zap.String("provider", t.Name), zap.Error(err))
		}
		t.nextAt = now.Add(t.bo.NextBackOff())
		p.logger.Debug("probe failed",
			zap.String("provider", t.Name),
			zap.Time("next_probe", t.nextAt),
			zap.Error(pingErr))
		return
	}

	if err := t.Breaker.RecordSuccess(ctx); err != nil {
		p.logger.Warn("record probe success", zap.String("provider", t.Name), zap.Error(err))
	}
	t.bo.Reset()
	t.nextAt = time.Time{}
}
