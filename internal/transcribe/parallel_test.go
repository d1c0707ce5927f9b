package transcribe

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medvoice/internal/apperrors"
	"medvoice/internal/breaker"
	"medvoice/internal/metrics"
	"medvoice/internal/provider"
	"medvoice/internal/testutil"
)

func newTestParallel(t *testing.T, cfg Config) (*Parallel, *provider.Registry, *breaker.MemoryStore, *metrics.Metrics) {
	t.Helper()
	reg, store := testutil.NewRegistry(nil)
	m := metrics.New(prometheus.NewRegistry())
	return NewParallel(cfg, reg, m, zap.NewNop()), reg, store, m
}

func registerTranscriber(t *testing.T, reg *provider.Registry, name string, priority int, fake *testutil.FakeProvider, opts ...func(*provider.Config)) {
	t.Helper()
	cfg := provider.Config{
		Name:     name,
		Kind:     provider.KindTranscription,
		Adapter:  "fake",
		Priority: priority,
		Timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(t, reg.Register(cfg, fake))
}

func fixedTranscript(text string, confidence float64) func(context.Context, provider.TranscribeRequest) (*provider.Transcript, error) {
	return func(context.Context, provider.TranscribeRequest) (*provider.Transcript, error) {
		return &provider.Transcript{Text: text, Language: "en", Confidence: confidence}, nil
	}
}

func TestParallel_RacesUpToMaxStreams(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 3})

	fakes := make([]*testutil.FakeProvider, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		fakes[i] = testutil.NewFakeProvider(name)
		fakes[i].TranscribeFunc = fixedTranscript("patient reports mild headache", 0.8)
		registerTranscriber(t, reg, name, i, fakes[i])
	}

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.NoError(t, err)

	assert.Len(t, res.Raced, 3)
	assert.Len(t, res.All, 3)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, res.Raced)
	assert.Equal(t, 0, fakes[3].Calls("Transcribe"))
	assert.True(t, res.Consensus.Reached)
	assert.InDelta(t, 1.0, res.Consensus.Confidence, 1e-9)
}

func TestParallel_EarlyTerminationCancelsSlowProviders(t *testing.T) {
	p, reg, store, _ := newTestParallel(t, Config{MaxParallelStreams: 2, EarlyTermination: 0.95})

	fast := testutil.NewFakeProvider("fast")
	fast.TranscribeFunc = fixedTranscript("patient reports mild headache", 0.97)

	slow := testutil.NewFakeProvider("slow")
	slow.TranscribeFunc = func(ctx context.Context, _ provider.TranscribeRequest) (*provider.Transcript, error) {
		select {
		case <-time.After(5 * time.Second):
			return &provider.Transcript{Text: "late", Confidence: 0.5}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	registerTranscriber(t, reg, "fast", 0, fast)
	registerTranscriber(t, reg, "slow", 1, slow)

	start := time.Now()
	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.NoError(t, err)

	assert.True(t, res.EarlyTerminated)
	assert.Less(t, time.Since(start), time.Second, "must not wait out the slow provider")
	require.NotNil(t, res.Best)
	assert.Equal(t, "fast", res.Best.Provider)

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "slow", res.Attempts[0].Provider)
	assert.True(t, res.Attempts[0].Canceled)

	// A canceled candidate records neither success nor failure.
	rec, err := store.View(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.TotalCalls)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
}

func TestParallel_DisjointResultsYieldNoConsensus(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 2})

	a := testutil.NewFakeProvider("a")
	a.TranscribeFunc = fixedTranscript("alpha bravo", 0.6)
	b := testutil.NewFakeProvider("b")
	b.TranscribeFunc = fixedTranscript("charlie delta", 0.7)

	registerTranscriber(t, reg, "a", 0, a)
	registerTranscriber(t, reg, "b", 1, b)

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.NoError(t, err)

	assert.False(t, res.Consensus.Reached)
	assert.Zero(t, res.Consensus.Overlap)
	require.NotNil(t, res.Best)
	assert.Equal(t, "b", res.Best.Provider)
}

func TestParallel_SkipsOpenCircuitSilently(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 2})

	healthy := testutil.NewFakeProvider("healthy")
	broken := testutil.NewFakeProvider("broken")

	registerTranscriber(t, reg, "healthy", 0, healthy)
	registerTranscriber(t, reg, "broken", 1, broken, func(cfg *provider.Config) {
		cfg.FailureThreshold = 2
	})

	entry, ok := reg.Get(provider.KindTranscription, "broken")
	require.True(t, ok)
	require.NoError(t, entry.Breaker.RecordFailure(context.Background(), apperrors.New("boom")))
	require.NoError(t, entry.Breaker.RecordFailure(context.Background(), apperrors.New("boom")))

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"broken"}, res.Skipped)
	assert.Equal(t, []string{"healthy"}, res.Raced)
	assert.Equal(t, 0, broken.Calls("Transcribe"))
	assert.Empty(t, res.Attempts)
}

func TestParallel_AllProvidersFailed(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 2})

	for _, name := range []string{"a", "b"} {
		fake := testutil.NewFakeProvider(name)
		fake.TranscribeFunc = func(context.Context, provider.TranscribeRequest) (*provider.Transcript, error) {
			return nil, apperrors.New("asr backend unavailable")
		}
		registerTranscriber(t, reg, name, 0, fake)
	}

	_, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAllProvidersFailed)
}

func TestParallel_NoProviders(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, reg *provider.Registry)
	}{
		{
			name:  "empty_registry",
			setup: func(*testing.T, *provider.Registry) {},
		},
		{
			name: "every_circuit_open",
			setup: func(t *testing.T, reg *provider.Registry) {
				fake := testutil.NewFakeProvider("only")
				registerTranscriber(t, reg, "only", 0, fake, func(cfg *provider.Config) {
					cfg.FailureThreshold = 1
				})
				entry, ok := reg.Get(provider.KindTranscription, "only")
				require.True(t, ok)
				require.NoError(t, entry.Breaker.RecordFailure(context.Background(), apperrors.New("boom")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, reg, _, _ := newTestParallel(t, Config{})
			tt.setup(t, reg)
			_, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
			assert.ErrorIs(t, err, apperrors.ErrNoProviders)
		})
	}
}

func TestParallel_TimeoutRecordsBreakerFailure(t *testing.T) {
	p, reg, store, _ := newTestParallel(t, Config{MaxParallelStreams: 2})

	stuck := testutil.NewFakeProvider("stuck")
	stuck.TranscribeFunc = func(ctx context.Context, _ provider.TranscribeRequest) (*provider.Transcript, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ok := testutil.NewFakeProvider("ok")

	registerTranscriber(t, reg, "stuck", 0, stuck, func(cfg *provider.Config) {
		cfg.Timeout = 30 * time.Millisecond
	})
	registerTranscriber(t, reg, "ok", 1, ok)

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{})
	require.NoError(t, err)

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "stuck", res.Attempts[0].Provider)
	assert.True(t, res.Attempts[0].Timeout)

	rec, err := store.View(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
}

func TestParallel_PreferredIsPinnedIntoRace(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 1})

	primary := testutil.NewFakeProvider("primary")
	secondary := testutil.NewFakeProvider("secondary")
	registerTranscriber(t, reg, "primary", 0, primary)
	registerTranscriber(t, reg, "secondary", 1, secondary)

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{Preferred: "secondary"})
	require.NoError(t, err)

	assert.Equal(t, []string{"secondary"}, res.Raced)
	assert.Equal(t, 0, primary.Calls("Transcribe"))
}

func TestParallel_FilterRestrictsPool(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 3})

	local := testutil.NewFakeProvider("local")
	cloud := testutil.NewFakeProvider("cloud")
	registerTranscriber(t, reg, "local", 1, local, func(cfg *provider.Config) {
		cfg.PrivacySafe = true
	})
	registerTranscriber(t, reg, "cloud", 0, cloud)

	res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{}, Options{
		Filter: func(e *provider.Entry) bool { return e.Config.PrivacySafe },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"local"}, res.Raced)
	assert.Equal(t, 0, cloud.Calls("Transcribe"))
}

func TestParallel_SelectionScoring(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		setup func(t *testing.T, reg *provider.Registry, m *metrics.Metrics) (expect string)
		hints []string
	}{
		{
			name: "tracked_latency_outranks_equal_priority",
			cfg:  Config{MaxParallelStreams: 1},
			setup: func(t *testing.T, reg *provider.Registry, m *metrics.Metrics) string {
				registerTranscriber(t, reg, "sluggish", 0, testutil.NewFakeProvider("sluggish"))
				registerTranscriber(t, reg, "snappy", 0, testutil.NewFakeProvider("snappy"))
				m.Tracker().Observe("sluggish", 900*time.Millisecond, true)
				m.Tracker().Observe("snappy", 50*time.Millisecond, true)
				return "snappy"
			},
		},
		{
			name: "multi_language_bonus_applies_with_several_hints",
			cfg:  Config{MaxParallelStreams: 1},
			setup: func(t *testing.T, reg *provider.Registry, _ *metrics.Metrics) string {
				registerTranscriber(t, reg, "mono", 0, testutil.NewFakeProvider("mono"))
				registerTranscriber(t, reg, "poly", 0, testutil.NewFakeProvider("poly"), func(cfg *provider.Config) {
					cfg.SupportsMultiLanguage = true
				})
				return "poly"
			},
			hints: []string{"en", "es"},
		},
		{
			name: "prefer_cheaper_favors_lower_cost_tier",
			cfg:  Config{MaxParallelStreams: 1, PreferCheaper: true},
			setup: func(t *testing.T, reg *provider.Registry, _ *metrics.Metrics) string {
				registerTranscriber(t, reg, "premium", 0, testutil.NewFakeProvider("premium"), func(cfg *provider.Config) {
					cfg.CostTier = 3
				})
				registerTranscriber(t, reg, "budget", 0, testutil.NewFakeProvider("budget"), func(cfg *provider.Config) {
					cfg.CostTier = 1
				})
				return "budget"
			},
		},
		{
			name: "weight_multiplies_the_score",
			cfg:  Config{MaxParallelStreams: 1},
			setup: func(t *testing.T, reg *provider.Registry, _ *metrics.Metrics) string {
				registerTranscriber(t, reg, "plain", 0, testutil.NewFakeProvider("plain"))
				registerTranscriber(t, reg, "boosted", 1, testutil.NewFakeProvider("boosted"), func(cfg *provider.Config) {
					cfg.Weight = 2.0
				})
				return "boosted"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, reg, _, m := newTestParallel(t, tt.cfg)
			expect := tt.setup(t, reg, m)

			res, err := p.Transcribe(context.Background(), provider.TranscribeRequest{LanguageHints: tt.hints}, Options{})
			require.NoError(t, err)
			assert.Equal(t, []string{expect}, res.Raced)
		})
	}
}

func TestParallel_CallerCancellation(t *testing.T) {
	p, reg, _, _ := newTestParallel(t, Config{MaxParallelStreams: 1})

	stuck := testutil.NewFakeProvider("stuck")
	stuck.TranscribeFunc = func(ctx context.Context, _ provider.TranscribeRequest) (*provider.Transcript, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	registerTranscriber(t, reg, "stuck", 0, stuck)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Transcribe(ctx, provider.TranscribeRequest{}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
