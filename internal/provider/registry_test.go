package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoice/internal/breaker"
	"medvoice/internal/provider"
	"medvoice/internal/testutil"
)

func transcriptionConfig(name string, priority int) provider.Config {
	return provider.Config{
		Name:     name,
		Kind:     provider.KindTranscription,
		Adapter:  "fake",
		Priority: priority,
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     provider.Config
		impl    any
		wantErr string
	}{
		{
			name:    "missing_name",
			cfg:     provider.Config{Kind: provider.KindTranscription, Adapter: "fake"},
			impl:    testutil.NewFakeProvider("x"),
			wantErr: "provider name is required",
		},
		{
			name:    "missing_kind",
			cfg:     provider.Config{Name: "x", Adapter: "fake"},
			impl:    testutil.NewFakeProvider("x"),
			wantErr: "provider kind is required",
		},
		{
			name:    "unknown_kind",
			cfg:     provider.Config{Name: "x", Kind: "teleportation", Adapter: "fake"},
			impl:    testutil.NewFakeProvider("x"),
			wantErr: "provider kind is invalid",
		},
		{
			name:    "missing_adapter",
			cfg:     provider.Config{Name: "x", Kind: provider.KindTranscription},
			impl:    testutil.NewFakeProvider("x"),
			wantErr: "provider adapter is required",
		},
		{
			name:    "negative_priority",
			cfg:     provider.Config{Name: "x", Kind: provider.KindTranscription, Adapter: "fake", Priority: -1},
			impl:    testutil.NewFakeProvider("x"),
			wantErr: "must not be negative",
		},
		{
			name:    "nil_implementation",
			cfg:     transcriptionConfig("x", 0),
			impl:    nil,
			wantErr: "provider implementation is required",
		},
		{
			name:    "implementation_lacks_capability",
			cfg:     transcriptionConfig("x", 0),
			impl:    struct{}{},
			wantErr: "does not implement transcription",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := testutil.NewRegistry(nil)
			err := reg.Register(tt.cfg, tt.impl)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, reg.All())
		})
	}
}

func TestRegistry_DuplicateNameAndKindRejected(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)

	require.NoError(t, reg.Register(transcriptionConfig("whisper", 0), testutil.NewFakeProvider("whisper")))

	err := reg.Register(transcriptionConfig("whisper", 1), testutil.NewFakeProvider("whisper"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRegistry_SameNameAcrossKinds(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)
	impl := testutil.NewFakeProvider("openai")

	require.NoError(t, reg.Register(transcriptionConfig("openai", 0), impl))
	require.NoError(t, reg.Register(provider.Config{
		Name:    "openai",
		Kind:    provider.KindGeneration,
		Adapter: "fake",
	}, impl))

	found := reg.Find("openai")
	require.Len(t, found, 2)
	assert.Equal(t, provider.KindTranscription, found[0].Config.Kind)
	assert.Equal(t, provider.KindGeneration, found[1].Config.Kind)
}

func TestRegistry_ByKindOrdersByPriority(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)

	require.NoError(t, reg.Register(transcriptionConfig("cloud", 2), testutil.NewFakeProvider("cloud")))
	require.NoError(t, reg.Register(transcriptionConfig("local", 1), testutil.NewFakeProvider("local")))
	require.NoError(t, reg.Register(transcriptionConfig("backup", 1), testutil.NewFakeProvider("backup")))

	// Ties break by registration order.
	assert.Equal(t, []string{"local", "backup", "cloud"}, reg.Names(provider.KindTranscription))
	assert.Empty(t, reg.Names(provider.KindSynthesis))
}

func TestRegistry_SelectFilters(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)

	onprem := transcriptionConfig("onprem", 1)
	onprem.PrivacySafe = true
	require.NoError(t, reg.Register(onprem, testutil.NewFakeProvider("onprem")))
	require.NoError(t, reg.Register(transcriptionConfig("cloud", 0), testutil.NewFakeProvider("cloud")))

	all := reg.Select(provider.KindTranscription, nil)
	require.Len(t, all, 2)
	assert.Equal(t, "cloud", all[0].Config.Name)

	safe := reg.Select(provider.KindTranscription, func(e *provider.Entry) bool {
		return e.Config.PrivacySafe
	})
	require.Len(t, safe, 1)
	assert.Equal(t, "onprem", safe[0].Config.Name)
}

func TestRegistry_GetAndAll(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)
	impl := testutil.NewFakeProvider("openai")

	require.NoError(t, reg.Register(provider.Config{
		Name:    "openai",
		Kind:    provider.KindGeneration,
		Adapter: "fake",
	}, impl))
	require.NoError(t, reg.Register(transcriptionConfig("whisper", 0), testutil.NewFakeProvider("whisper")))

	e, ok := reg.Get(provider.KindGeneration, "openai")
	require.True(t, ok)
	assert.Equal(t, "openai", e.Config.Name)
	gen, ok := e.Generator()
	require.True(t, ok)
	assert.NotNil(t, gen)
	_, ok = e.Synthesizer()
	assert.True(t, ok, "fake implements every contract")

	_, ok = reg.Get(provider.KindGeneration, "whisper")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "openai", all[0].Config.Name, "registration order")
	assert.Equal(t, "whisper", all[1].Config.Name)
}

func TestRegistry_RegisterNormalizesThresholds(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)

	require.NoError(t, reg.Register(transcriptionConfig("whisper", 0), testutil.NewFakeProvider("whisper")))

	e, ok := reg.Get(provider.KindTranscription, "whisper")
	require.True(t, ok)
	assert.Equal(t, provider.DefaultTimeout, e.Config.Timeout)
	assert.Equal(t, provider.DefaultFailureThreshold, e.Config.FailureThreshold)
	assert.Equal(t, provider.DefaultRecoveryTimeout, e.Config.RecoveryTimeout)
	assert.Equal(t, provider.DefaultHalfOpenMaxCalls, e.Config.HalfOpenMaxCalls)
	assert.Equal(t, 1.0, e.Config.Weight)
}

func TestRegistry_SnapshotReportsCircuitState(t *testing.T) {
	reg, _ := testutil.NewRegistry(nil)
	ctx := context.Background()

	flaky := transcriptionConfig("flaky", 1)
	flaky.FailureThreshold = 1
	require.NoError(t, reg.Register(flaky, testutil.NewFakeProvider("flaky")))

	steady := transcriptionConfig("steady", 0)
	steady.PrivacySafe = true
	require.NoError(t, reg.Register(steady, testutil.NewFakeProvider("steady")))

	e, ok := reg.Get(provider.KindTranscription, "flaky")
	require.True(t, ok)
	require.NoError(t, e.Breaker.RecordFailure(ctx, errors.New("upstream 503")))

	statuses := reg.Snapshot(ctx)
	require.Len(t, statuses, 2)

	assert.Equal(t, "flaky", statuses[0].Name)
	assert.Equal(t, provider.KindTranscription, statuses[0].Kind)
	assert.Equal(t, "fake", statuses[0].Adapter)
	assert.Equal(t, breaker.StateOpen, statuses[0].Circuit.State)
	assert.Empty(t, statuses[0].CircuitError)

	assert.Equal(t, "steady", statuses[1].Name)
	assert.True(t, statuses[1].PrivacySafe)
	assert.Equal(t, breaker.StateClosed, statuses[1].Circuit.State)
}

type failingStore struct{}

func (failingStore) Update(context.Context, string, func(*breaker.Record)) (breaker.Record, error) {
	return breaker.Record{}, errors.New("store unavailable")
}

func (failingStore) View(context.Context, string) (breaker.Record, error) {
	return breaker.Record{}, errors.New("store unavailable")
}

func (failingStore) Names(context.Context) ([]string, error) {
	return nil, errors.New("store unavailable")
}

func TestRegistry_SnapshotSurvivesStoreOutage(t *testing.T) {
	reg := provider.NewRegistry(func(cfg provider.Config) *breaker.Breaker {
		return breaker.New(cfg.Name, cfg.BreakerSettings(), failingStore{})
	})
	require.NoError(t, reg.Register(transcriptionConfig("whisper", 0), testutil.NewFakeProvider("whisper")))

	statuses := reg.Snapshot(context.Background())
	require.Len(t, statuses, 1)
	assert.Contains(t, statuses[0].CircuitError, "store unavailable")
}
