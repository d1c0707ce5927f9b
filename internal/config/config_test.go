package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoice/internal/privacy"
	"medvoice/internal/provider"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOrDefault_EmptyPathIsValidDefaults(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)

	assert.Equal(t, "medvoice", cfg.Service.Name)
	assert.Equal(t, "development", cfg.Service.Environment)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 700*time.Millisecond, cfg.Pipeline.Budgets.Total)
	assert.Equal(t, privacy.PolicyPHIAware, cfg.Privacy.Policy)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, ClipsStatic, cfg.Clips.Backend)
	assert.True(t, cfg.Session.GracefulDegradation)
	assert.Equal(t, 15*time.Second, cfg.Breaker.ProbeInterval)
	assert.Empty(t, cfg.Providers)
}

func TestLoadOrDefault_MissingExplicitPathFails(t *testing.T) {
	_, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	t.Setenv("MEDVOICE_TEST_KEY", "sk-test-123")

	path := writeFile(t, "medvoice.yaml", `
service:
  name: medvoice-dev
http:
  addr: ":9090"
pipeline:
  budgets:
    total: 900ms
    retrieval: 250ms
  working_language: en
privacy:
  policy: hybrid
  safe_provider: local-whisper
breaker:
  failure_threshold: 7
store:
  backend: redis
  redis:
    addr: redis.internal:6379
session:
  graceful_degradation: false
providers:
  - name: cloud-asr
    kind: transcription
    adapter: openai
    priority: 0
    timeout: 2s
    settings:
      api_key: ${MEDVOICE_TEST_KEY}
  - name: local-whisper
    kind: transcription
    adapter: openai
    priority: 1
    privacy_safe: true
    failure_threshold: 3
    settings:
      base_url: http://localhost:9000/v1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "medvoice-dev", cfg.Service.Name)
	assert.Equal(t, "development", cfg.Service.Environment)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)

	assert.Equal(t, 900*time.Millisecond, cfg.Pipeline.Budgets.Total)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.Budgets.Retrieval)
	assert.Equal(t, 200*time.Millisecond, cfg.Pipeline.Budgets.Transcription)

	assert.Equal(t, privacy.PolicyHybrid, cfg.Privacy.Policy)
	assert.Equal(t, "local-whisper", cfg.Privacy.SafeProvider)

	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	assert.False(t, cfg.Session.GracefulDegradation)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-test-123", cfg.Providers[0].Settings["api_key"])
	assert.Equal(t, provider.KindTranscription, cfg.Providers[0].Kind)
	assert.Equal(t, 2*time.Second, cfg.Providers[0].Timeout)
	assert.True(t, cfg.Providers[1].PrivacySafe)

	// Service-wide thresholds reach providers without their own; an explicit
	// per-provider value wins.
	assert.Equal(t, 7, cfg.Providers[0].FailureThreshold)
	assert.Equal(t, 3, cfg.Providers[1].FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Providers[0].RecoveryTimeout)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "broken.yaml", "service: [not: a mapping\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.normalize()
		cfg.Providers = []provider.Config{
			{Name: "dev", Kind: provider.KindGeneration, Adapter: "fake"},
		}
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid_config_passes",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown_environment",
			mutate:  func(c *Config) { c.Service.Environment = "staging" },
			wantErr: "Environment",
		},
		{
			name:    "unknown_store_backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "Backend",
		},
		{
			name:    "unknown_privacy_policy",
			mutate:  func(c *Config) { c.Privacy.Policy = "paranoid" },
			wantErr: "privacy policy",
		},
		{
			name:    "dir_clips_without_dir",
			mutate:  func(c *Config) { c.Clips.Backend = ClipsDir },
			wantErr: "clips.dir",
		},
		{
			name: "minio_clips_without_bucket",
			mutate: func(c *Config) {
				c.Clips.Backend = ClipsMinio
				c.Clips.Minio.Endpoint = "localhost:9000"
			},
			wantErr: "minio",
		},
		{
			name: "provider_without_adapter",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, provider.Config{
					Name: "half", Kind: provider.KindGeneration,
				})
			},
			wantErr: "providers[1]",
		},
		{
			name: "duplicate_provider",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, provider.Config{
					Name: "dev", Kind: provider.KindGeneration, Adapter: "fake",
				})
			},
			wantErr: "duplicate provider",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "MEDVOICE_TEST_ENV_VALUE"
	t.Setenv(key, "")
	os.Unsetenv(key)

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(key+"=from-file\n"), 0o600))

	loaded, err := LoadEnv(envFile)
	require.NoError(t, err)
	assert.Equal(t, envFile, loaded)
	assert.Equal(t, "from-file", os.Getenv(key))

	loaded, err = LoadEnv(filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestProjectRoot(t *testing.T) {
	root, err := ProjectRoot()
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, statErr)
}
