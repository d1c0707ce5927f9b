// Package config loads and validates the service configuration: a YAML file
// with environment expansion, layered over typed defaults.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"medvoice/internal/apperrors"
	"medvoice/internal/breaker"
	"medvoice/internal/clips"
	"medvoice/internal/pipeline"
	"medvoice/internal/privacy"
	"medvoice/internal/provider"
	"medvoice/internal/session"
	"medvoice/internal/transcribe"
)

// Store and clip backend names.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	ClipsStatic = "static"
	ClipsDir    = "dir"
	ClipsMinio  = "minio"
)

// Config is the root service configuration.
type Config struct {
	Service    ServiceConfig        `yaml:"service" json:"service"`
	Log        LogConfig            `yaml:"log" json:"log"`
	HTTP       HTTPConfig           `yaml:"http" json:"http"`
	Pipeline   pipeline.Config      `yaml:"pipeline" json:"pipeline"`
	Transcribe transcribe.Config    `yaml:"transcribe" json:"transcribe"`
	Privacy    privacy.RouterConfig `yaml:"privacy" json:"privacy"`
	Breaker    BreakerConfig        `yaml:"breaker" json:"breaker"`
	Store      StoreConfig          `yaml:"store" json:"store"`
	Clips      ClipsConfig          `yaml:"clips" json:"clips"`
	Session    session.Config       `yaml:"session" json:"session"`
	Providers  []provider.Config    `yaml:"providers" json:"providers"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Environment string `yaml:"environment" json:"environment" validate:"required,oneof=development production"`
}

type LogConfig struct {
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development" json:"development"`

	// Level overrides the profile default ("debug", "info", "warn", "error").
	Level string `yaml:"level" json:"level,omitempty"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// BreakerConfig holds the service-wide circuit thresholds plus the health
// probe cadence. Per-provider overrides live in each provider entry.
type BreakerConfig struct {
	breaker.Settings `yaml:",inline"`

	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
}

// StoreConfig selects where circuit breaker records live. The memory backend
// is per-process; redis shares circuit state across instances.
type StoreConfig struct {
	Backend string      `yaml:"backend" json:"backend" validate:"required,oneof=memory redis"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// ClipsConfig selects the source of pre-rendered fallback audio.
type ClipsConfig struct {
	Backend string            `yaml:"backend" json:"backend" validate:"required,oneof=static dir minio"`
	Dir     string            `yaml:"dir" json:"dir"`
	Minio   clips.MinioConfig `yaml:"minio" json:"minio"`
}

var validate = validator.New()

// Default returns the full default configuration. Every tunable has a
// usable zero-config value; providers must be supplied.
func Default() *Config {
	return &Config{
		Service:    ServiceConfig{Name: "medvoice", Environment: "development"},
		Log:        LogConfig{Development: true},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Pipeline:   pipeline.DefaultConfig(),
		Transcribe: transcribe.DefaultConfig(),
		Privacy:    privacy.DefaultRouterConfig(),
		Breaker:    BreakerConfig{Settings: breaker.DefaultSettings()},
		Store:      StoreConfig{Backend: StoreMemory},
		Clips:      ClipsConfig{Backend: ClipsStatic},
		Session:    session.DefaultConfig(),
	}
}

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, overlays it on the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "read config")
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, apperrors.Wrap(err, "parse config")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set, and returns the validated
// defaults when it is empty. A path that does not exist is an error.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.normalize()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) normalize() {
	if c.Service.Name == "" {
		c.Service.Name = "medvoice"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "development"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Breaker.ProbeInterval <= 0 {
		c.Breaker.ProbeInterval = 15 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Clips.Backend == "" {
		c.Clips.Backend = ClipsStatic
	}
	// Providers that set no circuit thresholds of their own inherit the
	// service-wide ones.
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.FailureThreshold <= 0 {
			p.FailureThreshold = c.Breaker.FailureThreshold
		}
		if p.RecoveryTimeout <= 0 {
			p.RecoveryTimeout = c.Breaker.RecoveryTimeout
		}
		if p.HalfOpenMaxCalls <= 0 {
			p.HalfOpenMaxCalls = c.Breaker.HalfOpenMaxCalls
		}
	}
}

// Validate checks structural constraints and every provider entry.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "%v", err)
	}

	if p := c.Privacy.Policy; p != "" && !p.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "privacy policy %q", p)
	}

	switch c.Clips.Backend {
	case ClipsDir:
		if c.Clips.Dir == "" {
			return apperrors.Wrap(apperrors.ErrInvalidConfig, "clips backend dir needs clips.dir")
		}
	case ClipsMinio:
		if c.Clips.Minio.Endpoint == "" || c.Clips.Minio.Bucket == "" {
			return apperrors.Wrap(apperrors.ErrInvalidConfig, "clips backend minio needs endpoint and bucket")
		}
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, pc := range c.Providers {
		if err := pc.Validate(); err != nil {
			return apperrors.Wrapf(err, "providers[%d]", i)
		}
		key := string(pc.Kind) + "/" + pc.Name
		if _, dup := seen[key]; dup {
			return apperrors.Wrapf(apperrors.ErrInvalidConfig, "duplicate provider %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
