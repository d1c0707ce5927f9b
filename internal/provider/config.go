package provider

import (
	"time"

	"medvoice/internal/apperrors"
	"medvoice/internal/breaker"
)

// Config describes one registered provider: identity, circuit thresholds and
// the capability hints used by selection scoring.
type Config struct {
	// Identity
	Name    string `yaml:"name" json:"name"`
	Kind    Kind   `yaml:"kind" json:"kind"`
	Adapter string `yaml:"adapter" json:"adapter"`

	// Priority orders the fallback chain. Lower is preferred; ties break by
	// registration order.
	Priority int `yaml:"priority" json:"priority"`

	// Timeout bounds a single call to this provider.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Circuit breaker thresholds. Zero values fall back to service defaults.
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" json:"half_open_max_calls"`

	// PrivacySafe marks providers inside the privacy boundary. PHI-bearing
	// turns are restricted to privacy-safe providers.
	PrivacySafe bool `yaml:"privacy_safe" json:"privacy_safe"`

	// Capability hints for selection scoring.
	SupportsMultiLanguage bool `yaml:"supports_multi_language" json:"supports_multi_language"`
	SupportsWordTimings   bool `yaml:"supports_word_timings" json:"supports_word_timings"`

	// CostTier ranks relative cost, 1 being cheapest. 0 means unranked.
	CostTier int `yaml:"cost_tier" json:"cost_tier"`

	// Weight multiplies the selection score. 0 means 1.0.
	Weight float64 `yaml:"weight" json:"weight"`

	// Settings holds adapter-specific options (api_key, base_url, model,
	// voice). Values are env-expanded at load time.
	Settings map[string]string `yaml:"settings" json:"settings,omitempty"`
}

// Default call and circuit thresholds applied by Normalize.
const (
	DefaultTimeout          = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenMaxCalls = 2
)

// Normalize fills zero-valued thresholds with defaults and returns the result.
func (c Config) Normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if c.Weight <= 0 {
		c.Weight = 1.0
	}
	return c
}

// Validate checks the fields required to register a provider.
func (c Config) Validate() error {
	if c.Name == "" {
		return apperrors.RequiredField("provider name")
	}
	if c.Kind == "" {
		return apperrors.RequiredField("provider kind")
	}
	if !c.Kind.Valid() {
		return apperrors.InvalidField("provider kind", string(c.Kind))
	}
	if c.Adapter == "" {
		return apperrors.RequiredField("provider adapter")
	}
	if c.Priority < 0 {
		return apperrors.InvalidField("provider priority", "must not be negative")
	}
	return nil
}

// Setting returns a named adapter setting or the fallback when unset.
func (c Config) Setting(key, fallback string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// BreakerSettings maps the provider's circuit thresholds onto breaker
// settings.
func (c Config) BreakerSettings() breaker.Settings {
	return breaker.Settings{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
	}
}
