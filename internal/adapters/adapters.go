// Package adapters builds concrete provider implementations from
// configuration and registers them with the provider registry.
package adapters

import (
	"context"

	"go.uber.org/zap"

	"medvoice/internal/adapters/fake"
	"medvoice/internal/adapters/gemini"
	"medvoice/internal/adapters/oai"
	"medvoice/internal/apperrors"
	"medvoice/internal/provider"
)

// Adapter names accepted in provider configuration.
const (
	AdapterOpenAI = "openai"
	AdapterGemini = "gemini"
	AdapterFake   = "fake"
)

// Build constructs the implementation named by cfg.Adapter.
func Build(ctx context.Context, cfg provider.Config) (any, error) {
	switch cfg.Adapter {
	case AdapterOpenAI:
		return oai.New(cfg)
	case AdapterGemini:
		return gemini.New(ctx, cfg)
	case AdapterFake:
		return fake.New(cfg)
	default:
		return nil, apperrors.Wrapf(apperrors.ErrUnknownAdapter, "adapter %q", cfg.Adapter)
	}
}

// Register builds and registers every configured provider. The first
// failure aborts startup.
func Register(ctx context.Context, reg *provider.Registry, cfgs []provider.Config, logger *zap.Logger) error {
	for _, cfg := range cfgs {
		impl, err := Build(ctx, cfg)
		if err != nil {
			return apperrors.Wrapf(err, "provider %s", cfg.Name)
		}
		if err := reg.Register(cfg, impl); err != nil {
			return apperrors.Wrapf(err, "provider %s", cfg.Name)
		}
		logger.Info("provider registered",
			zap.String("name", cfg.Name),
			zap.String("kind", cfg.Kind.String()),
			zap.String("adapter", cfg.Adapter),
			zap.Int("priority", cfg.Priority),
			zap.Bool("privacy_safe", cfg.PrivacySafe))
	}
	return nil
}
