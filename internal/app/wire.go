//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"medvoice/internal/config"
)

// InitializeContainer assembles a full service instance from configuration.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(
		provideLogger,
		provideMetrics,
		provideBus,
		provideRedisClient,
		provideBreakerStore,
		provideRegistry,
		provideDetector,
		providePrivacyRouter,
		provideExecutor,
		provideTranscriber,
		provideClips,
		provideOrchestrator,
		provideSessions,
		provideProber,
		provideServer,
		NewContainer,
	)
	return nil, nil
}
