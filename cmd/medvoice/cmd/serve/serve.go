package serve

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medvoice/internal/app"
	"medvoice/internal/config"
)

// Cmd represents the serve command
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice pipeline service",
	Long: `Start the HTTP service: session and turn endpoints, provider circuit
status and prometheus metrics. Configured providers register at startup and
the health prober keeps their circuits current in the background.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}

	c, err := app.InitializeContainer(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := c.Start()
	c.Logger.Info("medvoice started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("environment", cfg.Service.Environment),
		zap.Int("providers", len(cfg.Providers)),
		zap.String("privacy_policy", string(c.Router.Policy())))

	var runErr error
	select {
	case err, ok := <-errs:
		if ok && err != nil {
			c.Logger.Error("http server failed", zap.Error(err))
			runErr = err
		}
	case <-ctx.Done():
		c.Logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
