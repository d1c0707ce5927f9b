package bench

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"medvoice/internal/app"
	"medvoice/internal/breaker"
	"medvoice/internal/clips"
	"medvoice/internal/config"
	"medvoice/internal/pipeline"
	"medvoice/internal/provider"
)

var (
	turns       int
	sessions    int
	simLatency  time.Duration
	simFailRate float64
)

func init() {
	Cmd.Flags().IntVarP(&turns, "turns", "n", 50, "total turns to run")
	Cmd.Flags().IntVarP(&sessions, "sessions", "s", 4, "concurrent sessions")
	Cmd.Flags().DurationVar(&simLatency, "latency", 40*time.Millisecond, "simulated per-call provider latency")
	Cmd.Flags().Float64Var(&simFailRate, "failure-rate", 0, "simulated provider failure rate, 0..1")
}

// Cmd represents the bench command
var Cmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive synthetic turns through the pipeline and report latencies",
	Long: `Run the full turn pipeline against simulated providers and report
latency percentiles plus degradation counts. The simulated providers answer
deterministically; --latency and --failure-rate shape their behavior, so the
bench also shows how circuits and degradations respond to a flaky backend.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	if turns < 1 {
		return fmt.Errorf("turns must be positive, got %d", turns)
	}
	if sessions < 1 || sessions > turns {
		sessions = 1
	}

	c, err := app.InitializeContainer(cmd.Context(), benchConfig())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	}()

	progress := mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithRefreshRate(120*time.Millisecond),
	)
	bar := progress.AddBar(int64(turns),
		mpb.PrependDecorators(
			decor.Name("turns ", decor.WC{W: 6, C: decor.DindentRight}),
			decor.CountersNoUnit("(%d/%d)", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.NewPercentage("%.0f", decor.WCSyncSpace),
			decor.OnComplete(
				decor.EwmaSpeed(0, "%.1f turns/s", 30, decor.WCSyncSpace), "done",
			),
		),
	)

	audio := clips.SilentWAV(400)
	var (
		mu        sync.Mutex
		latencies []time.Duration
		degraded  int
		failed    int
	)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		count := turns / sessions
		if i < turns%sessions {
			count++
		}
		wg.Add(1)
		go func(idx, count int) {
			defer wg.Done()
			s, _ := c.Sessions.GetOrCreate(fmt.Sprintf("bench-%d", idx))
			for j := 0; j < count; j++ {
				started := time.Now()
				out, err := s.ProcessTurn(cmd.Context(), pipeline.TurnRequest{
					SessionID: s.ID,
					Audio:     audio,
					Format:    provider.FormatWAV,
				})
				elapsed := time.Since(started)

				mu.Lock()
				latencies = append(latencies, elapsed)
				switch {
				case err != nil:
					failed++
				case out.DegradationApplied || out.Result.Status != pipeline.StatusOK:
					degraded++
				}
				mu.Unlock()
				bar.EwmaIncrement(elapsed)
			}
		}(i, count)
	}
	wg.Wait()
	progress.Wait()

	printSummary(cmd.Context(), cmd.OutOrStdout(), c, latencies, degraded, failed)
	return nil
}

// benchConfig builds an instance backed entirely by simulated providers.
func benchConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	settings := map[string]string{
		"latency_ms":   strconv.Itoa(int(simLatency.Milliseconds())),
		"failure_rate": strconv.FormatFloat(simFailRate, 'f', -1, 64),
	}
	for _, kind := range []provider.Kind{
		provider.KindTranscription,
		provider.KindRetrieval,
		provider.KindGeneration,
		provider.KindSynthesis,
	} {
		cfg.Providers = append(cfg.Providers, provider.Config{
			Name:     "sim-" + string(kind),
			Kind:     kind,
			Adapter:  "fake",
			Settings: settings,
		})
	}
	return cfg
}

func printSummary(ctx context.Context, out io.Writer, c *app.Container, latencies []time.Duration, degraded, failed int) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	total := len(latencies)
	fmt.Fprintf(out, "\nturns %d  sessions %d  ok %d  degraded %d  failed %d\n",
		total, sessions, total-degraded-failed, degraded, failed)
	fmt.Fprintf(out, "latency p50 %s  p90 %s  p99 %s  max %s\n",
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.90).Round(time.Millisecond),
		percentile(latencies, 0.99).Round(time.Millisecond),
		percentile(latencies, 1.0).Round(time.Millisecond))

	for _, st := range c.Registry.Snapshot(ctx) {
		if st.CircuitError == "" && st.Circuit.State != breaker.StateClosed {
			fmt.Fprintf(out, "circuit %s/%s: %s\n", st.Kind, st.Name, st.Circuit.State)
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
