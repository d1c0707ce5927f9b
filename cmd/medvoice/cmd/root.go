package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"medvoice/cmd/medvoice/cmd/bench"
	"medvoice/cmd/medvoice/cmd/providers"
	"medvoice/cmd/medvoice/cmd/serve"
	"medvoice/cmd/medvoice/cmd/version"
	"medvoice/internal/config"
)

var (
	Verbose bool
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medvoice",
	Short: "Voice pipeline orchestrator for a medical voice assistant",
	Long: `medvoice runs the voice turn pipeline: parallel speech recognition with
consensus, PHI-aware provider routing, per-provider circuit breakers and a
latency budget that degrades stages instead of dropping the turn.

Providers, budgets and the privacy policy come from a YAML config file;
start an instance with 'medvoice serve --config medvoice.yaml'.`,
	TraverseChildren: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadEnv)

	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(providers.Cmd)
	rootCmd.AddCommand(bench.Cmd)
	rootCmd.AddCommand(version.Cmd)

	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

func loadEnv() {
	path, err := config.LoadEnv(config.DefaultEnvPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return
	}
	if path != "" && Verbose {
		fmt.Fprintf(os.Stderr, "loaded environment from %s\n", path)
	}
}
