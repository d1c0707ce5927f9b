package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"medvoice/internal/config"
	"medvoice/internal/provider"
)

var addr string

func init() {
	Cmd.Flags().StringVarP(&addr, "addr", "a", "",
		"query a running instance at this address instead of reading the config file, example: http://localhost:8080")
}

// Cmd represents the providers command
var Cmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers or live circuit status",
	Long: `Show the provider fallback chains.

Without flags the configured providers are listed per capability. With
--addr the command asks a running instance for live circuit state instead.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	if addr != "" {
		return printLive(cmd.OutOrStdout(), addr)
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}
	printConfigured(cmd.OutOrStdout(), cfg.Providers)
	return nil
}

func printConfigured(out io.Writer, configured []provider.Config) {
	if len(configured) == 0 {
		fmt.Fprintln(out, "no providers configured")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tADAPTER\tPRIORITY\tPRIVACY_SAFE\tTIMEOUT")
	for _, pc := range configured {
		pc = pc.Normalize()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			pc.Name, pc.Kind, pc.Adapter, pc.Priority, pc.PrivacySafe, pc.Timeout)
	}
	w.Flush()
}

func printLive(out io.Writer, baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/v1/providers")
	if err != nil {
		return fmt.Errorf("query %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: status %s", baseURL, resp.Status)
	}

	var body struct {
		Providers []provider.Status `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode provider status: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tADAPTER\tCIRCUIT\tFAILURES\tCALLS\tLAST_FAILURE")
	for _, st := range body.Providers {
		lastFailure := "-"
		if !st.Circuit.LastFailureAt.IsZero() {
			lastFailure = st.Circuit.LastFailureAt.Format(time.RFC3339)
		}
		circuit := string(st.Circuit.State)
		if st.CircuitError != "" {
			circuit = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			st.Name, st.Kind, st.Adapter, circuit,
			st.Circuit.TotalFailures, st.Circuit.TotalCalls, lastFailure)
	}
	return w.Flush()
}
