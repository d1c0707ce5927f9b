package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"medvoice/internal/app"
)

// Cmd represents the version command
var Cmd = &cobra.Command{
	Use:   "version",
	Short: "Print the medvoice version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		return nil
	},
}
