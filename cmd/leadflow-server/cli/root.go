package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pandeptwidyaop/leadflow/internal/version"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "leadflow-server",
	Short: "Lead ads ingestion server",
	Long: `leadflow-server receives lead ads webhooks, records every lead exactly once
and turns it into CRM contacts and opportunities.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersion().String())
		},
	})
}
