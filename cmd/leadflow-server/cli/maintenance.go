package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pandeptwidyaop/leadflow/internal/db"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/pipeline"
	"github.com/pandeptwidyaop/leadflow/internal/server/retry"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

var (
	retryTenant string
	retryLimit  int
)

func init() {
	retryAllCmd.Flags().StringVar(&retryTenant, "tenant", "", "tenant (organization) id")
	retryAllCmd.Flags().IntVar(&retryLimit, "limit", 0, "maximum leads to retry (default retry.batch_limit)")
	_ = retryAllCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(migrateCmd, retryAllCmd, reapCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, database, err := bootstrap()
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(database); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.InfoEvent().Msg("Database migrations completed")
		return nil
	},
}

var retryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Retry a tenant's failed leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, err := uuid.Parse(retryTenant)
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}

		cfg, database, err := bootstrap()
		if err != nil {
			return err
		}

		events := newEvents()
		manager := retry.NewManager(database, newProcessor(cfg, database, events), events, cfg.Retry.BatchLimit)

		result, err := manager.RetryAll(cmd.Context(), tenantID, retryLimit)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d succeeded=%d failed=%d\n", result.Attempted, result.Succeeded, result.Failed)
		return nil
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Recover leads stuck in processing",
	Long:  `Move leads stuck in processing longer than pipeline.processing_timeout back to pending and process them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, database, err := bootstrap()
		if err != nil {
			return err
		}

		events := newEvents()
		dispatcher := inlineDispatcher{processor: newProcessor(cfg, database, events)}
		reaper := pipeline.NewReaper(ingest.NewStore(database), dispatcher, events, cfg.Pipeline.StuckAfter, cfg.Pipeline.ReapBatch)

		n, err := reaper.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "recovered=%d\n", n)
		return nil
	},
}
