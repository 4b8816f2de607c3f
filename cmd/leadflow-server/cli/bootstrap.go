package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db"
	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/config"
	"github.com/pandeptwidyaop/leadflow/internal/server/graph"
	"github.com/pandeptwidyaop/leadflow/internal/server/pipeline"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// bootstrap loads config, sets up logging and opens the database.
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Setup(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	logger.InfoEvent().
		Str("driver", cfg.Database.Driver).
		Str("database", cfg.Database.Database).
		Msg("Connecting to database")

	database, err := db.Connect(db.Config{
		Driver:      cfg.Database.Driver,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		SQLLogLevel: cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, nil, err
	}

	return cfg, database, nil
}

// newEvents returns the audit fanout with the log subscriber attached.
func newEvents() *audit.Fanout {
	events := audit.NewFanout()
	events.Subscribe(audit.LogHandler)
	return events
}

func newProcessor(cfg *config.Config, database *gorm.DB, events audit.Sink) *pipeline.Processor {
	fetcher := graph.NewClient(cfg.Meta.GraphURL, cfg.Meta.GraphVersion, cfg.Meta.GraphTimeout)
	return pipeline.NewProcessor(database, fetcher, events, cfg.Pipeline.ProcessingTimeout)
}

// inlineDispatcher processes leads in the calling goroutine. One-shot
// commands use it so work is done before the process exits.
type inlineDispatcher struct {
	processor *pipeline.Processor
}

func (d inlineDispatcher) Dispatch(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := d.processor.Process(ctx, id); err != nil {
			logger.WarnEvent().Err(err).Str("raw_lead_id", id.String()).Msg("Lead processing failed")
		}
	}
	return nil
}
