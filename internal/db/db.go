package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
)

// Config holds database configuration.
type Config struct {
	Driver      string // "postgres" or "sqlite"
	Host        string // for postgres
	Port        int    // for postgres
	Database    string // database name for postgres, file path for sqlite
	Username    string // for postgres
	Password    string // for postgres
	SSLMode     string // for postgres
	SQLLogLevel string // silent, error, warn, info
}

// Connect establishes a connection to the database.
func Connect(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		// cfg.Database is a file path, or ":memory:"
		dialector = sqlite.Open(cfg.Database + "?_time_format=sqlite&_pragma=busy_timeout(5000)")

	case "postgres", "postgresql":
		dsn := fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(cfg.SQLLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if strings.EqualFold(cfg.Driver, "sqlite") {
		// SQLite allows one writer; a single connection avoids "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// Models lists every table this service migrates, parents first.
func Models() []interface{} {
	return []interface{}{
		&models.Organization{}, // Must be first (parent table)
		&models.PageConnection{},
		&models.IngestRoute{},
		&models.FieldMapping{},
		&models.RawLead{},
		&models.Contact{},
		&models.Opportunity{},
		&models.LeadAttribution{},
		&models.DeletionRequest{},
	}
}

// AutoMigrate runs automatic migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
