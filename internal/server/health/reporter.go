// Package health summarizes whether a tenant's lead ingestion is working.
package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// Status is the overall ingestion health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusUnknown  Status = "unknown"
)

const (
	DefaultWindow            = 24 * time.Hour
	DefaultDegradedThreshold = 0.2
	DefaultDownThreshold     = 0.5
)

// Reasons attached to a report.
const (
	ReasonWaiting      = "waiting for leads"
	ReasonNoConnection = "no active page connection"
	ReasonNoRoutes     = "no active routes"
	ReasonFailureRate  = "high failure rate"
	ReasonUnavailable  = "counters unavailable"
)

// Counts are the lead totals inside the window.
type Counts struct {
	Total     int64 `json:"total"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
}

// Report is the health of one tenant at CheckedAt.
type Report struct {
	TenantID          uuid.UUID `json:"tenant_id"`
	Status            Status    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	Counts            Counts    `json:"counts"`
	FailureRate       float64   `json:"failure_rate"`
	ActiveConnections int64     `json:"active_connections"`
	ActiveRoutes      int64     `json:"active_routes"`
	Window            string    `json:"window"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Reporter computes reports on demand; nothing is cached.
type Reporter struct {
	db       *gorm.DB
	window   time.Duration
	degraded float64
	down     float64
	now      func() time.Time
}

// NewReporter creates a reporter. Zero values select the defaults.
func NewReporter(db *gorm.DB, window time.Duration, degraded, down float64) *Reporter {
	if window <= 0 {
		window = DefaultWindow
	}
	if degraded <= 0 {
		degraded = DefaultDegradedThreshold
	}
	if down <= 0 {
		down = DefaultDownThreshold
	}
	return &Reporter{
		db:       db,
		window:   window,
		degraded: degraded,
		down:     down,
		now:      time.Now,
	}
}

// Report computes the tenant's current health. Store errors produce an
// unknown report rather than an error.
func (r *Reporter) Report(ctx context.Context, tenantID uuid.UUID) *Report {
	now := r.now()
	report := &Report{
		TenantID:  tenantID,
		Window:    r.window.String(),
		CheckedAt: now.UTC(),
	}

	if err := r.load(ctx, tenantID, now.Add(-r.window), report); err != nil {
		logger.WarnEvent().Err(err).Str("tenant_id", tenantID.String()).Msg("Health counters unavailable")
		report.Status = StatusUnknown
		report.Reason = ReasonUnavailable
		return report
	}

	if report.Counts.Total > 0 {
		report.FailureRate = float64(report.Counts.Failed) / float64(report.Counts.Total)
	}
	report.Status, report.Reason = r.Classify(report.ActiveConnections, report.ActiveRoutes, report.Counts)
	return report
}

// Classify applies the health rules.
func (r *Reporter) Classify(connections, routes int64, counts Counts) (Status, string) {
	if connections == 0 {
		return StatusDown, ReasonNoConnection
	}
	if routes == 0 {
		return StatusDown, ReasonNoRoutes
	}
	if counts.Total == 0 {
		return StatusHealthy, ReasonWaiting
	}

	rate := float64(counts.Failed) / float64(counts.Total)
	switch {
	case rate > r.down:
		return StatusDown, ReasonFailureRate
	case rate > r.degraded:
		return StatusDegraded, ReasonFailureRate
	default:
		return StatusHealthy, ""
	}
}

func (r *Reporter) load(ctx context.Context, tenantID uuid.UUID, since time.Time, report *Report) error {
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.PageConnection{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Count(&report.ActiveConnections).Error; err != nil {
		return err
	}

	if err := db.Model(&models.IngestRoute{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Count(&report.ActiveRoutes).Error; err != nil {
		return err
	}

	var rows []struct {
		Status models.LeadStatus
		Count  int64
	}
	if err := db.Model(&models.RawLead{}).
		Select("status, COUNT(*) AS count").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		report.Counts.Total += row.Count
		switch row.Status {
		case models.LeadStatusFailed:
			report.Counts.Failed = row.Count
		case models.LeadStatusCompleted:
			report.Counts.Completed = row.Count
		case models.LeadStatusPending:
			report.Counts.Pending = row.Count
		}
	}
	return nil
}
