// Package retry lets tenants inspect and recover failed leads.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const (
	// DefaultBatchLimit caps RetryAll when no limit is configured.
	DefaultBatchLimit = 50

	defaultPerPage = 20
	maxPerPage     = 100
)

// Runner re-runs a raw lead through the pipeline.
type Runner interface {
	Retry(ctx context.Context, id uuid.UUID) error
}

// Stats counts a tenant's raw leads by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// FailedList is one page of failed leads.
type FailedList struct {
	Leads   []models.RawLead `json:"leads"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Stats   Stats            `json:"stats"`
}

// BatchResult summarizes a RetryAll run.
type BatchResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Manager implements the failed-lead operations.
type Manager struct {
	db         *gorm.DB
	runner     Runner
	sink       audit.Sink
	batchLimit int
}

// NewManager creates a retry manager.
func NewManager(db *gorm.DB, runner Runner, sink audit.Sink, batchLimit int) *Manager {
	if sink == nil {
		sink = audit.Nop{}
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Manager{
		db:         db,
		runner:     runner,
		sink:       sink,
		batchLimit: batchLimit,
	}
}

// BatchLimit is the largest batch RetryAll will run.
func (m *Manager) BatchLimit() int {
	return m.batchLimit
}

// ListFailed returns the tenant's failed leads, newest first.
func (m *Manager) ListFailed(ctx context.Context, tenantID uuid.UUID, page, perPage int) (*FailedList, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	failed := func() *gorm.DB {
		return m.db.WithContext(ctx).
			Model(&models.RawLead{}).
			Where("tenant_id = ? AND status = ?", tenantID, models.LeadStatusFailed)
	}

	var total int64
	if err := failed().Count(&total).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count failed leads")
	}

	leads := make([]models.RawLead, 0, perPage)
	if err := failed().
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&leads).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list failed leads")
	}

	stats, err := m.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &FailedList{
		Leads:   leads,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Stats:   *stats,
	}, nil
}

// Stats counts the tenant's leads per status.
func (m *Manager) Stats(ctx context.Context, tenantID uuid.UUID) (*Stats, error) {
	var rows []struct {
		Status models.LeadStatus
		Count  int64
	}
	if err := m.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Select("status, COUNT(*) AS count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count leads")
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.Status {
		case models.LeadStatusPending:
			stats.Pending = row.Count
		case models.LeadStatusProcessing:
			stats.Processing = row.Count
		case models.LeadStatusCompleted:
			stats.Completed = row.Count
		case models.LeadStatusFailed:
			stats.Failed = row.Count
		case models.LeadStatusSkipped:
			stats.Skipped = row.Count
		}
	}
	return stats, nil
}

// RetryOne re-runs a lead from routing onwards using its stored payload.
// The processing outcome is reflected in the returned lead; err is only set
// when the retry could not start.
func (m *Manager) RetryOne(ctx context.Context, tenantID, id uuid.UUID) (*models.RawLead, error) {
	lead, err := m.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := models.Transition(lead.Status, models.LeadStatusProcessing); err != nil {
		return nil, err
	}

	m.sink.Emit(audit.Event{Type: audit.EventLeadRetried, TenantID: lead.TenantID, RawLeadID: id, LeadgenID: lead.LeadgenID})

	if err := m.runner.Retry(ctx, id); err != nil {
		if errors.Is(err, pkgerrors.ErrAlreadyClaimed) {
			return nil, err
		}
		logger.InfoEvent().Err(err).Str("raw_lead_id", id.String()).Msg("Manual retry failed")
	}

	return m.get(ctx, tenantID, id)
}

// RetryAll retries up to limit failed leads, oldest first. Dismissed leads
// are not included. limit is clamped to the batch limit.
func (m *Manager) RetryAll(ctx context.Context, tenantID uuid.UUID, limit int) (*BatchResult, error) {
	if limit <= 0 || limit > m.batchLimit {
		limit = m.batchLimit
	}

	var ids []uuid.UUID
	if err := m.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("tenant_id = ? AND status = ?", tenantID, models.LeadStatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to select failed leads")
	}

	result := &BatchResult{Attempted: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed += len(ids) - result.Succeeded - result.Failed
			break
		}

		m.sink.Emit(audit.Event{Type: audit.EventLeadRetried, TenantID: &tenantID, RawLeadID: id})
		if err := m.runner.Retry(ctx, id); err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	logger.InfoEvent().
		Str("tenant_id", tenantID.String()).
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Bulk retry finished")

	return result, nil
}

// Dismiss marks a lead skipped so it leaves the failed list.
func (m *Manager) Dismiss(ctx context.Context, tenantID, id uuid.UUID) (*models.RawLead, error) {
	lead, err := m.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := models.Transition(lead.Status, models.LeadStatusSkipped); err != nil {
		return nil, err
	}

	res := m.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id = ? AND status = ?", id, lead.Status).
		Updates(map[string]interface{}{
			"status":        models.LeadStatusSkipped,
			"error_message": models.DismissedMessage,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(res.Error, "failed to dismiss lead")
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: lead changed while dismissing", pkgerrors.ErrInvalidTransition)
	}

	m.sink.Emit(audit.Event{Type: audit.EventLeadDismissed, TenantID: lead.TenantID, RawLeadID: id, LeadgenID: lead.LeadgenID, Message: models.DismissedMessage})

	return m.get(ctx, tenantID, id)
}

func (m *Manager) get(ctx context.Context, tenantID, id uuid.UUID) (*models.RawLead, error) {
	var lead models.RawLead
	err := m.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrRawLeadNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to load raw lead")
	}
	return &lead, nil
}
