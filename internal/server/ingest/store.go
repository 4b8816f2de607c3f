// Package ingest records inbound lead notifications exactly once.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

// LeadEvent is one lead notification extracted from a webhook delivery.
type LeadEvent struct {
	LeadgenID   string `json:"leadgen_id"`
	PageID      string `json:"page_id"`
	FormID      string `json:"form_id,omitempty"`
	AdID        string `json:"ad_id,omitempty"`
	AdgroupID   string `json:"adgroup_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	CreatedTime int64  `json:"created_time,omitempty"`

	// Fields is set when the delivery already carries the answers.
	Fields []models.FieldValue `json:"fields,omitempty"`
}

// Result reports what Ingest did with an event.
type Result struct {
	RawLeadID uuid.UUID
	TenantID  *uuid.UUID
	Duplicate bool
}

// Store persists raw leads keyed by their platform lead id.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new raw lead store.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db: db,
	}
}

// Ingest inserts the event as a pending raw lead. A lead id that was seen
// before is reported as a duplicate, not an error.
func (s *Store) Ingest(ctx context.Context, ev LeadEvent) (Result, error) {
	if ev.LeadgenID == "" {
		return Result{}, pkgerrors.NewAppError("INVALID_EVENT", "leadgen_id is required", nil)
	}

	lead := &models.RawLead{
		LeadgenID:  ev.LeadgenID,
		PageID:     ev.PageID,
		FormID:     ev.FormID,
		AdID:       ev.AdID,
		AdgroupID:  ev.AdgroupID,
		CampaignID: ev.CampaignID,
		Status:     models.LeadStatusPending,
	}

	tenantID, err := s.tenantForPage(ctx, ev.PageID)
	if err != nil {
		return Result{}, err
	}
	lead.TenantID = tenantID

	if ev.Fields != nil {
		if err := lead.SetFields(ev.Fields); err != nil {
			return Result{}, pkgerrors.Wrap(err, "failed to encode lead fields")
		}
		now := time.Now()
		lead.FetchedAt = &now
	}
	if ev.CreatedTime > 0 {
		lead.CreatedAt = time.Unix(ev.CreatedTime, 0).UTC()
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "leadgen_id"}}, DoNothing: true}).
		Create(lead)
	if tx.Error != nil {
		return Result{}, pkgerrors.Wrap(tx.Error, "failed to insert raw lead")
	}

	if tx.RowsAffected == 0 {
		var existing models.RawLead
		if err := s.db.WithContext(ctx).
			Select("id", "tenant_id").
			Where("leadgen_id = ?", ev.LeadgenID).
			First(&existing).Error; err != nil {
			return Result{}, pkgerrors.Wrap(err, "failed to load existing raw lead")
		}
		return Result{RawLeadID: existing.ID, TenantID: existing.TenantID, Duplicate: true}, nil
	}

	return Result{RawLeadID: lead.ID, TenantID: lead.TenantID}, nil
}

// tenantForPage returns the tenant holding an active connection to the page,
// or nil when no tenant has connected it.
func (s *Store) tenantForPage(ctx context.Context, pageID string) (*uuid.UUID, error) {
	if pageID == "" {
		return nil, nil
	}

	var conn models.PageConnection
	err := s.db.WithContext(ctx).
		Where("page_id = ? AND is_active = ?", pageID, true).
		Order("created_at ASC").
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to resolve page tenant")
	}

	return &conn.TenantID, nil
}

// Get loads one raw lead.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.RawLead, error) {
	var lead models.RawLead
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrRawLeadNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to load raw lead")
	}
	return &lead, nil
}

// StalePending returns ids of pending leads not touched since olderThan ago,
// oldest first. Leads of a page with no active connection are left out until
// the page is connected.
func (s *Store) StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	connected := s.db.Model(&models.PageConnection{}).Select("page_id").Where("is_active = ?", true)
	q := s.staleQuery(ctx, models.LeadStatusPending, olderThan).
		Where("(tenant_id IS NOT NULL OR page_id IN (?))", connected)
	return pluckIDs(q, limit)
}

// StaleProcessing returns ids of leads stuck in processing since olderThan ago.
func (s *Store) StaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	return pluckIDs(s.staleQuery(ctx, models.LeadStatusProcessing, olderThan), limit)
}

func (s *Store) staleQuery(ctx context.Context, status models.LeadStatus, olderThan time.Duration) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("status = ? AND updated_at < ?", status, time.Now().Add(-olderThan))
}

func pluckIDs(q *gorm.DB, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := q.Order("updated_at ASC").Limit(limit).Pluck("id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list stale raw leads")
	}
	return ids, nil
}

// Requeue moves leads stuck in processing back to pending. Only rows still in
// processing are touched; the number moved is returned.
func (s *Store) Requeue(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id IN ? AND status = ?", ids, models.LeadStatusProcessing).
		Updates(map[string]interface{}{
			"status":     models.LeadStatusPending,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return 0, pkgerrors.Wrap(tx.Error, "failed to requeue raw leads")
	}
	return tx.RowsAffected, nil
}
