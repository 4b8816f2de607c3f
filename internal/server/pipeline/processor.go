// Package pipeline is the worker side of lead ingestion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/graph"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/mapping"
	"github.com/pandeptwidyaop/leadflow/internal/server/materialize"
	"github.com/pandeptwidyaop/leadflow/internal/server/queue"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const finalizeTimeout = 5 * time.Second

// Processor takes one raw lead from pending to completed or failed.
type Processor struct {
	db           *gorm.DB
	store        *ingest.Store
	resolver     *routing.Resolver
	materializer *materialize.Materializer
	fetcher      graph.Fetcher
	sink         audit.Sink
	timeout      time.Duration
}

// NewProcessor creates a processor. fetcher may be nil when every lead
// arrives with its field data.
func NewProcessor(db *gorm.DB, fetcher graph.Fetcher, sink audit.Sink, timeout time.Duration) *Processor {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Processor{
		db:           db,
		store:        ingest.NewStore(db),
		resolver:     routing.NewResolver(db),
		materializer: materialize.NewMaterializer(db),
		fetcher:      fetcher,
		sink:         sink,
		timeout:      timeout,
	}
}

// Process runs a pending lead through fetch, routing, mapping and
// materialization. The row never stays in processing: any error, including a
// panic, leaves it failed with the error message and an incremented retry
// count, and the returned error wraps ErrLeadFailed. A lead whose page has no
// active connection yet goes back to pending and the error wraps
// ErrAwaitingConnection. Failed and dismissed leads are left alone.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	return p.run(ctx, id, automaticStatuses())
}

// Retry is Process for an explicit user request; it also claims failed and
// dismissed leads.
func (p *Processor) Retry(ctx context.Context, id uuid.UUID) error {
	return p.run(ctx, id, models.ClaimableStatuses())
}

// automaticStatuses are the claimable statuses no user decision has closed.
func automaticStatuses() []models.LeadStatus {
	var out []models.LeadStatus
	for _, s := range models.ClaimableStatuses() {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

func (p *Processor) run(ctx context.Context, id uuid.UUID, from []models.LeadStatus) (err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.claim(ctx, id, from); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing lead: %v", r)
		}
		if err == nil {
			return
		}
		if errors.Is(err, pkgerrors.ErrAwaitingConnection) {
			if relErr := p.release(id, err); relErr != nil {
				err = fmt.Errorf("%w (cause: %v)", relErr, err)
			}
			return
		}
		if failErr := p.fail(id, err); failErr != nil {
			err = fmt.Errorf("%w (cause: %v)", failErr, err)
			return
		}
		err = fmt.Errorf("%w: %w", pkgerrors.ErrLeadFailed, err)
	}()

	lead, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if lead.TenantID == nil {
		tenantID, err := p.tenantForPage(ctx, lead.PageID)
		if errors.Is(err, pkgerrors.ErrNoConnection) {
			return fmt.Errorf("%w: %w", pkgerrors.ErrAwaitingConnection, err)
		}
		if err != nil {
			return err
		}
		lead.TenantID = &tenantID
		if err := p.db.WithContext(ctx).Model(lead).UpdateColumn("tenant_id", tenantID).Error; err != nil {
			return pkgerrors.Wrap(err, "failed to store lead tenant")
		}
	}

	if !lead.HasPayload() {
		if err := p.fetch(ctx, lead); err != nil {
			return err
		}
	}

	fields, err := lead.Fields()
	if err != nil {
		return pkgerrors.NewAppError("PAYLOAD", "stored lead payload is unreadable", err)
	}

	cfg, err := p.resolver.ResolveForTenant(ctx, *lead.TenantID, lead.PageID, lead.FormID)
	if err != nil {
		return err
	}

	mapped := mapping.Map(fields, cfg.Mappings())
	for _, d := range mapped.Unmapped {
		logger.DebugEvent().
			Str("raw_lead_id", id.String()).
			Str("source_key", d.SourceKey).
			Str("reason", d.Reason).
			Msg("Lead field not mapped")
	}

	out, err := p.materializer.Materialize(ctx, lead, cfg, mapped)
	if err != nil {
		return err
	}

	if err := p.complete(ctx, id); err != nil {
		return err
	}

	p.sink.Emit(audit.Event{
		Type:      audit.EventLeadCompleted,
		TenantID:  lead.TenantID,
		RawLeadID: id,
		LeadgenID: lead.LeadgenID,
		Message:   out.Opportunity.Title,
		Data: map[string]interface{}{
			"opportunity_id":  out.Opportunity.ID.String(),
			"contact_id":      out.Contact.ID.String(),
			"contact_created": out.ContactCreated,
			"unmapped":        len(mapped.Unmapped),
		},
	})
	return nil
}

// HandleJob processes every id in the job. A lead that ends in a recorded
// state (completed, failed, back to pending) or was claimed elsewhere is
// done as far as the queue is concerned. Only errors that left no trace on
// the row, such as a database outage, make the job retryable.
func (p *Processor) HandleJob(ctx context.Context, job queue.Job) error {
	var failed []error

	for _, raw := range job.RawLeadIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			logger.WarnEvent().Str("job_id", job.ID).Str("raw_lead_id", raw).Msg("Skipping invalid raw lead id")
			continue
		}

		err = p.Process(ctx, id)
		if err == nil || settled(err) {
			continue
		}
		failed = append(failed, fmt.Errorf("%s: %w", raw, err))
	}

	return errors.Join(failed...)
}

// settled reports whether err describes a lead whose outcome is already
// stored, so running the job again cannot change it.
func settled(err error) bool {
	return errors.Is(err, pkgerrors.ErrLeadFailed) ||
		errors.Is(err, pkgerrors.ErrAwaitingConnection) ||
		errors.Is(err, pkgerrors.ErrAlreadyClaimed) ||
		errors.Is(err, pkgerrors.ErrRawLeadNotFound)
}

// claim moves the lead from one of the given statuses into processing. Only
// one caller can win.
func (p *Processor) claim(ctx context.Context, id uuid.UUID, from []models.LeadStatus) error {
	res := p.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     models.LeadStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(res.Error, "failed to claim raw lead")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	lead, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := models.Transition(lead.Status, models.LeadStatusProcessing); err != nil {
		return fmt.Errorf("%w: %w", pkgerrors.ErrAlreadyClaimed, err)
	}
	return fmt.Errorf("%w: lead is %s", pkgerrors.ErrAlreadyClaimed, lead.Status)
}

func (p *Processor) complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res := p.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id = ? AND status = ?", id, models.LeadStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.LeadStatusCompleted,
			"error_message": "",
			"processed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(res.Error, "failed to mark lead completed")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: lead left processing before completion", pkgerrors.ErrInvalidTransition)
	}
	return nil
}

// release hands a lead that cannot be routed yet back to pending without
// counting an attempt. The cause stays visible as the error message.
func (p *Processor) release(id uuid.UUID, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	res := p.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id = ? AND status = ?", id, models.LeadStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.LeadStatusPending,
			"error_message": pkgerrors.UserMessage(cause),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		logger.ErrorEvent().Err(res.Error).Str("raw_lead_id", id.String()).Msg("Failed to release raw lead")
		return pkgerrors.Wrap(res.Error, "failed to release raw lead")
	}

	logger.InfoEvent().Str("raw_lead_id", id.String()).Msg("Raw lead waiting for page connection")
	return nil
}

// fail records err on a lead still in processing. It uses its own context so
// a cancelled request still reaches the database.
func (p *Processor) fail(id uuid.UUID, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	msg := pkgerrors.UserMessage(cause)
	res := p.db.WithContext(ctx).
		Model(&models.RawLead{}).
		Where("id = ? AND status = ?", id, models.LeadStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.LeadStatusFailed,
			"error_message": msg,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		logger.ErrorEvent().Err(res.Error).Str("raw_lead_id", id.String()).Msg("Failed to record lead failure")
		return pkgerrors.Wrap(res.Error, "failed to record lead failure")
	}

	logger.WarnEvent().Err(cause).Str("raw_lead_id", id.String()).Msg("Lead processing failed")

	var lead models.RawLead
	p.db.WithContext(ctx).Select("tenant_id", "leadgen_id", "retry_count").Where("id = ?", id).First(&lead)
	p.sink.Emit(audit.Event{
		Type:      audit.EventLeadFailed,
		TenantID:  lead.TenantID,
		RawLeadID: id,
		LeadgenID: lead.LeadgenID,
		Message:   msg,
		Data:      map[string]interface{}{"retry_count": lead.RetryCount},
	})
	return nil
}

func (p *Processor) tenantForPage(ctx context.Context, pageID string) (uuid.UUID, error) {
	conn, err := p.connection(ctx, nil, pageID)
	if err != nil {
		return uuid.Nil, err
	}
	return conn.TenantID, nil
}

// connection returns the active connection for the page, optionally limited
// to one tenant.
func (p *Processor) connection(ctx context.Context, tenantID *uuid.UUID, pageID string) (*models.PageConnection, error) {
	query := p.db.WithContext(ctx).Where("page_id = ? AND is_active = ?", pageID, true)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var conn models.PageConnection
	if err := query.Order("created_at ASC").First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewAppError("NO_CONNECTION", fmt.Sprintf("no active page connection for page %s", pageID), pkgerrors.ErrNoConnection)
		}
		return nil, pkgerrors.Wrap(err, "failed to load page connection")
	}
	return &conn, nil
}

// fetch reads the lead's answers from the Graph API and stores them.
func (p *Processor) fetch(ctx context.Context, lead *models.RawLead) error {
	if p.fetcher == nil {
		return pkgerrors.NewAppError("LEAD_FETCH", "lead field data is not available", pkgerrors.ErrLeadFetch)
	}

	conn, err := p.connection(ctx, lead.TenantID, lead.PageID)
	if err != nil {
		return err
	}

	remote, err := p.fetcher.FetchLead(ctx, lead.LeadgenID, conn.PageAccessToken)
	if err != nil {
		return err
	}

	if err := lead.SetFields(remote.FieldData); err != nil {
		return pkgerrors.Wrap(err, "failed to encode lead fields")
	}
	now := time.Now()
	lead.FetchedAt = &now

	updates := map[string]interface{}{
		"payload":    lead.Payload,
		"fetched_at": now,
	}
	fillBlank := func(column string, dst *string, value string) {
		if *dst == "" && value != "" {
			*dst = value
			updates[column] = value
		}
	}
	fillBlank("form_id", &lead.FormID, remote.FormID)
	fillBlank("ad_id", &lead.AdID, remote.AdID)
	fillBlank("adgroup_id", &lead.AdgroupID, remote.AdsetID)
	fillBlank("campaign_id", &lead.CampaignID, remote.CampaignID)

	if err := p.db.WithContext(ctx).Model(lead).UpdateColumns(updates).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to store lead fields")
	}
	return nil
}
