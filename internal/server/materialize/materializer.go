// Package materialize turns a mapped lead into CRM records.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/mapping"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// DefaultTitle is used when a lead has no name or email.
const DefaultTitle = "New Lead"

// SourceLeadAds marks records created from lead ads.
const SourceLeadAds = "lead_ads"

// WarningNoDedupKey is reported when a lead has neither email nor phone.
const WarningNoDedupKey = "lead has no email or phone; contact cannot be deduplicated"

// Outcome lists the records a lead produced.
type Outcome struct {
	Contact        *models.Contact         `json:"contact"`
	Opportunity    *models.Opportunity     `json:"opportunity"`
	Attribution    *models.LeadAttribution `json:"attribution,omitempty"`
	ContactCreated bool                    `json:"contact_created"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// Materializer writes contacts, opportunities and attributions.
type Materializer struct {
	db *gorm.DB
}

// NewMaterializer creates a new materializer.
func NewMaterializer(db *gorm.DB) *Materializer {
	return &Materializer{
		db: db,
	}
}

// Materialize creates the CRM records for a lead in one transaction. Running
// it again for the same raw lead returns the records created the first time.
func (m *Materializer) Materialize(ctx context.Context, lead *models.RawLead, cfg routing.ResolvedRouteConfig, mapped mapping.Result) (*Outcome, error) {
	var out *Outcome

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findExisting(tx, lead.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		out = &Outcome{}
		contact, created, err := upsertContact(tx, lead.ID, cfg.TenantID(), mapped.Attributes)
		if err != nil {
			return err
		}
		out.Contact = contact
		out.ContactCreated = created
		if contact.Email == "" && contact.Phone == "" {
			out.Warnings = append(out.Warnings, WarningNoDedupKey)
		}

		opp := buildOpportunity(cfg, mapped.Attributes)
		opp.ContactID = contact.ID
		opp.RawLeadID = lead.ID
		if err := tx.Create(opp).Error; err != nil {
			return pkgerrors.Wrap(err, "failed to create opportunity")
		}
		out.Opportunity = opp

		attribution := &models.LeadAttribution{
			TenantID:   cfg.TenantID(),
			ContactID:  contact.ID,
			RawLeadID:  lead.ID,
			PageID:     lead.PageID,
			FormID:     lead.FormID,
			AdID:       lead.AdID,
			AdgroupID:  lead.AdgroupID,
			CampaignID: lead.CampaignID,
		}
		if lead.LeadgenID != "" {
			leadgenID := lead.LeadgenID
			attribution.LeadgenID = &leadgenID
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "leadgen_id"}}, DoNothing: true}).Create(attribution)
		if res.Error != nil {
			return pkgerrors.Wrap(res.Error, "failed to create attribution")
		}
		if res.RowsAffected > 0 {
			out.Attribution = attribution
		}

		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewAppError("MATERIALIZATION", "failed to create CRM records: "+err.Error(), fmt.Errorf("%w: %w", pkgerrors.ErrMaterialization, err))
	}

	for _, w := range out.Warnings {
		logger.WarnEvent().Str("raw_lead_id", lead.ID.String()).Msg(w)
	}

	return out, nil
}

// Preview builds the records a lead would produce without touching storage.
func Preview(cfg routing.ResolvedRouteConfig, mapped mapping.Result) *Outcome {
	contact := &models.Contact{TenantID: cfg.TenantID(), Source: SourceLeadAds}
	applyAttributes(contact, mapped.Attributes)

	out := &Outcome{
		Contact:        contact,
		Opportunity:    buildOpportunity(cfg, mapped.Attributes),
		ContactCreated: true,
	}
	if contact.Email == "" && contact.Phone == "" {
		out.Warnings = append(out.Warnings, WarningNoDedupKey)
	}
	return out
}

// Title derives an opportunity title: full name, then first and last name,
// then email, then DefaultTitle.
func Title(attrs map[string]string) string {
	if name := strings.TrimSpace(attrs[mapping.AttrFullName]); name != "" {
		return name
	}

	parts := make([]string, 0, 2)
	for _, key := range []string{mapping.AttrFirstName, mapping.AttrLastName} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	if email := strings.TrimSpace(attrs[mapping.AttrEmail]); email != "" {
		return email
	}
	return DefaultTitle
}

func buildOpportunity(cfg routing.ResolvedRouteConfig, attrs map[string]string) *models.Opportunity {
	return &models.Opportunity{
		TenantID:    cfg.TenantID(),
		WorkspaceID: cfg.WorkspaceID(),
		PipelineID:  cfg.PipelineID(),
		StageID:     cfg.StageID(),
		AssigneeID:  cfg.DefaultAssignee(),
		Title:       Title(attrs),
		Source:      SourceLeadAds,
	}
}

func findExisting(tx *gorm.DB, rawLeadID uuid.UUID) (*Outcome, error) {
	var opp models.Opportunity
	err := tx.Preload("Contact").Where("raw_lead_id = ?", rawLeadID).First(&opp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to look up opportunity")
	}
	contact := opp.Contact
	return &Outcome{Contact: &contact, Opportunity: &opp}, nil
}

// upsertContact finds the tenant's contact by email, then by phone, filling
// blank columns from attrs; otherwise it creates one.
func upsertContact(tx *gorm.DB, rawLeadID, tenantID uuid.UUID, attrs map[string]string) (*models.Contact, bool, error) {
	email := attrs[mapping.AttrEmail]
	phone := attrs[mapping.AttrPhone]

	var contact models.Contact
	for _, key := range []struct{ column, value string }{{"email", email}, {"phone", phone}} {
		if key.value == "" {
			continue
		}
		err := tx.Where("tenant_id = ? AND "+key.column+" = ?", tenantID, key.value).
			Order("created_at ASC").
			First(&contact).Error
		if err == nil {
			if applyAttributes(&contact, attrs) {
				if err := tx.Save(&contact).Error; err != nil {
					return nil, false, pkgerrors.Wrap(err, "failed to update contact")
				}
			}
			return &contact, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.Wrap(err, "failed to look up contact")
		}
	}

	contact = models.Contact{TenantID: tenantID, Source: SourceLeadAds, OriginRawLeadID: &rawLeadID}
	applyAttributes(&contact, attrs)
	if err := tx.Create(&contact).Error; err != nil {
		return nil, false, pkgerrors.Wrap(err, "failed to create contact")
	}
	return &contact, true, nil
}

// applyAttributes fills blank contact columns and merges the remaining
// attributes into the JSON column. It reports whether anything changed.
func applyAttributes(c *models.Contact, attrs map[string]string) bool {
	changed := false
	columns := map[string]*string{
		mapping.AttrEmail:     &c.Email,
		mapping.AttrPhone:     &c.Phone,
		mapping.AttrFullName:  &c.FullName,
		mapping.AttrFirstName: &c.FirstName,
		mapping.AttrLastName:  &c.LastName,
		mapping.AttrCompany:   &c.Company,
		mapping.AttrJobTitle:  &c.JobTitle,
		mapping.AttrCity:      &c.City,
	}

	extra := map[string]string{}
	mergeExtra := true
	if len(c.Attributes) > 0 {
		if err := json.Unmarshal(c.Attributes, &extra); err != nil {
			// Keep the stored value rather than overwrite it with a partial map.
			logger.WarnEvent().Err(err).Str("contact_id", c.ID.String()).Msg("Contact attributes unreadable, leaving them unchanged")
			mergeExtra = false
		}
	}
	extraChanged := false

	for key, value := range attrs {
		if value == "" {
			continue
		}
		if col, ok := columns[key]; ok {
			if *col == "" {
				*col = value
				changed = true
			}
			continue
		}
		if _, ok := extra[key]; !ok && mergeExtra {
			extra[key] = value
			extraChanged = true
		}
	}

	if extraChanged {
		data, err := json.Marshal(extra)
		if err == nil {
			c.Attributes = datatypes.JSON(data)
			changed = true
		}
	}
	return changed
}
