// Package deletion handles the platform's user data-deletion callback.
package deletion

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
	"github.com/pandeptwidyaop/leadflow/pkg/utils"
)

// StatusCompleted is the only status a stored request can have; deletion
// runs synchronously.
const StatusCompleted = "completed"

// Confirmation is the body the platform expects back.
type Confirmation struct {
	URL              string `json:"url"`
	ConfirmationCode string `json:"confirmation_code"`
}

// Deleter removes lead data collected through a platform user's pages.
type Deleter struct {
	db        *gorm.DB
	statusURL string
	sink      audit.Sink
}

// NewDeleter creates a deleter. statusURL is where the user can check the
// request; the confirmation code is appended as the "code" query parameter.
func NewDeleter(db *gorm.DB, statusURL string, sink audit.Sink) *Deleter {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Deleter{
		db:        db,
		statusURL: statusURL,
		sink:      sink,
	}
}

// DeleteForUser deletes, in one transaction, the attributions, opportunities,
// originating contacts and raw leads of every page the user connected, and
// deactivates those connections. A confirmation is returned even when the
// user had nothing stored.
func (d *Deleter) DeleteForUser(ctx context.Context, externalUserID string) (*Confirmation, error) {
	code, err := utils.GenerateConfirmationCode()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to generate confirmation code")
	}

	request := &models.DeletionRequest{
		ConfirmationCode: code,
		ExternalUserHash: utils.HashToken(externalUserID),
		Status:           StatusCompleted,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conns []models.PageConnection
		if strings.TrimSpace(externalUserID) != "" {
			if err := tx.Where("external_user_id = ?", externalUserID).Find(&conns).Error; err != nil {
				return pkgerrors.Wrap(err, "failed to load page connections")
			}
		}

		for _, conn := range conns {
			deleted, err := deletePageLeads(tx, conn.TenantID, conn.PageID)
			if err != nil {
				return err
			}
			request.LeadsDeleted += deleted
		}

		if len(conns) > 0 {
			ids := make([]uuid.UUID, len(conns))
			for i, c := range conns {
				ids[i] = c.ID
			}
			res := tx.Model(&models.PageConnection{}).
				Where("id IN ?", ids).
				Updates(map[string]interface{}{"is_active": false, "page_access_token": ""})
			if res.Error != nil {
				return pkgerrors.Wrap(res.Error, "failed to deactivate page connections")
			}
			request.ConnectionsDeactivated = int(res.RowsAffected)
		}

		if err := tx.Create(request).Error; err != nil {
			return pkgerrors.Wrap(err, "failed to record deletion request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoEvent().
		Str("confirmation_code", code).
		Int("connections", request.ConnectionsDeactivated).
		Int("leads", request.LeadsDeleted).
		Msg("User data deleted")

	d.sink.Emit(audit.Event{
		Type:    audit.EventDataDeleted,
		Message: code,
		Data: map[string]interface{}{
			"connections": request.ConnectionsDeactivated,
			"leads":       request.LeadsDeleted,
		},
	})

	return &Confirmation{URL: d.StatusURL(code), ConfirmationCode: code}, nil
}

// Status looks up a deletion request by confirmation code.
func (d *Deleter) Status(ctx context.Context, code string) (*models.DeletionRequest, error) {
	var request models.DeletionRequest
	if err := d.db.WithContext(ctx).Where("confirmation_code = ?", code).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewAppError("NOT_FOUND", "unknown confirmation code", err)
		}
		return nil, pkgerrors.Wrap(err, "failed to load deletion request")
	}
	return &request, nil
}

// StatusURL builds the status link for a confirmation code.
func (d *Deleter) StatusURL(code string) string {
	u, err := url.Parse(d.statusURL)
	if err != nil || d.statusURL == "" {
		return d.statusURL + "?code=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// deletePageLeads removes everything derived from one page's leads and
// returns the number of raw leads removed. Leads of the page that never got a
// tenant are removed too.
func deletePageLeads(tx *gorm.DB, tenantID uuid.UUID, pageID string) (int, error) {
	var ids []uuid.UUID
	if err := tx.Model(&models.RawLead{}).
		Where("page_id = ? AND (tenant_id = ? OR tenant_id IS NULL)", pageID, tenantID).
		Pluck("id", &ids).Error; err != nil {
		return 0, pkgerrors.Wrap(err, "failed to list page leads")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := tx.Where("raw_lead_id IN ?", ids).Delete(&models.LeadAttribution{}).Error; err != nil {
		return 0, pkgerrors.Wrap(err, "failed to delete attributions")
	}
	if err := tx.Where("raw_lead_id IN ?", ids).Delete(&models.Opportunity{}).Error; err != nil {
		return 0, pkgerrors.Wrap(err, "failed to delete opportunities")
	}

	// Contacts still referenced by another page's opportunity are kept.
	stillUsed := tx.Model(&models.Opportunity{}).Select("contact_id")
	if err := tx.Where("origin_raw_lead_id IN ? AND id NOT IN (?)", ids, stillUsed).Delete(&models.Contact{}).Error; err != nil {
		return 0, pkgerrors.Wrap(err, "failed to delete contacts")
	}

	res := tx.Where("id IN ?", ids).Delete(&models.RawLead{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(res.Error, "failed to delete raw leads")
	}
	return int(res.RowsAffected), nil
}
