package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadAttribution links a contact to the campaign and ad that produced it.
// Rows are written once and never updated.
type LeadAttribution struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ContactID uuid.UUID `gorm:"type:uuid;not null;index" json:"contact_id"`
	RawLeadID uuid.UUID `gorm:"type:uuid;not null;index" json:"raw_lead_id"`

	// Nil for manual imports; unique when present.
	LeadgenID *string `gorm:"uniqueIndex" json:"leadgen_id,omitempty"`

	PageID     string `json:"page_id"`
	FormID     string `json:"form_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
	AdgroupID  string `json:"adgroup_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Contact Contact `gorm:"foreignKey:ContactID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate sets UUID if not already set.
func (a *LeadAttribution) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for LeadAttribution.
func (LeadAttribution) TableName() string {
	return "lead_attributions"
}
