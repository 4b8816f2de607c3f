package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Opportunity is the pipeline item created for one materialized raw lead.
type Opportunity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ContactID uuid.UUID `gorm:"type:uuid;not null;index" json:"contact_id"`
	RawLeadID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"raw_lead_id"`

	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null" json:"workspace_id"`
	PipelineID  uuid.UUID  `gorm:"type:uuid;not null" json:"pipeline_id"`
	StageID     uuid.UUID  `gorm:"type:uuid;not null" json:"stage_id"`
	AssigneeID  *uuid.UUID `gorm:"type:uuid" json:"assignee_id,omitempty"`

	Title  string `gorm:"not null" json:"title"`
	Source string `gorm:"default:'lead_ads'" json:"source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Contact Contact `gorm:"foreignKey:ContactID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate sets UUID if not already set.
func (o *Opportunity) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for Opportunity.
func (Opportunity) TableName() string {
	return "opportunities"
}
