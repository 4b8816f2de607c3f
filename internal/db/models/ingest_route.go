package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IngestRoute sends leads from a page (and optionally one form) to a pipeline stage.
// A route with a nil FormID is the page-level fallback.
type IngestRoute struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	PageID string  `gorm:"not null;index:idx_ingest_routes_page_form,priority:1" json:"page_id"`
	FormID *string `gorm:"index:idx_ingest_routes_page_form,priority:2" json:"form_id,omitempty"`

	WorkspaceID     uuid.UUID  `gorm:"type:uuid;not null" json:"workspace_id"`
	PipelineID      uuid.UUID  `gorm:"type:uuid;not null" json:"pipeline_id"`
	StageID         uuid.UUID  `gorm:"type:uuid;not null" json:"stage_id"`
	DefaultAssignee *uuid.UUID `gorm:"type:uuid" json:"default_assignee,omitempty"`

	IsActive bool `gorm:"default:true;index" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Mappings []FieldMapping `gorm:"foreignKey:RouteID;constraint:OnDelete:CASCADE" json:"mappings,omitempty"`
}

// BeforeCreate sets UUID if not already set.
func (r *IngestRoute) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for IngestRoute.
func (IngestRoute) TableName() string {
	return "ingest_routes"
}

// IsPageLevel reports whether the route applies to every form of its page.
func (r *IngestRoute) IsPageLevel() bool {
	return r.FormID == nil || *r.FormID == ""
}
