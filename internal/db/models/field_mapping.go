package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FieldMapping translates one provider field key into one CRM attribute.
type FieldMapping struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RouteID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_field_mappings_route_source,priority:1" json:"route_id"`
	SourceKey       string    `gorm:"not null;uniqueIndex:idx_field_mappings_route_source,priority:2" json:"source_key"`
	TargetAttribute string    `gorm:"not null" json:"target_attribute"`
	Transform       string    `json:"transform,omitempty"` // trim, lowercase, uppercase, titlecase, phone

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate sets UUID if not already set.
func (m *FieldMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for FieldMapping.
func (FieldMapping) TableName() string {
	return "field_mappings"
}
