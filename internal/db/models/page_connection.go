package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PageConnection is a tenant's authorized link to one ad-platform page.
type PageConnection struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	PageID          string `gorm:"not null;index" json:"page_id"`
	PageName        string `json:"page_name,omitempty"`
	PageAccessToken string `json:"-"`
	ExternalUserID  string `gorm:"index" json:"external_user_id,omitempty"` // platform user who granted access

	IsActive bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate sets UUID if not already set.
func (c *PageConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for PageConnection.
func (PageConnection) TableName() string {
	return "page_connections"
}
