package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contact is a tenant-scoped person created from leads.
type Contact struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_contacts_tenant_email,priority:1;index:idx_contacts_tenant_phone,priority:1" json:"tenant_id"`

	Email     string `gorm:"index:idx_contacts_tenant_email,priority:2" json:"email,omitempty"`
	Phone     string `gorm:"index:idx_contacts_tenant_phone,priority:2" json:"phone,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	JobTitle  string `json:"job_title,omitempty"`
	City      string `json:"city,omitempty"`

	// Mapped attributes without a dedicated column.
	Attributes datatypes.JSON `gorm:"type:json" json:"attributes,omitempty"`
	Source     string         `gorm:"default:'lead_ads'" json:"source"`

	// Raw lead that created the contact; nil for contacts from other sources.
	OriginRawLeadID *uuid.UUID `gorm:"type:uuid;index" json:"origin_raw_lead_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate sets UUID if not already set.
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for Contact.
func (Contact) TableName() string {
	return "contacts"
}
