package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FieldValue is one submitted form answer as delivered by the lead platform.
type FieldValue struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// RawLead is the verbatim record of one inbound lead notification.
type RawLead struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LeadgenID string     `gorm:"not null;uniqueIndex:idx_raw_leads_leadgen_id" json:"leadgen_id"` // idempotency key
	TenantID  *uuid.UUID `gorm:"type:uuid;index:idx_raw_leads_tenant_status,priority:1" json:"tenant_id,omitempty"`

	PageID     string `gorm:"not null;index" json:"page_id"`
	FormID     string `json:"form_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
	AdgroupID  string `json:"adgroup_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`

	// Ordered []FieldValue, kept exactly as fetched for replay.
	Payload datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`

	Status       LeadStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_raw_leads_tenant_status,priority:2" json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FetchedAt   *time.Time `json:"fetched_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// BeforeCreate sets UUID and initial status if not already set.
func (r *RawLead) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = LeadStatusPending
	}
	return nil
}

// TableName specifies the table name for RawLead.
func (RawLead) TableName() string {
	return "raw_leads"
}

// Fields decodes the stored payload. An empty payload yields no fields.
func (r *RawLead) Fields() ([]FieldValue, error) {
	if len(r.Payload) == 0 {
		return nil, nil
	}
	var fields []FieldValue
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// SetFields encodes fields into the payload column.
func (r *RawLead) SetFields(fields []FieldValue) error {
	if fields == nil {
		fields = []FieldValue{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	r.Payload = datatypes.JSON(data)
	return nil
}

// HasPayload reports whether field data has been fetched for this lead.
func (r *RawLead) HasPayload() bool {
	return r.FetchedAt != nil || len(r.Payload) > 2
}
