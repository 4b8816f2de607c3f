package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeletionRequest records a completed platform data-deletion callback.
type DeletionRequest struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	ConfirmationCode string    `gorm:"not null;uniqueIndex" json:"confirmation_code"`
	ExternalUserHash string    `gorm:"not null;index" json:"-"` // SHA-256 of the platform user id
	Status           string    `gorm:"type:varchar(20);not null" json:"status"`

	ConnectionsDeactivated int `json:"connections_deactivated"`
	LeadsDeleted           int `json:"leads_deleted"`

	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate sets UUID if not already set.
func (r *DeletionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for DeletionRequest.
func (DeletionRequest) TableName() string {
	return "deletion_requests"
}
