package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// setupTestDB creates an in-memory SQLite database for model tests
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Organization{}, &RawLead{}, &Contact{}, &Opportunity{}, &LeadAttribution{})
	require.NoError(t, err)

	return db
}

func TestRawLead_BeforeCreate(t *testing.T) {
	db := setupTestDB(t)

	lead := &RawLead{LeadgenID: "L1", PageID: "P1"}
	require.NoError(t, db.Create(lead).Error)

	assert.NotEqual(t, uuid.Nil, lead.ID)
	assert.Equal(t, LeadStatusPending, lead.Status)
	assert.Equal(t, 0, lead.RetryCount)
}

func TestRawLead_UniqueLeadgenID(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Create(&RawLead{LeadgenID: "L1", PageID: "P1"}).Error)

	err := db.Create(&RawLead{LeadgenID: "L1", PageID: "P1"}).Error
	assert.Error(t, err, "second row with same leadgen id must violate the unique index")

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&RawLead{LeadgenID: "L1", PageID: "P1"})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	var count int64
	db.Model(&RawLead{}).Where("leadgen_id = ?", "L1").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRawLead_Fields(t *testing.T) {
	lead := &RawLead{}

	fields, err := lead.Fields()
	require.NoError(t, err)
	assert.Nil(t, fields)
	assert.False(t, lead.HasPayload())

	in := []FieldValue{
		{Name: "full_name", Values: []string{"Ada Lovelace"}},
		{Name: "email", Values: []string{"ada@example.com"}},
	}
	require.NoError(t, lead.SetFields(in))
	assert.True(t, lead.HasPayload())

	out, err := lead.Fields()
	require.NoError(t, err)
	assert.Equal(t, in, out, "field order must be preserved")
}

func TestLeadAttribution_UniqueLeadgenID(t *testing.T) {
	db := setupTestDB(t)

	leadgen := "L9"
	first := &LeadAttribution{TenantID: uuid.New(), ContactID: uuid.New(), RawLeadID: uuid.New(), LeadgenID: &leadgen, PageID: "P1"}
	require.NoError(t, db.Create(first).Error)

	dup := &LeadAttribution{TenantID: uuid.New(), ContactID: uuid.New(), RawLeadID: uuid.New(), LeadgenID: &leadgen, PageID: "P1"}
	assert.Error(t, db.Create(dup).Error)

	// Rows without a leadgen id never collide.
	require.NoError(t, db.Create(&LeadAttribution{TenantID: uuid.New(), ContactID: uuid.New(), RawLeadID: uuid.New(), PageID: "P1"}).Error)
	require.NoError(t, db.Create(&LeadAttribution{TenantID: uuid.New(), ContactID: uuid.New(), RawLeadID: uuid.New(), PageID: "P1"}).Error)
}
