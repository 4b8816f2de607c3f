// Package dbtest opens migrated in-memory databases for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db"
	"github.com/pandeptwidyaop/leadflow/internal/db/models"
)

// Open returns a fresh migrated in-memory SQLite database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database))
	return database
}

// Fixture holds the tenant configuration most pipeline tests need.
type Fixture struct {
	Tenant     *models.Organization
	Connection *models.PageConnection
	Route      *models.IngestRoute
}

// SeedTenant creates a tenant with an active connection for pageID and a
// page-level route to a fresh pipeline stage.
func SeedTenant(t testing.TB, database *gorm.DB, pageID string) *Fixture {
	t.Helper()

	tenant := &models.Organization{Name: "Acme " + pageID, Slug: "acme-" + uuid.NewString()[:8], IsActive: true}
	require.NoError(t, database.Create(tenant).Error)

	conn := &models.PageConnection{
		TenantID:        tenant.ID,
		PageID:          pageID,
		PageName:        "Page " + pageID,
		PageAccessToken: "page-token-" + pageID,
		ExternalUserID:  "fb-user-" + pageID,
		IsActive:        true,
	}
	require.NoError(t, database.Create(conn).Error)

	route := CreateRoute(t, database, tenant.ID, pageID, nil)

	return &Fixture{Tenant: tenant, Connection: conn, Route: route}
}

// CreateRoute creates an active route; formID nil makes it page-level.
func CreateRoute(t testing.TB, database *gorm.DB, tenantID uuid.UUID, pageID string, formID *string, mappings ...models.FieldMapping) *models.IngestRoute {
	t.Helper()

	route := &models.IngestRoute{
		TenantID:    tenantID,
		PageID:      pageID,
		FormID:      formID,
		WorkspaceID: uuid.New(),
		PipelineID:  uuid.New(),
		StageID:     uuid.New(),
		IsActive:    true,
		Mappings:    mappings,
	}
	require.NoError(t, database.Create(route).Error)
	return route
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
