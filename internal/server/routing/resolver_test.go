package routing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandeptwidyaop/leadflow/internal/db/dbtest"
	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

func TestResolve_FormRouteWins(t *testing.T) {
	database := dbtest.Open(t)
	fx := dbtest.SeedTenant(t, database, "page-1")
	formRoute := dbtest.CreateRoute(t, database, fx.Tenant.ID, "page-1", dbtest.StrPtr("form-1"),
		models.FieldMapping{SourceKey: "budget", TargetAttribute: "budget", Transform: "trim"},
	)

	resolver := NewResolver(database)

	cfg, err := resolver.Resolve(context.Background(), "page-1", "form-1")
	require.NoError(t, err)
	assert.Equal(t, formRoute.ID, cfg.RouteID())
	assert.Equal(t, formRoute.StageID, cfg.StageID())
	assert.Equal(t, "form-1", cfg.FormID())
	assert.False(t, cfg.PageLevel())
	assert.Equal(t, []Mapping{{SourceKey: "budget", TargetAttribute: "budget", Transform: "trim"}}, cfg.Mappings())
}

func TestResolve_FallsBackToPageRoute(t *testing.T) {
	database := dbtest.Open(t)
	fx := dbtest.SeedTenant(t, database, "page-1")

	cfg, err := NewResolver(database).Resolve(context.Background(), "page-1", "other-form")
	require.NoError(t, err)
	assert.Equal(t, fx.Route.ID, cfg.RouteID())
	assert.Equal(t, fx.Tenant.ID, cfg.TenantID())
	assert.True(t, cfg.PageLevel())
	assert.Empty(t, cfg.Mappings())
}

func TestResolve_InactiveRouteIgnored(t *testing.T) {
	database := dbtest.Open(t)
	fx := dbtest.SeedTenant(t, database, "page-1")
	formRoute := dbtest.CreateRoute(t, database, fx.Tenant.ID, "page-1", dbtest.StrPtr("form-1"))
	require.NoError(t, database.Model(formRoute).Update("is_active", false).Error)

	cfg, err := NewResolver(database).Resolve(context.Background(), "page-1", "form-1")
	require.NoError(t, err)
	assert.Equal(t, fx.Route.ID, cfg.RouteID())
}

func TestResolve_NoRoute(t *testing.T) {
	database := dbtest.Open(t)

	_, err := NewResolver(database).Resolve(context.Background(), "page-9", "form-9")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrNoRoute)
	assert.Equal(t, "no routing rule for page page-9 form form-9", pkgerrors.UserMessage(err))
}

func TestResolveForTenant(t *testing.T) {
	database := dbtest.Open(t)
	fx := dbtest.SeedTenant(t, database, "page-1")
	resolver := NewResolver(database)

	cfg, err := resolver.ResolveForTenant(context.Background(), fx.Tenant.ID, "page-1", "")
	require.NoError(t, err)
	assert.Equal(t, fx.Route.ID, cfg.RouteID())

	_, err = resolver.ResolveForTenant(context.Background(), uuid.New(), "page-1", "")
	assert.ErrorIs(t, err, pkgerrors.ErrNoRoute)
}

func TestResolvedRouteConfig_Immutable(t *testing.T) {
	assignee := uuid.New()
	route := models.IngestRoute{ID: uuid.New(), PageID: "p", DefaultAssignee: &assignee}
	source := []models.FieldMapping{{SourceKey: "a", TargetAttribute: "b"}}

	cfg := NewResolvedRouteConfig(route, source)
	original := assignee

	source[0].TargetAttribute = "changed"
	*route.DefaultAssignee = uuid.New()

	got := cfg.Mappings()
	assert.Equal(t, "b", got[0].TargetAttribute)
	got[0].TargetAttribute = "mutated"
	assert.Equal(t, "b", cfg.Mappings()[0].TargetAttribute)

	a := cfg.DefaultAssignee()
	require.NotNil(t, a)
	assert.Equal(t, original, *a)
	*a = uuid.New()
	assert.Equal(t, original, *cfg.DefaultAssignee())
}

func TestResolvedRouteConfig_MarshalJSON(t *testing.T) {
	cfg := NewResolvedRouteConfig(models.IngestRoute{ID: uuid.New(), PageID: "p"}, nil)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "p", out["page_id"])
	assert.Equal(t, true, out["page_level"])
	assert.Equal(t, []interface{}{}, out["mappings"])
}
