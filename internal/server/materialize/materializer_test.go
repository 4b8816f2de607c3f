package materialize

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/dbtest"
	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/mapping"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
)

type env struct {
	db    *gorm.DB
	fx    *dbtest.Fixture
	cfg   routing.ResolvedRouteConfig
	mat   *Materializer
	count int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	database := dbtest.Open(t)
	fx := dbtest.SeedTenant(t, database, "page-1")
	cfg, err := routing.NewResolver(database).Resolve(context.Background(), "page-1", "")
	require.NoError(t, err)
	return &env{db: database, fx: fx, cfg: cfg, mat: NewMaterializer(database)}
}

func (e *env) lead(t *testing.T) *models.RawLead {
	t.Helper()
	e.count++
	lead := &models.RawLead{
		LeadgenID:  uuid.NewString(),
		TenantID:   &e.fx.Tenant.ID,
		PageID:     "page-1",
		FormID:     "form-1",
		AdID:       "ad-1",
		CampaignID: "camp-1",
	}
	require.NoError(t, e.db.Create(lead).Error)
	return lead
}

func attrs(kv ...string) mapping.Result {
	res := mapping.Result{Attributes: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		res.Attributes[kv[i]] = kv[i+1]
	}
	return res
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestMaterialize_CreatesRecords(t *testing.T) {
	e := newEnv(t)
	lead := e.lead(t)

	out, err := e.mat.Materialize(context.Background(), lead, e.cfg, attrs(
		"email", "jane@example.com",
		"full_name", "Jane Doe",
		"budget", "10k",
	))
	require.NoError(t, err)

	assert.True(t, out.ContactCreated)
	assert.Equal(t, "jane@example.com", out.Contact.Email)
	assert.Equal(t, "Jane Doe", out.Contact.FullName)
	assert.JSONEq(t, `{"budget":"10k"}`, string(out.Contact.Attributes))
	require.NotNil(t, out.Contact.OriginRawLeadID)
	assert.Equal(t, lead.ID, *out.Contact.OriginRawLeadID)

	assert.Equal(t, "Jane Doe", out.Opportunity.Title)
	assert.Equal(t, e.fx.Route.StageID, out.Opportunity.StageID)
	assert.Equal(t, e.fx.Tenant.ID, out.Opportunity.TenantID)
	assert.Equal(t, out.Contact.ID, out.Opportunity.ContactID)

	require.NotNil(t, out.Attribution)
	assert.Equal(t, lead.LeadgenID, *out.Attribution.LeadgenID)
	assert.Equal(t, "ad-1", out.Attribution.AdID)
	assert.Equal(t, "camp-1", out.Attribution.CampaignID)
	assert.Empty(t, out.Warnings)

	assert.Equal(t, int64(1), count(t, e.db, &models.Contact{}))
	assert.Equal(t, int64(1), count(t, e.db, &models.Opportunity{}))
	assert.Equal(t, int64(1), count(t, e.db, &models.LeadAttribution{}))
}

func TestMaterialize_DedupByEmailThenPhone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.mat.Materialize(ctx, e.lead(t), e.cfg, attrs("email", "jane@example.com"))
	require.NoError(t, err)

	second, err := e.mat.Materialize(ctx, e.lead(t), e.cfg, attrs("email", "jane@example.com", "phone", "+62811", "city", "Ubud"))
	require.NoError(t, err)
	assert.False(t, second.ContactCreated)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)
	assert.Equal(t, "+62811", second.Contact.Phone, "blank columns are filled")
	assert.Equal(t, "Ubud", second.Contact.City)

	third, err := e.mat.Materialize(ctx, e.lead(t), e.cfg, attrs("email", "other@example.com", "phone", "+62999"))
	require.NoError(t, err)
	assert.True(t, third.ContactCreated)

	fourth, err := e.mat.Materialize(ctx, e.lead(t), e.cfg, attrs("phone", "+62811"))
	require.NoError(t, err)
	assert.False(t, fourth.ContactCreated)
	assert.Equal(t, first.Contact.ID, fourth.Contact.ID, "phone lookup after email")

	fifth, err := e.mat.Materialize(ctx, e.lead(t), e.cfg, attrs("email", "new@example.com", "phone", "+62999"))
	require.NoError(t, err)
	assert.False(t, fifth.ContactCreated, "email miss falls through to phone")
	assert.Equal(t, third.Contact.ID, fifth.Contact.ID)

	assert.Equal(t, int64(2), count(t, e.db, &models.Contact{}))
	assert.Equal(t, int64(5), count(t, e.db, &models.Opportunity{}))
}

func TestMaterialize_KeepsUnreadableContactAttributes(t *testing.T) {
	e := newEnv(t)
	contact := &models.Contact{TenantID: e.fx.Tenant.ID, Email: "jane@example.com", Source: SourceLeadAds, Attributes: datatypes.JSON(`{"budget":`)}
	require.NoError(t, e.db.Create(contact).Error)

	out, err := e.mat.Materialize(context.Background(), e.lead(t), e.cfg, attrs("email", "jane@example.com", "phone", "+62811", "budget", "10k"))
	require.NoError(t, err)
	assert.False(t, out.ContactCreated)
	assert.Equal(t, "+62811", out.Contact.Phone, "columns are still filled")

	var stored models.Contact
	require.NoError(t, e.db.First(&stored, "id = ?", contact.ID).Error)
	assert.Equal(t, `{"budget":`, string(stored.Attributes))
	assert.Equal(t, "+62811", stored.Phone)
}

func TestMaterialize_DedupIsPerTenant(t *testing.T) {
	e := newEnv(t)
	other := dbtest.SeedTenant(t, e.db, "page-2")
	otherCfg, err := routing.NewResolver(e.db).Resolve(context.Background(), "page-2", "")
	require.NoError(t, err)

	_, err = e.mat.Materialize(context.Background(), e.lead(t), e.cfg, attrs("email", "jane@example.com"))
	require.NoError(t, err)

	lead := &models.RawLead{LeadgenID: "other", TenantID: &other.Tenant.ID, PageID: "page-2"}
	require.NoError(t, e.db.Create(lead).Error)
	out, err := e.mat.Materialize(context.Background(), lead, otherCfg, attrs("email", "jane@example.com"))
	require.NoError(t, err)
	assert.True(t, out.ContactCreated)
	assert.Equal(t, other.Tenant.ID, out.Contact.TenantID)
}

func TestMaterialize_NoDedupKeyWarns(t *testing.T) {
	e := newEnv(t)

	out, err := e.mat.Materialize(context.Background(), e.lead(t), e.cfg, attrs("first_name", "Jane"))
	require.NoError(t, err)
	assert.Equal(t, []string{WarningNoDedupKey}, out.Warnings)
	assert.Equal(t, "Jane", out.Opportunity.Title)
}

func TestMaterialize_Idempotent(t *testing.T) {
	e := newEnv(t)
	lead := e.lead(t)
	ctx := context.Background()

	first, err := e.mat.Materialize(ctx, lead, e.cfg, attrs("email", "jane@example.com"))
	require.NoError(t, err)

	again, err := e.mat.Materialize(ctx, lead, e.cfg, attrs("email", "jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first.Opportunity.ID, again.Opportunity.ID)
	assert.Equal(t, first.Contact.ID, again.Contact.ID)

	assert.Equal(t, int64(1), count(t, e.db, &models.Opportunity{}))
	assert.Equal(t, int64(1), count(t, e.db, &models.LeadAttribution{}))
}

func TestMaterialize_AttributionConflictIsNotAnError(t *testing.T) {
	e := newEnv(t)
	lead := e.lead(t)

	leadgenID := lead.LeadgenID
	require.NoError(t, e.db.Create(&models.LeadAttribution{
		TenantID:  e.fx.Tenant.ID,
		ContactID: uuid.New(),
		RawLeadID: uuid.New(),
		LeadgenID: &leadgenID,
		PageID:    "page-1",
	}).Error)

	out, err := e.mat.Materialize(context.Background(), lead, e.cfg, attrs("email", "a@b.c"))
	require.NoError(t, err)
	assert.Nil(t, out.Attribution)
	assert.Equal(t, int64(1), count(t, e.db, &models.LeadAttribution{}))
}

func TestPreview_DoesNotWrite(t *testing.T) {
	e := newEnv(t)

	out := Preview(e.cfg, attrs("email", "jane@example.com", "first_name", "Jane", "last_name", "Doe"))
	assert.Equal(t, "jane@example.com", out.Contact.Email)
	assert.Equal(t, "Jane Doe", out.Opportunity.Title)
	assert.Equal(t, e.fx.Route.PipelineID, out.Opportunity.PipelineID)
	assert.Nil(t, out.Attribution)

	assert.Zero(t, count(t, e.db, &models.Contact{}))
	assert.Zero(t, count(t, e.db, &models.Opportunity{}))
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  string
	}{
		{"full name", map[string]string{"full_name": " Jane Doe ", "first_name": "X", "email": "e@x"}, "Jane Doe"},
		{"first and last", map[string]string{"first_name": "Jane", "last_name": "Doe"}, "Jane Doe"},
		{"last only", map[string]string{"first_name": " ", "last_name": "Doe"}, "Doe"},
		{"email", map[string]string{"email": "jane@example.com"}, "jane@example.com"},
		{"fallback", map[string]string{}, DefaultTitle},
		{"nil map", nil, DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.attrs))
		})
	}
}
