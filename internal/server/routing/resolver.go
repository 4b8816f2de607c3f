// Package routing decides which pipeline stage a lead lands in.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

// Mapping is one tenant field mapping.
type Mapping struct {
	SourceKey       string `json:"source_key"`
	TargetAttribute string `json:"target_attribute"`
	Transform       string `json:"transform,omitempty"`
}

// ResolvedRouteConfig is a snapshot of the route chosen for a lead. It is
// passed by value and cannot be modified after resolution.
type ResolvedRouteConfig struct {
	routeID         uuid.UUID
	tenantID        uuid.UUID
	workspaceID     uuid.UUID
	pipelineID      uuid.UUID
	stageID         uuid.UUID
	defaultAssignee *uuid.UUID
	pageID          string
	formID          string
	mappings        []Mapping
}

// NewResolvedRouteConfig snapshots a route and its mappings.
func NewResolvedRouteConfig(route models.IngestRoute, mappings []models.FieldMapping) ResolvedRouteConfig {
	cfg := ResolvedRouteConfig{
		routeID:     route.ID,
		tenantID:    route.TenantID,
		workspaceID: route.WorkspaceID,
		pipelineID:  route.PipelineID,
		stageID:     route.StageID,
		pageID:      route.PageID,
		mappings:    make([]Mapping, 0, len(mappings)),
	}
	if route.FormID != nil {
		cfg.formID = *route.FormID
	}
	if route.DefaultAssignee != nil {
		assignee := *route.DefaultAssignee
		cfg.defaultAssignee = &assignee
	}
	for _, m := range mappings {
		cfg.mappings = append(cfg.mappings, Mapping{
			SourceKey:       m.SourceKey,
			TargetAttribute: m.TargetAttribute,
			Transform:       m.Transform,
		})
	}
	return cfg
}

func (c ResolvedRouteConfig) RouteID() uuid.UUID     { return c.routeID }
func (c ResolvedRouteConfig) TenantID() uuid.UUID    { return c.tenantID }
func (c ResolvedRouteConfig) WorkspaceID() uuid.UUID { return c.workspaceID }
func (c ResolvedRouteConfig) PipelineID() uuid.UUID  { return c.pipelineID }
func (c ResolvedRouteConfig) StageID() uuid.UUID     { return c.stageID }
func (c ResolvedRouteConfig) PageID() string         { return c.pageID }
func (c ResolvedRouteConfig) FormID() string         { return c.formID }

// PageLevel reports whether the route matched as the page-wide fallback.
func (c ResolvedRouteConfig) PageLevel() bool { return c.formID == "" }

// DefaultAssignee returns a copy of the default assignee, if any.
func (c ResolvedRouteConfig) DefaultAssignee() *uuid.UUID {
	if c.defaultAssignee == nil {
		return nil
	}
	assignee := *c.defaultAssignee
	return &assignee
}

// Mappings returns a copy of the tenant field mappings.
func (c ResolvedRouteConfig) Mappings() []Mapping {
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}

// MarshalJSON renders the snapshot for the dry-run API.
func (c ResolvedRouteConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RouteID         uuid.UUID  `json:"route_id"`
		TenantID        uuid.UUID  `json:"tenant_id"`
		WorkspaceID     uuid.UUID  `json:"workspace_id"`
		PipelineID      uuid.UUID  `json:"pipeline_id"`
		StageID         uuid.UUID  `json:"stage_id"`
		DefaultAssignee *uuid.UUID `json:"default_assignee,omitempty"`
		PageID          string     `json:"page_id"`
		FormID          string     `json:"form_id,omitempty"`
		PageLevel       bool       `json:"page_level"`
		Mappings        []Mapping  `json:"mappings"`
	}{
		RouteID:         c.routeID,
		TenantID:        c.tenantID,
		WorkspaceID:     c.workspaceID,
		PipelineID:      c.pipelineID,
		StageID:         c.stageID,
		DefaultAssignee: c.defaultAssignee,
		PageID:          c.pageID,
		FormID:          c.formID,
		PageLevel:       c.PageLevel(),
		Mappings:        c.Mappings(),
	})
}

// Resolver looks up routes.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new route resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		db: db,
	}
}

// Resolve finds the active route for a page and form. A form-specific route
// wins over the page-level one.
func (r *Resolver) Resolve(ctx context.Context, pageID, formID string) (ResolvedRouteConfig, error) {
	return r.resolve(ctx, nil, pageID, formID)
}

// ResolveForTenant is Resolve restricted to routes owned by tenantID.
func (r *Resolver) ResolveForTenant(ctx context.Context, tenantID uuid.UUID, pageID, formID string) (ResolvedRouteConfig, error) {
	return r.resolve(ctx, &tenantID, pageID, formID)
}

func (r *Resolver) resolve(ctx context.Context, tenantID *uuid.UUID, pageID, formID string) (ResolvedRouteConfig, error) {
	pageID = strings.TrimSpace(pageID)
	formID = strings.TrimSpace(formID)

	if formID != "" {
		route, err := r.find(ctx, tenantID, pageID, &formID)
		if err != nil {
			return ResolvedRouteConfig{}, err
		}
		if route != nil {
			return r.snapshot(ctx, route)
		}
	}

	route, err := r.find(ctx, tenantID, pageID, nil)
	if err != nil {
		return ResolvedRouteConfig{}, err
	}
	if route != nil {
		return r.snapshot(ctx, route)
	}

	return ResolvedRouteConfig{}, pkgerrors.NewAppError(
		"NO_ROUTE",
		fmt.Sprintf("no routing rule for page %s form %s", pageID, formID),
		pkgerrors.ErrNoRoute,
	)
}

// find returns the active route for (page, form), or the page-level route
// when formID is nil. A missing route is (nil, nil).
func (r *Resolver) find(ctx context.Context, tenantID *uuid.UUID, pageID string, formID *string) (*models.IngestRoute, error) {
	query := r.db.WithContext(ctx).Where("page_id = ? AND is_active = ?", pageID, true)
	if formID != nil {
		query = query.Where("form_id = ?", *formID)
	} else {
		query = query.Where("form_id IS NULL OR form_id = ''")
	}
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var route models.IngestRoute
	if err := query.Order("created_at ASC").First(&route).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to query routes")
	}
	return &route, nil
}

func (r *Resolver) snapshot(ctx context.Context, route *models.IngestRoute) (ResolvedRouteConfig, error) {
	var mappings []models.FieldMapping
	if err := r.db.WithContext(ctx).
		Where("route_id = ?", route.ID).
		Order("source_key ASC").
		Find(&mappings).Error; err != nil {
		return ResolvedRouteConfig{}, pkgerrors.Wrap(err, "failed to load field mappings")
	}
	return NewResolvedRouteConfig(*route, mappings), nil
}
