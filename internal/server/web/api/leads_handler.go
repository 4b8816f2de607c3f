package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/mapping"
	"github.com/pandeptwidyaop/leadflow/internal/server/materialize"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
	"github.com/pandeptwidyaop/leadflow/internal/server/web/middleware"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// testLeadRequest is the body of a dry run.
type testLeadRequest struct {
	PageID string              `json:"page_id"`
	FormID string              `json:"form_id"`
	Fields []models.FieldValue `json:"fields"`
}

// testLeadResponse shows what a lead would become without writing it.
type testLeadResponse struct {
	Route    routing.ResolvedRouteConfig `json:"route"`
	Mapped   map[string]string           `json:"mapped"`
	Unmapped []mapping.Diagnostic        `json:"unmapped"`
	Preview  *materialize.Outcome        `json:"preview"`
}

func tenantOf(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusForbidden, "organization membership required")
	}
	return tenantID, ok
}

func leadIDOf(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid lead id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// respondLeadError maps manager errors to status codes.
func respondLeadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrRawLeadNotFound):
		respondError(w, http.StatusNotFound, "lead not found")
	case errors.Is(err, pkgerrors.ErrInvalidTransition):
		respondError(w, http.StatusConflict, pkgerrors.UserMessage(err))
	case errors.Is(err, pkgerrors.ErrAlreadyClaimed):
		respondError(w, http.StatusConflict, "lead is already being processed")
	default:
		logger.ErrorEvent().Err(err).Msg("Lead operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}

	list, err := h.retries.ListFailed(r.Context(), tenantID, queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		respondLeadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) retryLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	id, ok := leadIDOf(w, r)
	if !ok {
		return
	}

	lead, err := h.retries.RetryOne(r.Context(), tenantID, id)
	if err != nil {
		respondLeadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

func (h *Handler) retryAll(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}

	result, err := h.retries.RetryAll(r.Context(), tenantID, queryInt(r, "limit"))
	if err != nil {
		respondLeadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) dismissLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	id, ok := leadIDOf(w, r)
	if !ok {
		return
	}

	lead, err := h.retries.Dismiss(r.Context(), tenantID, id)
	if err != nil {
		respondLeadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// testLead runs routing, mapping and a materialization preview for a
// sample lead. Nothing is stored.
func (h *Handler) testLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var req testLeadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeliveryBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PageID == "" {
		respondError(w, http.StatusBadRequest, "page_id is required")
		return
	}

	cfg, err := h.resolver.ResolveForTenant(r.Context(), tenantID, req.PageID, req.FormID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNoRoute) {
			respondError(w, http.StatusNotFound, pkgerrors.UserMessage(err))
			return
		}
		logger.ErrorEvent().Err(err).Msg("Dry run routing failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	mapped := mapping.Map(req.Fields, cfg.Mappings())
	respondJSON(w, http.StatusOK, testLeadResponse{
		Route:    cfg,
		Mapped:   mapped.Attributes,
		Unmapped: mapped.Unmapped,
		Preview:  materialize.Preview(cfg, mapped),
	})
}

func (h *Handler) leadHealth(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.health.Report(r.Context(), tenantID))
}
