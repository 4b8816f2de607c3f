package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/queue"
	"github.com/pandeptwidyaop/leadflow/internal/server/verify"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
	"github.com/pandeptwidyaop/leadflow/pkg/utils"
)

const (
	maxDeliveryBytes = 1 << 20
	signatureHeader  = "X-Hub-Signature-256"
	objectPage       = "page"
	fieldLeadgen     = "leadgen"
)

// delivery is the webhook body sent by the platform.
type delivery struct {
	Object string          `json:"object"`
	Entry  []deliveryEntry `json:"entry"`
}

type deliveryEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Changes   []deliveryChange `json:"changes"`
	Messaging []struct {
		Leadgen *struct {
			LeadgenID string `json:"leadgen_id"`
			PageID    string `json:"page_id"`
		} `json:"leadgen"`
	} `json:"messaging"`
}

type deliveryChange struct {
	Field string `json:"field"`
	Value struct {
		LeadgenID   flexString `json:"leadgen_id"`
		PageID      flexString `json:"page_id"`
		FormID      flexString `json:"form_id"`
		AdID        flexString `json:"ad_id"`
		AdgroupID   flexString `json:"adgroup_id"`
		CampaignID  flexString `json:"campaign_id"`
		CreatedTime int64      `json:"created_time"`
	} `json:"value"`
}

// flexString accepts ids sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// events flattens a delivery into lead events. Non-page objects yield none.
func (d delivery) events() []ingest.LeadEvent {
	if d.Object != objectPage {
		return nil
	}

	var out []ingest.LeadEvent
	for _, entry := range d.Entry {
		for _, change := range entry.Changes {
			if change.Field != fieldLeadgen {
				continue
			}
			v := change.Value
			pageID := string(v.PageID)
			if pageID == "" {
				pageID = entry.ID
			}
			out = append(out, ingest.LeadEvent{
				LeadgenID:   string(v.LeadgenID),
				PageID:      pageID,
				FormID:      string(v.FormID),
				AdID:        string(v.AdID),
				AdgroupID:   string(v.AdgroupID),
				CampaignID:  string(v.CampaignID),
				CreatedTime: v.CreatedTime,
			})
		}

		for _, msg := range entry.Messaging {
			if msg.Leadgen == nil {
				continue
			}
			pageID := msg.Leadgen.PageID
			if pageID == "" {
				pageID = entry.ID
			}
			out = append(out, ingest.LeadEvent{LeadgenID: msg.Leadgen.LeadgenID, PageID: pageID})
		}
	}
	return out
}

// verifySubscription answers the subscription handshake. Both the "hub."
// prefixed and bare parameter names are accepted.
func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := func(name string) string {
		if v := q.Get("hub." + name); v != "" {
			return v
		}
		return q.Get(name)
	}

	challenge, err := verify.VerifyChallenge(param("mode"), param("verify_token"), param("challenge"), h.config.Meta.VerifyToken)
	if err != nil {
		logger.WarnEvent().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Webhook verification rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// receiveLeads records every lead in the delivery and dispatches the new
// ones. It answers 200 whatever happens downstream so the platform does not
// retry; failures surface through the failed list and health report.
func (h *Handler) receiveLeads(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.Server.WebhookTimeout)
	defer cancel()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeliveryBytes))
	if err != nil {
		logger.WarnEvent().Err(err).Msg("Failed to read webhook delivery")
		respondJSON(w, http.StatusOK, map[string]int{"received": 0})
		return
	}

	if h.config.Meta.VerifyPayloadSignature {
		if err := verify.VerifyPayloadSignature(body, r.Header.Get(signatureHeader), h.config.Meta.AppSecret); err != nil {
			logger.WarnEvent().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Webhook delivery signature rejected")
			respondJSON(w, http.StatusOK, map[string]int{"received": 0})
			return
		}
	}

	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		logger.WarnEvent().Err(err).Msg("Malformed webhook delivery")
		respondJSON(w, http.StatusOK, map[string]int{"received": 0})
		return
	}

	events := d.events()
	if len(events) == 0 && d.Object != objectPage {
		logger.DebugEvent().Str("object", d.Object).Msg("Ignoring non-page delivery")
	}

	received := 0
	fresh := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		res, err := h.store.Ingest(ctx, ev)
		if err != nil {
			logger.ErrorEvent().Err(err).Str("leadgen_id", ev.LeadgenID).Str("page_id", ev.PageID).Msg("Failed to record lead")
			continue
		}
		received++

		auditEvent := audit.Event{
			TenantID:  res.TenantID,
			RawLeadID: res.RawLeadID,
			LeadgenID: ev.LeadgenID,
			Data:      map[string]interface{}{"page_id": ev.PageID, "form_id": ev.FormID},
		}
		if res.Duplicate {
			auditEvent.Type = audit.EventLeadDuplicate
			h.events.Emit(auditEvent)
			continue
		}
		auditEvent.Type = audit.EventLeadReceived
		h.events.Emit(auditEvent)
		fresh = append(fresh, res.RawLeadID)
	}

	// Undispatched leads stay pending for the sweeper.
	if err := h.dispatcher.Dispatch(ctx, fresh); err != nil {
		logger.WarnEvent().Err(err).Int("count", len(fresh)).Msg("Leads left pending for sweep")
	}

	respondJSON(w, http.StatusOK, map[string]int{"received": received})
}

// deletionCallback handles the platform's data deletion request.
func (h *Handler) deletionCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDeliveryBytes)
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	req, err := verify.ParseSignedRequest(r.PostFormValue("signed_request"), h.config.Meta.AppSecret)
	if err != nil {
		logger.WarnEvent().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Deletion request rejected")
		respondError(w, http.StatusBadRequest, "invalid signed request")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "signed request has no user id")
		return
	}

	confirmation, err := h.deleter.DeleteForUser(r.Context(), req.UserID)
	if err != nil {
		logger.ErrorEvent().Err(err).Msg("Data deletion failed")
		respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"url":               confirmation.URL,
		"confirmation_code": confirmation.ConfirmationCode,
	})
}

// deletionStatus reports a deletion request by confirmation code.
func (h *Handler) deletionStatus(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	request, err := h.deleter.Status(r.Context(), code)
	if err != nil {
		var appErr *pkgerrors.AppError
		if errors.As(err, &appErr) && appErr.Code == "NOT_FOUND" {
			respondError(w, http.StatusNotFound, appErr.Message)
			return
		}
		logger.ErrorEvent().Err(err).Msg("Failed to load deletion status")
		respondError(w, http.StatusInternalServerError, "failed to load deletion status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"confirmation_code":       request.ConfirmationCode,
		"status":                  request.Status,
		"connections_deactivated": request.ConnectionsDeactivated,
		"leads_deleted":           request.LeadsDeleted,
		"requested_at":            request.CreatedAt,
	})
}

// receiveJob is the worker endpoint for the HTTP push queue. A non-2xx
// answer makes the relay redeliver the job, so leads that end failed or wait
// for a page connection still answer 204.
func (h *Handler) receiveJob(w http.ResponseWriter, r *http.Request) {
	token := h.config.Queue.Token
	if token == "" || !utils.SecureCompareStrings(r.Header.Get(queue.TokenHeader), token) {
		respondError(w, http.StatusUnauthorized, "invalid queue token")
		return
	}

	var job queue.Job
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeliveryBytes)).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid job body")
		return
	}

	maxRetries, _ := strconv.Atoi(r.Header.Get(queue.RetriesHeader))
	logger.DebugEvent().Str("job_id", job.ID).Int("leads", len(job.RawLeadIDs)).Int("max_retries", maxRetries).Msg("Processing queue job")

	if err := h.processor.HandleJob(r.Context(), job); err != nil {
		logger.WarnEvent().Err(err).Str("job_id", job.ID).Msg("Queue job failed")
		respondError(w, http.StatusInternalServerError, "job failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
