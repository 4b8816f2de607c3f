// Package graph fetches lead field data from the ad platform's Graph API.
// Webhook deliveries only carry ids; the answers are read with the page
// access token of the connected page.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const leadFields = "id,created_time,ad_id,adset_id,campaign_id,form_id,field_data"

// Lead is a lead as returned by the Graph API.
type Lead struct {
	ID          string              `json:"id"`
	CreatedTime string              `json:"created_time"`
	AdID        string              `json:"ad_id"`
	AdsetID     string              `json:"adset_id"`
	CampaignID  string              `json:"campaign_id"`
	FormID      string              `json:"form_id"`
	FieldData   []models.FieldValue `json:"field_data"`
}

// APIError is the error body the Graph API returns on failure.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// Fetcher reads lead answers. Implemented by Client and by test fakes.
type Fetcher interface {
	FetchLead(ctx context.Context, leadgenID, accessToken string) (*Lead, error)
}

// Client is a minimal Graph API client.
type Client struct {
	baseURL string
	version string
	http    *http.Client
}

// NewClient creates a Graph API client.
func NewClient(baseURL, version string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: strings.Trim(version, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchLead retrieves one lead's field data.
func (c *Client) FetchLead(ctx context.Context, leadgenID, accessToken string) (*Lead, error) {
	if leadgenID == "" {
		return nil, pkgerrors.NewAppError("LEAD_FETCH", "leadgen id is required", pkgerrors.ErrLeadFetch)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, url.PathEscape(leadgenID))
	if c.version == "" {
		endpoint = fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(leadgenID))
	}

	query := url.Values{}
	query.Set("fields", leadFields)
	query.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrLeadFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrLeadFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", pkgerrors.ErrLeadFetch, err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			logger.WarnEvent().
				Str("leadgen_id", leadgenID).
				Int("code", envelope.Error.Code).
				Str("fbtrace_id", envelope.Error.FBTraceID).
				Msg("Graph API rejected lead fetch")
			return nil, pkgerrors.NewAppError("LEAD_FETCH", envelope.Error.Message, fmt.Errorf("%w: %w", pkgerrors.ErrLeadFetch, envelope.Error))
		}
		return nil, fmt.Errorf("%w: unexpected status %d", pkgerrors.ErrLeadFetch, resp.StatusCode)
	}

	var lead Lead
	if err := json.Unmarshal(body, &lead); err != nil {
		return nil, fmt.Errorf("%w: failed to decode lead: %v", pkgerrors.ErrLeadFetch, err)
	}
	if lead.FieldData == nil {
		lead.FieldData = []models.FieldValue{}
	}

	return &lead, nil
}
