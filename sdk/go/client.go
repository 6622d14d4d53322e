package taxlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taxline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; the server only
	// honours it with legacy header auth enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Engagement represents the API engagement model (partial).
type Engagement struct {
	ID                     string     `json:"id"`
	ClientID               string     `json:"client_id"`
	EntityID               string     `json:"entity_id"`
	TaxYear                int        `json:"tax_year"`
	Status                 string     `json:"status"`
	EngagementSigned       bool       `json:"engagement_signed"`
	DocConfirmationSigned  bool       `json:"doc_confirmation_signed"`
	QuestionnaireCompleted bool       `json:"questionnaire_completed"`
	IDValid                bool       `json:"id_valid"`
	ReadyForPrep           bool       `json:"ready_for_prep"`
	ExtensionRequested     bool       `json:"extension_requested"`
	ExtensionFiled         bool       `json:"extension_filed"`
	ExtendedDueDate        *time.Time `json:"extended_due_date,omitempty"`
	Version                int64      `json:"version"`
}

// TransitionResult is returned by a successful transition.
type TransitionResult struct {
	Success    bool       `json:"success"`
	Warning    string     `json:"warning,omitempty"`
	Engagement Engagement `json:"engagement"`
}

// Readiness lists what still blocks preparation.
type Readiness struct {
	EngagementID string   `json:"engagement_id"`
	Ready        bool     `json:"ready"`
	Reasons      []string `json:"reasons"`
}

// HistoryEntry is one applied status change.
type HistoryEntry struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Actor      struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	TS     time.Time `json:"ts"`
}

// ReminderState is the schedule of one reminder stream.
type ReminderState struct {
	EngagementID string     `json:"engagement_id"`
	Stream       string     `json:"stream"`
	NextDueAt    *time.Time `json:"next_due_at,omitempty"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`
	SentCount    int        `json:"sent_count"`
	Paused       bool       `json:"paused"`
	PausedReason string     `json:"paused_reason,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// BlockedReasons returns the unmet readiness gates when err is a blocked transition.
func BlockedReasons(err error) ([]string, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "blocked_transition" {
		return nil, false
	}
	raw, _ := apiErr.Details["reasons"].([]any)
	reasons := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			reasons = append(reasons, s)
		}
	}
	return reasons, true
}

// EnsureEngagement creates or returns the engagement for a client entity and tax year.
func (c *Client) EnsureEngagement(ctx context.Context, clientID, entityID string, taxYear int) (Engagement, bool, error) {
	body := map[string]any{
		"client_id": clientID,
		"entity_id": entityID,
		"tax_year":  taxYear,
	}
	var resp struct {
		Engagement Engagement `json:"engagement"`
		Created    bool       `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, "engagements", body, &resp)
	return resp.Engagement, resp.Created, err
}

// GetEngagement fetches an engagement by id.
func (c *Client) GetEngagement(ctx context.Context, id string) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodGet, engagementPath(id, ""), nil, &resp)
	return resp, err
}

// Transition moves an engagement. Blocked moves fail with an *APIError; see BlockedReasons.
func (c *Client) Transition(ctx context.Context, id, target, reason string, allowSoftWarnings bool) (TransitionResult, error) {
	body := map[string]any{"target": target}
	if reason != "" {
		body["reason"] = reason
	}
	if allowSoftWarnings {
		body["allow_soft_warnings"] = true
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, engagementPath(id, "transition"), body, &resp)
	return resp, err
}

// Readiness returns readiness for preparation with blocking reasons.
func (c *Client) Readiness(ctx context.Context, id string) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodGet, engagementPath(id, "readiness"), nil, &resp)
	return resp, err
}

// SetFlag sets one readiness flag.
func (c *Client) SetFlag(ctx context.Context, id, flag string, value bool) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPut, engagementPath(id, "flags/"+url.PathEscape(flag)), map[string]any{"value": value}, &resp)
	return resp, err
}

// History returns the status history, newest first.
func (c *Client) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	endpoint := engagementPath(id, "history")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DueReminders lists reminders due now; an empty stream matches all streams.
func (c *Client) DueReminders(ctx context.Context, stream string) ([]ReminderState, error) {
	endpoint := "reminders/due"
	if stream != "" {
		endpoint += "?stream=" + url.QueryEscape(stream)
	}
	var resp struct {
		Items []ReminderState `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func engagementPath(id, sub string) string {
	p := "engagements/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
