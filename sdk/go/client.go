package dealflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dealflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// OperatorID names the caller when the server runs without a JWT secret.
	OperatorID string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path,
// e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Deal represents a pipeline deal.
type Deal struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Company      string  `json:"company"`
	ContactName  string  `json:"contact_name"`
	ContactEmail string  `json:"contact_email"`
	Stage        string  `json:"stage"`
	CreatedAt    string  `json:"created_at"`
}

// Summary is the pipeline analytics block.
type Summary struct {
	Count       int     `json:"count"`
	TotalValue  float64 `json:"total_value"`
	ActiveDeals int     `json:"active_deals"`
	ActiveValue float64 `json:"active_value"`
	WonDeals    int     `json:"won_deals"`
	WonValue    float64 `json:"won_value"`
	LostDeals   int     `json:"lost_deals"`
	LostValue   float64 `json:"lost_value"`
	WinRate     int     `json:"win_rate"`
}

type StageTotal struct {
	Stage string  `json:"stage"`
	Label string  `json:"label"`
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// SummaryResponse pairs the summary text with its numbers.
type SummaryResponse struct {
	Message string       `json:"message"`
	Summary Summary      `json:"summary"`
	Stages  []StageTotal `json:"stages"`
}

type Resolution struct {
	Approved bool   `json:"approved"`
	Outcome  string `json:"outcome,omitempty"`
	Applied  bool   `json:"applied"`
	Message  string `json:"message,omitempty"`
}

// Proposal is a confirmed action waiting on, or decided by, the operator.
type Proposal struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Target     string            `json:"target,omitempty"`
	DealID     string            `json:"deal_id,omitempty"`
	Params     map[string]string `json:"params"`
	State      string            `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	CreatedAt  string            `json:"created_at"`
	ExpiresAt  string            `json:"expires_at,omitempty"`
	ResolvedAt string            `json:"resolved_at,omitempty"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
	Resolution *Resolution       `json:"resolution,omitempty"`
}

// ActionResult is the reply to an action invocation.
type ActionResult struct {
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	Rejection string    `json:"rejection,omitempty"`
	Deal      *Deal     `json:"deal,omitempty"`
	Proposal  *Proposal `json:"proposal,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
	Approved  *bool     `json:"approved,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
}

// Notification is an entry of the durable notification log.
type Notification struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Icon      string `json:"icon,omitempty"`
	DealID    string `json:"deal_id,omitempty"`
	Celebrate bool   `json:"celebrate,omitempty"`
	At        string `json:"at"`
}

// PaginatedNotifications wraps list responses with cursors.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListDeals returns deals in board order, optionally filtered to one stage.
func (c *Client) ListDeals(ctx context.Context, stage string) ([]Deal, error) {
	endpoint := "deals"
	if stage != "" {
		endpoint += "?stage=" + url.QueryEscape(stage)
	}
	var resp struct {
		Items []Deal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Summary returns pipeline analytics.
func (c *Client) Summary(ctx context.Context) (SummaryResponse, error) {
	var resp SummaryResponse
	err := c.do(ctx, http.MethodGet, "summary", nil, &resp)
	return resp, err
}

// InvokeAction runs a named action. With wait, close_deal and delete_deal block
// until the operator decides and Approved is set.
func (c *Client) InvokeAction(ctx context.Context, name string, args any, wait bool) (ActionResult, error) {
	endpoint := "actions/" + url.PathEscape(name)
	if wait {
		endpoint += "?wait=true"
	}
	if args == nil {
		args = map[string]any{}
	}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, endpoint, args, &resp)
	return resp, err
}

// ListProposals lists proposals by state: pending, resolved or all.
func (c *Client) ListProposals(ctx context.Context, state string) ([]Proposal, error) {
	endpoint := "proposals"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp struct {
		Items []Proposal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetProposal fetches a proposal by id.
func (c *Client) GetProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodGet, "proposals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ResolveProposal confirms or cancels a proposal as the calling operator.
func (c *Client) ResolveProposal(ctx context.Context, id string, confirm bool) (Proposal, error) {
	verb := "cancel"
	if confirm {
		verb = "confirm"
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("proposals/%s/%s", url.PathEscape(id), verb), nil, &resp)
	return resp, err
}

// AmendProposal supplies missing arguments to a draft proposal.
func (c *Client) AmendProposal(ctx context.Context, id string, params map[string]string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPatch, "proposals/"+url.PathEscape(id), map[string]any{"params": params}, &resp)
	return resp, err
}

// ListNotifications returns logged notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit int, cursor, kind string) (PaginatedNotifications, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	endpoint := "notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.OperatorID != "" {
		req.Header.Set("X-Operator-Id", c.OperatorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
