package trackersdk

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

// Client is a minimal Tracker HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// Timezone, when set, is sent as the X-Timezone header so date fields
	// decode relative to the caller's zone.
	Timezone   string
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

// Template represents the API template model.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Locked    bool   `json:"locked"`
	CreatedAt string `json:"created_at"`
}

// State represents a workflow state.
type State struct {
	ID                 string  `json:"id"`
	TemplateID         string  `json:"template_id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	ResponsibleMode    string  `json:"responsible_mode"`
	DefaultNextStateID *string `json:"default_next_state_id,omitempty"`
}

// Field represents a typed field attached to a state.
type Field struct {
	ID       string `json:"id"`
	StateID  string `json:"state_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position int    `json:"position"`
	Required bool   `json:"required"`
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID            string  `json:"id"`
	RowID         int64   `json:"row_id"`
	TemplateID    string  `json:"template_id"`
	StateID       string  `json:"state_id"`
	Subject       string  `json:"subject"`
	AuthorID      string  `json:"author_id"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
}

// FieldValue is one decoded field value as the caller sees it.
type FieldValue struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	Value     string `json:"value"`
	Display   string `json:"display"`
}

// HistoryEntry is one visible row of an issue's change ledger.
type HistoryEntry struct {
	EventType string  `json:"event_type"`
	ActorID   string  `json:"actor_id"`
	CreatedAt string  `json:"created_at"`
	FieldID   *string `json:"field_id,omitempty"`
	FieldName *string `json:"field_name,omitempty"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTemplate creates a template.
func (c *Client) CreateTemplate(ctx context.Context, name string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, "v0/templates", map[string]any{"name": name}, &resp)
	return resp, err
}

// ListTemplates returns all templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var resp []Template
	err := c.do(ctx, http.MethodGet, "v0/templates", nil, &resp)
	return resp, err
}

// CreateState adds a state to a template.
func (c *Client) CreateState(ctx context.Context, templateID, name, stateType string) (State, error) {
	body := map[string]any{"name": name}
	if stateType != "" {
		body["type"] = stateType
	}
	var resp State
	endpoint := fmt.Sprintf("v0/templates/%s/states", url.PathEscape(templateID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateField adds a field to a state. Extra parameters (bounds, default,
// patterns) go through params as-is.
func (c *Client) CreateField(ctx context.Context, stateID, name, fieldType string, params map[string]any) (Field, error) {
	body := map[string]any{"name": name, "type": fieldType}
	for k, v := range params {
		body[k] = v
	}
	var resp Field
	endpoint := fmt.Sprintf("v0/states/%s/fields", url.PathEscape(stateID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateIssue opens an issue at the template's initial state.
func (c *Client) CreateIssue(ctx context.Context, templateID, subject string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", map[string]any{
		"template_id": templateID,
		"subject":     subject,
	}, &resp)
	return resp, err
}

// Transition moves an issue to another state.
func (c *Client) Transition(ctx context.Context, issueID, stateID string, responsibleID *string) (Issue, error) {
	body := map[string]any{"state_id": stateID}
	if responsibleID != nil {
		body["responsible_id"] = *responsibleID
	}
	var resp Issue
	endpoint := fmt.Sprintf("v0/issues/%s/transition", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetFieldValue writes one typed value and returns the decoded view.
func (c *Client) SetFieldValue(ctx context.Context, issueID, fieldID, value string) (FieldValue, error) {
	var resp FieldValue
	endpoint := fmt.Sprintf("v0/issues/%s/fields/%s", url.PathEscape(issueID), url.PathEscape(fieldID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

// FieldValues returns the issue's values visible to the caller.
func (c *Client) FieldValues(ctx context.Context, issueID string) ([]FieldValue, error) {
	var resp []FieldValue
	endpoint := fmt.Sprintf("v0/issues/%s/fields", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns the issue's change history visible to the caller.
func (c *Client) History(ctx context.Context, issueID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("v0/issues/%s/history", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.Timezone != "" {
		req.Header.Set("X-Timezone", c.Timezone)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
