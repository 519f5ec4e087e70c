package mindlocksdk

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

// Client is a minimal Mindlock HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Sentiment holds the scored emotional read of an entry.
type Sentiment struct {
	Compound float64  `json:"compound"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// PostAssessment is the self-reported state after reflection.
type PostAssessment struct {
	Stress  int `json:"stress"`
	Tension int `json:"tension,omitempty"`
	Energy  int `json:"energy,omitempty"`
}

// CompletedTask is one task completion attached to a session.
type CompletedTask struct {
	TaskID           string `json:"task_id"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	CompletedAt      string `json:"completed_at"`
}

// Session represents the API session model. Entry text, sentiment, and
// final score are absent while the session is LOCKED.
type Session struct {
	ID             string          `json:"id"`
	EntryText      string          `json:"entry_text,omitempty"`
	InitialScore   int             `json:"initial_score"`
	Sentiment      *Sentiment      `json:"sentiment,omitempty"`
	Status         string          `json:"status"`
	PostAssessment *PostAssessment `json:"post_assessment,omitempty"`
	FinalScore     *int            `json:"final_score,omitempty"`
	CompletedTasks []CompletedTask `json:"completed_tasks"`
	CreatedAt      string          `json:"created_at"`
	UnlockedAt     *string         `json:"unlocked_at,omitempty"`
}

// SessionStatus summarizes progress toward an unlock.
type SessionStatus struct {
	SessionID      string          `json:"session_id"`
	Status         string          `json:"status"`
	InitialScore   int             `json:"initial_score"`
	UnlockCost     int64           `json:"unlock_cost"`
	CompletedTasks []CompletedTask `json:"completed_tasks"`
}

// TaskDef is a catalog task.
type TaskDef struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"duration_seconds"`
	GemReward       int64  `json:"gem_reward"`
}

// CompleteTaskResult reports the reward for a task completion.
type CompleteTaskResult struct {
	TaskID     string `json:"task_id"`
	GemsEarned int64  `json:"gems_earned"`
	NewBalance int64  `json:"new_balance"`
}

// UnlockResult is the revealed session plus the remaining balance.
type UnlockResult struct {
	Session    Session `json:"session"`
	NewBalance int64   `json:"new_balance"`
}

// LedgerEntry is one gem balance change.
type LedgerEntry struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Cause       string `json:"cause"`
	CauseRefID  string `json:"cause_ref_id,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Me is the authenticated user's profile.
type Me struct {
	UserID string `json:"user_id"`
	Gems   int64  `json:"gems"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSessions wraps session listings with a cursor.
type PaginatedSessions struct {
	Items      []Session `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedLedger wraps ledger listings with a cursor.
type PaginatedLedger struct {
	Items      []LedgerEntry `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateSession captures a journal entry. The returned session is LOCKED.
func (c *Client) CreateSession(ctx context.Context, text string) (Session, error) {
	body := map[string]any{"text": text}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/sessions", body, &resp)
	return resp, err
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/sessions/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SessionStatus fetches progress and unlock cost for a session.
func (c *Client) SessionStatus(ctx context.Context, id string) (SessionStatus, error) {
	var resp SessionStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/sessions/%s/status", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Sessions returns a paginated session listing.
func (c *Client) Sessions(ctx context.Context, limit int, cursor string) (PaginatedSessions, error) {
	var resp PaginatedSessions
	err := c.do(ctx, http.MethodGet, paged("v1/sessions", limit, cursor), nil, &resp)
	return resp, err
}

// CompleteTask records a task completion and credits its gem reward.
// durationSeconds of 0 defaults to the catalog duration.
func (c *Client) CompleteTask(ctx context.Context, sessionID, taskID string, durationSeconds int) (CompleteTaskResult, error) {
	body := map[string]any{"duration_seconds": durationSeconds}
	endpoint := fmt.Sprintf("v1/sessions/%s/tasks/%s/complete", url.PathEscape(sessionID), url.PathEscape(taskID))
	var resp CompleteTaskResult
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UnlockSession spends gems to reveal a session.
func (c *Client) UnlockSession(ctx context.Context, sessionID string, assessment PostAssessment, gemsToSpend int64) (UnlockResult, error) {
	body := map[string]any{
		"post_assessment": assessment,
		"gems_to_spend":   gemsToSpend,
	}
	endpoint := fmt.Sprintf("v1/sessions/%s/unlock", url.PathEscape(sessionID))
	var resp UnlockResult
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Tasks returns the task catalog. The endpoint replies with a bare array,
// not a cursored listing.
func (c *Client) Tasks(ctx context.Context) ([]TaskDef, error) {
	var resp []TaskDef
	err := c.do(ctx, http.MethodGet, "v1/tasks", nil, &resp)
	return resp, err
}

// Me returns the authenticated user's id and gem balance.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// GemHistory returns a paginated ledger listing.
func (c *Client) GemHistory(ctx context.Context, limit int, cursor string) (PaginatedLedger, error) {
	var resp PaginatedLedger
	err := c.do(ctx, http.MethodGet, paged("v1/gems/history", limit, cursor), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, paged("v1/events", limit, cursor), nil, &resp)
	return resp, err
}

func paged(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
