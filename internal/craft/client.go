// Package craft talks to the Craft tasks API and merges its scopes into one
// ordered task list.
package craft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/timeblocker/internal/markdown"
	"github.com/starford/timeblocker/internal/models"
)

// DefaultTimeout bounds a single scope request.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is folded into the error.
const maxErrorBody = 4 << 10

// ScopeError reports why one scope could not be fetched.
type ScopeError struct {
	Scope      models.Scope
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("failed for scope %q: %v", e.Scope, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

type listResponse struct {
	Items []listItem `json:"items"`
}

type listItem struct {
	ID       string `json:"id"`
	Markdown string `json:"markdown"`
	DueDate  string `json:"dueDate"`
	TaskInfo *struct {
		ScheduleDate string `json:"scheduleDate"`
	} `json:"taskInfo"`
}

// Client fetches a single scope of tasks.
type Client struct {
	http *http.Client
}

// NewClient returns a Client using hc, or a client with DefaultTimeout when hc is nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: hc}
}

// FetchScope issues GET <base>/tasks?scope=<scope> and returns its tasks with
// sanitized text. A missing or null items array yields no tasks.
func (c *Client) FetchScope(ctx context.Context, creds models.Credentials, scope models.Scope) ([]models.Task, error) {
	endpoint := creds.BaseURL + "/tasks?scope=" + url.QueryEscape(string(scope))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ScopeError{Scope: scope, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ScopeError{Scope: scope, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := resp.Status
		if text := strings.TrimSpace(string(body)); text != "" {
			msg += ": " + text
		}
		return nil, &ScopeError{Scope: scope, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ScopeError{Scope: scope, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	tasks := make([]models.Task, 0, len(payload.Items))
	for _, it := range payload.Items {
		t := models.Task{
			ID:      it.ID,
			Text:    markdown.Sanitize(it.Markdown),
			DueDate: optional(it.DueDate),
			Scope:   scope,
		}
		if it.TaskInfo != nil {
			t.ScheduleDate = optional(it.TaskInfo.ScheduleDate)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
