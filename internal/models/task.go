// Package models defines the domain types of the time blocker.
package models

// Scope is one of the remote task buckets queried independently.
type Scope string

const (
	ScopeActive   Scope = "active"
	ScopeUpcoming Scope = "upcoming"
	ScopeInbox    Scope = "inbox"
)

// Scopes lists every scope in scan order. Deduplication keeps the first
// occurrence found in this order.
var Scopes = []Scope{ScopeActive, ScopeUpcoming, ScopeInbox}

// Task is a remote Craft task with its markdown already stripped.
type Task struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	DueDate      *string `json:"dueDate,omitempty"`
	ScheduleDate *string `json:"scheduleDate,omitempty"`
	Scope        Scope   `json:"scope"`
}

// HasDueDate reports whether the task carries a non-empty due date.
func (t Task) HasDueDate() bool {
	return t.DueDate != nil && *t.DueDate != ""
}

// Credentials identify the Craft tasks API. Both fields are required together.
type Credentials struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// Configured reports whether both fields are present.
func (c Credentials) Configured() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// Preferences are cosmetic UI settings persisted next to the schedule.
type Preferences struct {
	DarkMode bool `json:"darkMode"`
}
