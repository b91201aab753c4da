// Package testutil provides shared test helpers: a fake Craft tasks API and
// throwaway storage.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/timeblocker/internal/storage"
)

// Item is a task as served by the fake API.
type Item struct {
	ID       string `json:"id"`
	Markdown string `json:"markdown"`
	DueDate  string `json:"dueDate,omitempty"`
}

// ScopeReply configures the fake response for one scope.
type ScopeReply struct {
	Status int    // defaults to 200
	Body   string // raw body; overrides Items when set
	Items  []Item
}

// FakeCraft is an httptest server speaking the Craft tasks API.
type FakeCraft struct {
	*httptest.Server
	APIKey string

	mu       sync.Mutex
	replies  map[string]ScopeReply
	requests []*http.Request
}

// NewFakeCraft starts a fake API that accepts apiKey. Scopes without a reply
// return an empty items array.
func NewFakeCraft(t *testing.T, apiKey string) *FakeCraft {
	t.Helper()
	f := &FakeCraft{APIKey: apiKey, replies: map[string]ScopeReply{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Reply sets the response for scope.
func (f *FakeCraft) Reply(scope string, r ScopeReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[scope] = r
}

// Requests returns the requests received so far.
func (f *FakeCraft) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func (f *FakeCraft) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	reply, ok := f.replies[r.URL.Query().Get("scope")]
	f.mu.Unlock()

	if r.URL.Path != "/tasks" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.APIKey {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	if !ok {
		reply = ScopeReply{Items: []Item{}}
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if reply.Body != "" {
		_, _ = w.Write([]byte(reply.Body))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": reply.Items})
}

// TempSQLite opens a SQLite provider in a temp dir that is closed on cleanup.
func TempSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "timeblocker-test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
