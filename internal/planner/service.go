// Package planner is the application controller: it owns the Craft
// credentials, the last aggregated task list and the time-block store, and is
// the only entry point the API, MCP and CLI layers mutate state through.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/singleflight"

	"github.com/starford/timeblocker/internal/apperr"
	"github.com/starford/timeblocker/internal/blocks"
	"github.com/starford/timeblocker/internal/checksum"
	"github.com/starford/timeblocker/internal/craft"
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/storage"
)

// Change event kinds passed to the Notifier.
const (
	EventTasks    = "tasks.updated"
	EventBlocks   = "blocks.updated"
	EventSettings = "settings.updated"
)

// DefaultPageSize is the number of tasks per page.
const DefaultPageSize = 25

// Fetcher aggregates tasks from the remote API.
type Fetcher interface {
	Fetch(ctx context.Context, creds models.Credentials) (craft.Result, error)
}

// Notifier is told about state changes.
type Notifier interface {
	Notify(kind string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind string)

// Notify calls f(kind).
func (f NotifierFunc) Notify(kind string) { f(kind) }

// TaskState is the observable result of the last aggregation.
type TaskState struct {
	Tasks     []models.Task `json:"tasks"`
	Loading   bool          `json:"loading"`
	Error     string        `json:"error,omitempty"`
	Notice    string        `json:"notice,omitempty"`
	FetchedAt *time.Time    `json:"fetchedAt,omitempty"`
	Checksum  string        `json:"checksum,omitempty"`
}

// TaskPage is one page of the task list plus the surrounding state.
type TaskPage struct {
	Tasks      []models.Task `json:"tasks"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
	Total      int           `json:"total"`
	HasPrev    bool          `json:"hasPrev"`
	HasNext    bool          `json:"hasNext"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	Notice     string        `json:"notice,omitempty"`
}

// Service coordinates the aggregator, the block store and local settings.
type Service struct {
	kv       storage.Provider
	blocks   *blocks.Store
	fetcher  Fetcher
	notifier Notifier
	logger   *slog.Logger
	pageSize int
	now      func() time.Time

	refreshes singleflight.Group

	mu       sync.RWMutex
	creds    models.Credentials
	state    TaskState
	inflight int
}

// Option configures a Service.
type Option func(*Service)

// WithPageSize sets the task page size.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service and loads stored credentials.
func NewService(kv storage.Provider, store *blocks.Store, fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		kv:       kv,
		blocks:   store,
		fetcher:  fetcher,
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
		now:      time.Now,
		state:    TaskState{Tasks: []models.Task{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.creds = s.loadCredentials()
	return s
}

func (s *Service) notify(kind string) {
	if s.notifier != nil {
		s.notifier.Notify(kind)
	}
}

// --- credentials ---

func (s *Service) loadCredentials() models.Credentials {
	var c models.Credentials
	data, err := s.kv.Get(storage.KeyCredentials)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("planner: read credentials failed", slog.String("error", err.Error()))
		}
		return c
	}
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("planner: stored credentials are corrupt", slog.String("error", err.Error()))
		return models.Credentials{}
	}
	if !c.Configured() {
		return models.Credentials{}
	}
	return c
}

// NormalizeCredentials trims both values and strips a trailing slash from the URL.
func NormalizeCredentials(baseURL, apiKey string) models.Credentials {
	return models.Credentials{
		BaseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(apiKey),
	}
}

func validateCredentials(c *models.Credentials) error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required.Error("please provide the API base URL")),
		validation.Field(&c.APIKey, validation.Required.Error("please provide your API key")),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	return nil
}

// Configured reports whether credentials are available.
func (s *Service) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Configured()
}

// Credentials returns the current credentials.
func (s *Service) Credentials() models.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SaveCredentials validates and persists credentials. Invalid input changes nothing.
func (s *Service) SaveCredentials(baseURL, apiKey string) (models.Credentials, error) {
	c := NormalizeCredentials(baseURL, apiKey)
	if err := validateCredentials(&c); err != nil {
		return models.Credentials{}, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("planner: marshal credentials: %w", err)
	}
	if err := s.kv.Set(storage.KeyCredentials, data); err != nil {
		return models.Credentials{}, fmt.Errorf("planner: persist credentials: %w", err)
	}

	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	s.notify(EventSettings)
	return c, nil
}

// Configure saves credentials and refreshes the task list with them.
func (s *Service) Configure(ctx context.Context, baseURL, apiKey string) (TaskState, error) {
	if _, err := s.SaveCredentials(baseURL, apiKey); err != nil {
		return TaskState{}, err
	}
	return s.Refresh(ctx)
}

// ClearCredentials forgets the credentials and the tasks loaded with them.
func (s *Service) ClearCredentials() error {
	if err := s.kv.Delete(storage.KeyCredentials); err != nil {
		return fmt.Errorf("planner: clear credentials: %w", err)
	}
	s.mu.Lock()
	s.creds = models.Credentials{}
	s.state = TaskState{Tasks: []models.Task{}, Loading: s.inflight > 0}
	s.mu.Unlock()
	s.notify(EventSettings)
	s.notify(EventTasks)
	return nil
}

// --- tasks ---

// Refresh re-aggregates the task list. Concurrent calls with the same
// credentials share one fetch, and the fetch is not cancelled when ctx is.
// A result fetched with credentials that were replaced or cleared meanwhile
// is discarded.
//
// Fetch failures are reported in TaskState.Error, not as an error; the only
// error returned is apperr.ErrNotConfigured. When nothing could be loaded the
// previously loaded tasks are kept.
func (s *Service) Refresh(ctx context.Context) (TaskState, error) {
	creds := s.Credentials()
	if !creds.Configured() {
		return TaskState{}, apperr.ErrNotConfigured
	}

	v, _, _ := s.refreshes.Do(flightKey(creds), func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), creds), nil
	})
	return v.(TaskState), nil
}

// flightKey identifies a refresh by the credentials it fetches with.
func flightKey(c models.Credentials) string {
	return c.BaseURL + "\n" + checksum.Sum([]byte(c.APIKey))
}

func (s *Service) refresh(ctx context.Context, creds models.Credentials) TaskState {
	s.mu.Lock()
	s.inflight++
	s.state.Loading = true
	s.state.Error = ""
	s.state.Notice = ""
	s.mu.Unlock()

	start := s.now()
	res, err := s.fetcher.Fetch(ctx, creds)
	fetchedAt := s.now()

	s.mu.Lock()
	s.inflight--
	s.state.Loading = s.inflight > 0
	if s.creds != creds {
		st := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("planner: discarding tasks fetched with replaced credentials")
		return st
	}
	if err != nil {
		s.state.Error = "failed to load tasks: " + err.Error()
		st := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Error("planner: refresh failed", slog.String("error", err.Error()))
		return st
	}

	sum, sumErr := checksum.OfJSON(res.Tasks)
	changed := sumErr != nil || sum != s.state.Checksum
	s.state.Tasks = res.Tasks
	s.state.Notice = res.Notice
	s.state.FetchedAt = &fetchedAt
	s.state.Checksum = sum
	st := s.snapshotLocked()
	s.mu.Unlock()

	if sumErr != nil {
		s.logger.Warn("planner: task checksum failed", slog.String("error", sumErr.Error()))
	}
	s.logger.Info("planner: tasks refreshed",
		slog.Int("tasks", len(res.Tasks)),
		slog.Int("failed_scopes", len(res.Failures)),
		slog.Duration("took", fetchedAt.Sub(start)))

	if changed {
		s.notify(EventTasks)
	}
	return st
}

func (s *Service) snapshotLocked() TaskState {
	st := s.state
	st.Tasks = slices.Clone(s.state.Tasks)
	if st.Tasks == nil {
		st.Tasks = []models.Task{}
	}
	return st
}

// State returns a copy of the current task state.
func (s *Service) State() TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Tasks returns the requested 1-based page, clamped to the available range.
func (s *Service) Tasks(page int) TaskPage {
	st := s.State()

	total := len(st.Tasks)
	totalPages := max(1, (total+s.pageSize-1)/s.pageSize)
	page = min(max(page, 1), totalPages)

	start := (page - 1) * s.pageSize
	end := min(start+s.pageSize, total)

	return TaskPage{
		Tasks:      st.Tasks[start:end],
		Page:       page,
		PageSize:   s.pageSize,
		TotalPages: totalPages,
		Total:      total,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
		Loading:    st.Loading,
		Error:      st.Error,
		Notice:     st.Notice,
	}
}

// Task looks up a loaded task by id.
func (s *Service) Task(id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.state.Tasks, func(t models.Task) bool { return t.ID == id })
	if i < 0 {
		return models.Task{}, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	return s.state.Tasks[i], nil
}

// --- blocks ---

// ScheduleTask adds a block for a loaded task, snapshotting its text.
func (s *Service) ScheduleTask(taskID string) (models.TimeBlock, error) {
	t, err := s.Task(taskID)
	if err != nil {
		return models.TimeBlock{}, err
	}
	return s.AddBlock(t.ID, t.Text)
}

// AddBlock adds a block for an arbitrary task id and text.
func (s *Service) AddBlock(taskID, taskText string) (models.TimeBlock, error) {
	if strings.TrimSpace(taskID) == "" {
		return models.TimeBlock{}, fmt.Errorf("%w: taskId is required", apperr.ErrInvalid)
	}
	b, err := s.blocks.Add(taskID, taskText)
	if err != nil {
		return models.TimeBlock{}, err
	}
	s.notify(EventBlocks)
	return b, nil
}

// UpdateBlock sets one field of a block.
func (s *Service) UpdateBlock(id models.BlockID, field blocks.Field, value string) (models.TimeBlock, error) {
	b, err := s.blocks.Update(id, field, value)
	if err != nil {
		return models.TimeBlock{}, err
	}
	s.notify(EventBlocks)
	return b, nil
}

// ToggleBlock flips a block's completion flag.
func (s *Service) ToggleBlock(id models.BlockID) (models.TimeBlock, error) {
	b, err := s.blocks.ToggleDone(id)
	if err != nil {
		return models.TimeBlock{}, err
	}
	s.notify(EventBlocks)
	return b, nil
}

// RemoveBlock deletes a block; unknown ids are ignored.
func (s *Service) RemoveBlock(id models.BlockID) error {
	if err := s.blocks.Remove(id); err != nil {
		return err
	}
	s.notify(EventBlocks)
	return nil
}

// ResetBlocks deletes every block on every day.
func (s *Service) ResetBlocks() error {
	if err := s.blocks.ResetAll(); err != nil {
		return err
	}
	s.logger.Info("planner: all time blocks reset")
	s.notify(EventBlocks)
	return nil
}

// Block returns one block.
func (s *Service) Block(id models.BlockID) (models.TimeBlock, error) {
	return s.blocks.Get(id)
}

// TodayBlocks returns today's blocks ordered by start time.
func (s *Service) TodayBlocks() []models.TimeBlock {
	return s.blocks.Today()
}

// AllBlocks returns every block.
func (s *Service) AllBlocks() []models.TimeBlock {
	return s.blocks.All()
}

// ReloadBlocks re-reads blocks from storage after an external change.
func (s *Service) ReloadBlocks() {
	s.blocks.Reload()
	s.notify(EventBlocks)
}

// --- preferences ---

// Preferences returns the stored preferences, or defaults.
func (s *Service) Preferences() models.Preferences {
	var p models.Preferences
	data, err := s.kv.Get(storage.KeyPreferences)
	if err != nil {
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("planner: stored preferences are corrupt", slog.String("error", err.Error()))
		return models.Preferences{}
	}
	return p
}

// SetPreferences persists p.
func (s *Service) SetPreferences(p models.Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("planner: marshal preferences: %w", err)
	}
	if err := s.kv.Set(storage.KeyPreferences, data); err != nil {
		return fmt.Errorf("planner: persist preferences: %w", err)
	}
	s.notify(EventSettings)
	return nil
}
