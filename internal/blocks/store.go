// Package blocks keeps the user's time blocks and persists every change.
package blocks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/timeblocker/internal/apperr"
	"github.com/starford/timeblocker/internal/markdown"
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/storage"
)

// Defaults for a new block.
const (
	DefaultStartTime = "09:00"
	DefaultEndTime   = "10:00"
	DateLayout       = "2006-01-02"
)

// Field names an editable block field.
type Field string

const (
	FieldStartTime Field = "startTime"
	FieldEndTime   Field = "endTime"
	FieldIsDone    Field = "isDone"
)

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Store is the in-memory block collection mirrored to storage.KeyTimeBlocks.
// Every mutation re-reads the persisted collection, applies its change and
// rewrites the whole collection before returning, all under one lock.
type Store struct {
	mu     sync.Mutex
	kv     storage.Provider
	blocks []models.TimeBlock
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates a Store and loads the persisted collection. Missing or corrupt
// data yields an empty collection.
func Open(kv storage.Provider, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now, logger: slog.Default(), blocks: []models.TimeBlock{}}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload()
	return s
}

// Reload replaces the in-memory collection with the persisted one. A failed
// read keeps the current collection.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		s.logger.Warn("blocks: reload failed, keeping current state", slog.String("error", err.Error()))
	}
}

// syncLocked re-reads the persisted collection into memory so a mutation
// starts from what other processes wrote. Records healed on load are written
// back so their ids stay stable. Callers hold s.mu.
func (s *Store) syncLocked() error {
	loaded, healed, err := s.load()
	if err != nil {
		return err
	}
	s.blocks = loaded
	if healed {
		if err := s.commit(slices.Clone(loaded)); err != nil {
			s.logger.Warn("blocks: persisting healed records failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// load reads the persisted collection. Only a failed read is an error; a
// missing or corrupt record is an empty collection.
func (s *Store) load() ([]models.TimeBlock, bool, error) {
	data, err := s.kv.Get(storage.KeyTimeBlocks)
	if errors.Is(err, apperr.ErrNotFound) {
		return []models.TimeBlock{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("blocks: read: %w", err)
	}
	var stored []models.TimeBlock
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("blocks: stored data is corrupt, starting empty", slog.String("error", err.Error()))
		return []models.TimeBlock{}, false, nil
	}
	healed := false
	out := make([]models.TimeBlock, 0, len(stored))
	for _, b := range stored {
		// Older clients stored raw markdown here.
		if text := markdown.Sanitize(b.TaskText); text != b.TaskText {
			b.TaskText = text
			healed = true
		}
		if b.ID == "" {
			b.ID = newID()
			healed = true
		}
		out = append(out, b)
	}
	return out, healed, nil
}

// commit persists next and, on success, makes it the current collection.
// Callers hold s.mu.
func (s *Store) commit(next []models.TimeBlock) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("blocks: marshal: %w", err)
	}
	if err := s.kv.Set(storage.KeyTimeBlocks, data); err != nil {
		return fmt.Errorf("blocks: persist: %w", err)
	}
	s.blocks = next
	return nil
}

func (s *Store) today() string {
	return s.now().Format(DateLayout)
}

// Add schedules taskID for today from 09:00 to 10:00. The text is sanitized
// once here and never refreshed from the remote task.
func (s *Store) Add(taskID, taskText string) (models.TimeBlock, error) {
	b := models.TimeBlock{
		ID:        newID(),
		TaskID:    taskID,
		TaskText:  markdown.Sanitize(taskText),
		StartTime: DefaultStartTime,
		EndTime:   DefaultEndTime,
		Date:      s.today(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return models.TimeBlock{}, err
	}
	next := append(slices.Clone(s.blocks), b)
	if err := s.commit(next); err != nil {
		return models.TimeBlock{}, err
	}
	return b, nil
}

// Update sets exactly one field of a block. Times must be HH:MM; their order
// is not checked. isDone accepts anything strconv.ParseBool does.
func (s *Store) Update(id models.BlockID, field Field, value string) (models.TimeBlock, error) {
	apply, err := setter(field, value)
	if err != nil {
		return models.TimeBlock{}, err
	}
	return s.mutate(id, apply)
}

// ToggleDone flips the completion flag.
func (s *Store) ToggleDone(id models.BlockID) (models.TimeBlock, error) {
	return s.mutate(id, func(b *models.TimeBlock) { b.IsDone = !b.IsDone })
}

func (s *Store) mutate(id models.BlockID, apply func(*models.TimeBlock)) (models.TimeBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return models.TimeBlock{}, err
	}

	i := s.indexOf(id)
	if i < 0 {
		return models.TimeBlock{}, fmt.Errorf("block %s: %w", id, apperr.ErrNotFound)
	}
	next := slices.Clone(s.blocks)
	apply(&next[i])
	if err := s.commit(next); err != nil {
		return models.TimeBlock{}, err
	}
	return next[i], nil
}

// ValidateField reports whether value is acceptable for field without
// touching any block.
func ValidateField(field Field, value string) error {
	_, err := setter(field, value)
	return err
}

func setter(field Field, value string) (func(*models.TimeBlock), error) {
	switch field {
	case FieldStartTime, FieldEndTime:
		value = strings.TrimSpace(value)
		if err := validation.Validate(value, validation.Required, validation.Match(clockRe)); err != nil {
			return nil, fmt.Errorf("%w: %s must be HH:MM: %v", apperr.ErrInvalid, field, err)
		}
		if field == FieldStartTime {
			return func(b *models.TimeBlock) { b.StartTime = value }, nil
		}
		return func(b *models.TimeBlock) { b.EndTime = value }, nil
	case FieldIsDone:
		done, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: isDone must be a boolean", apperr.ErrInvalid)
		}
		return func(b *models.TimeBlock) { b.IsDone = done }, nil
	default:
		return nil, fmt.Errorf("%w: unknown field %q", apperr.ErrInvalid, field)
	}
}

// Remove deletes a block. Removing an unknown id is a no-op.
func (s *Store) Remove(id models.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return err
	}

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	return s.commit(slices.Delete(slices.Clone(s.blocks), i, i+1))
}

// ResetAll drops every block on every day, including the persisted record.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(storage.KeyTimeBlocks); err != nil {
		return fmt.Errorf("blocks: reset: %w", err)
	}
	s.blocks = []models.TimeBlock{}
	return nil
}

// Get returns a single block.
func (s *Store) Get(id models.BlockID) (models.TimeBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.TimeBlock{}, fmt.Errorf("block %s: %w", id, apperr.ErrNotFound)
	}
	return s.blocks[i], nil
}

// All returns a copy of every block in insertion order.
func (s *Store) All() []models.TimeBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.blocks)
}

// Today returns the blocks dated today, ordered by start time. "Today" is
// evaluated on every call.
func (s *Store) Today() []models.TimeBlock {
	day := s.today()

	s.mu.Lock()
	out := make([]models.TimeBlock, 0, len(s.blocks))
	for _, b := range s.blocks {
		if b.Date == day {
			out = append(out, b)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b models.TimeBlock) int {
		return strings.Compare(a.StartTime, b.StartTime)
	})
	return out
}

func (s *Store) indexOf(id models.BlockID) int {
	return slices.IndexFunc(s.blocks, func(b models.TimeBlock) bool { return b.ID == id })
}

// newID returns a time-ordered UUIDv7, falling back to a random UUID.
func newID() models.BlockID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return models.BlockID(id.String())
}
