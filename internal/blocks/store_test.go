package blocks

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timeblocker/internal/apperr"
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/storage"
)

var fixedNow = time.Date(2024, 3, 14, 15, 4, 5, 0, time.Local)

func clock() time.Time { return fixedNow }

func newStore(t *testing.T) (*Store, storage.Provider) {
	t.Helper()
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	return Open(kv, WithClock(clock)), kv
}

func TestAddDefaults(t *testing.T) {
	s, _ := newStore(t)

	b, err := s.Add("t1", "Task")
	require.NoError(t, err)

	today := s.Today()
	require.Len(t, today, 1)
	got := today[0]
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "Task", got.TaskText)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, "10:00", got.EndTime)
	assert.Equal(t, "2024-03-14", got.Date)
	assert.False(t, got.IsDone)
}

func TestAddSanitizesText(t *testing.T) {
	s, _ := newStore(t)
	b, err := s.Add("t1", "- [ ] **Write** the [report](http://x)")
	require.NoError(t, err)
	assert.Equal(t, "Write the report", b.TaskText)
}

func TestAddSameTaskTwice(t *testing.T) {
	s, _ := newStore(t)
	a, err := s.Add("t1", "Task")
	require.NoError(t, err)
	b, err := s.Add("t1", "Task")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, s.All(), 2)
}

func TestUpdateChangesOnlyThatField(t *testing.T) {
	s, _ := newStore(t)
	b, err := s.Add("t1", "Task")
	require.NoError(t, err)

	updated, err := s.Update(b.ID, FieldStartTime, "08:00")
	require.NoError(t, err)

	want := b
	want.StartTime = "08:00"
	assert.Equal(t, want, updated)
	assert.Equal(t, []models.TimeBlock{want}, s.Today())
}

func TestUpdateAllowsEndBeforeStart(t *testing.T) {
	s, _ := newStore(t)
	b, _ := s.Add("t1", "Task")

	got, err := s.Update(b.ID, FieldEndTime, "07:30")
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, "07:30", got.EndTime)
}

func TestUpdateIsDone(t *testing.T) {
	s, _ := newStore(t)
	b, _ := s.Add("t1", "Task")

	got, err := s.Update(b.ID, FieldIsDone, "true")
	require.NoError(t, err)
	assert.True(t, got.IsDone)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	s, _ := newStore(t)
	b, _ := s.Add("t1", "Task")

	tests := []struct {
		field Field
		value string
	}{
		{FieldStartTime, "9:00"},
		{FieldStartTime, "24:00"},
		{FieldEndTime, ""},
		{FieldIsDone, "maybe"},
		{Field("date"), "2024-01-01"},
	}
	for _, tc := range tests {
		_, err := s.Update(b.ID, tc.field, tc.value)
		assert.ErrorIs(t, err, apperr.ErrInvalid, "%s=%q", tc.field, tc.value)
	}
	got, err := s.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestUpdateUnknownBlock(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Update("missing", FieldStartTime, "08:00")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestToggleDone(t *testing.T) {
	s, _ := newStore(t)
	b, _ := s.Add("t1", "Task")

	got, err := s.ToggleDone(b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDone)

	got, err = s.ToggleDone(b.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDone)

	_, err = s.ToggleDone("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemove(t *testing.T) {
	s, _ := newStore(t)
	b, _ := s.Add("t1", "Task")

	require.NoError(t, s.Remove(b.ID))
	assert.Empty(t, s.Today())

	// Unknown ids are ignored.
	assert.NoError(t, s.Remove(b.ID))
}

func TestTodayFiltersAndSorts(t *testing.T) {
	s, kv := newStore(t)
	stored := []models.TimeBlock{
		{ID: "1", TaskID: "a", TaskText: "Late", StartTime: "14:00", EndTime: "15:00", Date: "2024-03-14"},
		{ID: "2", TaskID: "b", TaskText: "Yesterday", StartTime: "07:00", EndTime: "08:00", Date: "2024-03-13"},
		{ID: "3", TaskID: "c", TaskText: "Early", StartTime: "08:30", EndTime: "09:00", Date: "2024-03-14"},
	}
	data, _ := json.Marshal(stored)
	require.NoError(t, kv.Set(storage.KeyTimeBlocks, data))
	s.Reload()

	today := s.Today()
	require.Len(t, today, 2)
	assert.Equal(t, models.BlockID("3"), today[0].ID)
	assert.Equal(t, models.BlockID("1"), today[1].ID)
	assert.Len(t, s.All(), 3)
}

func TestTodayEvaluatedPerCall(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	now := fixedNow
	s := Open(kv, WithClock(func() time.Time { return now }))

	_, err = s.Add("t1", "Task")
	require.NoError(t, err)
	require.Len(t, s.Today(), 1)

	now = now.AddDate(0, 0, 1)
	assert.Empty(t, s.Today())
	assert.Len(t, s.All(), 1)
}

func TestPersistenceSurvivesReload(t *testing.T) {
	s, kv := newStore(t)
	a, _ := s.Add("t1", "First")
	b, _ := s.Add("t2", "Second")
	_, err := s.Update(b.ID, FieldEndTime, "11:15")
	require.NoError(t, err)
	_, err = s.ToggleDone(a.ID)
	require.NoError(t, err)

	reopened := Open(kv, WithClock(clock))
	assert.Equal(t, s.All(), reopened.All())
}

func TestResetAll(t *testing.T) {
	s, kv := newStore(t)
	_, _ = s.Add("t1", "Task")

	require.NoError(t, s.ResetAll())
	assert.Empty(t, s.All())

	_, err := kv.Get(storage.KeyTimeBlocks)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoadCorruptDataIsEmpty(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, kv.Set(storage.KeyTimeBlocks, []byte("{not json")))

	s := Open(kv, WithClock(clock))
	assert.Empty(t, s.All())

	// The store stays usable.
	_, err = s.Add("t1", "Task")
	assert.NoError(t, err)
}

func TestLoadHealsLegacyRecords(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	legacy := `[{"id":1710428645000,"taskId":"t1","taskText":"**Bold** task","startTime":"09:00","endTime":"10:00","date":"2024-03-14"}]`
	require.NoError(t, kv.Set(storage.KeyTimeBlocks, []byte(legacy)))

	s := Open(kv, WithClock(clock))
	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.BlockID("1710428645000"), all[0].ID)
	assert.Equal(t, "Bold task", all[0].TaskText)
	assert.False(t, all[0].IsDone)

	_, err = s.ToggleDone("1710428645000")
	assert.NoError(t, err)
}

type failingKV struct {
	storage.Provider
}

func (failingKV) Set(string, []byte) error { return errors.New("disk full") }

func TestFailedPersistLeavesStateUnchanged(t *testing.T) {
	s, kv := newStore(t)
	b, _ := s.Add("t1", "Task")

	s.kv = failingKV{Provider: kv}
	_, err := s.Update(b.ID, FieldStartTime, "08:00")
	require.Error(t, err)
	_, err = s.Add("t2", "Other")
	require.Error(t, err)

	assert.Equal(t, []models.TimeBlock{b}, s.All())
}

// gatedKV pauses the first Get after arm until release is closed.
type gatedKV struct {
	storage.Provider
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Get(key string) ([]byte, error) {
	data, err := g.Provider.Get(key)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return data, err
}

func TestReloadDoesNotDropConcurrentAdd(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	kv := &gatedKV{Provider: fs, entered: make(chan struct{}), release: make(chan struct{})}
	s := Open(kv, WithClock(clock))

	_, err = s.Add("a", "A")
	require.NoError(t, err)

	kv.armed.Store(true)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Reload()
	}()
	<-kv.entered

	var addErr error
	go func() {
		defer wg.Done()
		_, addErr = s.Add("b", "B")
	}()
	// Give Add the chance to race the paused reload.
	time.Sleep(20 * time.Millisecond)
	close(kv.release)
	wg.Wait()
	require.NoError(t, addErr)

	_, err = s.Add("c", "C")
	require.NoError(t, err)

	var ids []string
	for _, b := range Open(fs, WithClock(clock)).All() {
		ids = append(ids, b.TaskID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Len(t, s.All(), 3)
}

func TestMutationsSeeOtherWriters(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	server := Open(kv, WithClock(clock))
	other := Open(kv, WithClock(clock))

	fromServer, err := server.Add("t1", "from-http")
	require.NoError(t, err)
	_, err = other.Add("t2", "from-mcp")
	require.NoError(t, err)

	// The second store also edits a block it never loaded itself.
	_, err = other.ToggleDone(fromServer.ID)
	require.NoError(t, err)

	all := Open(kv, WithClock(clock)).All()
	require.Len(t, all, 2)
	assert.Equal(t, "from-http", all[0].TaskText)
	assert.True(t, all[0].IsDone)
	assert.Equal(t, "from-mcp", all[1].TaskText)
}

type brokenReadKV struct {
	storage.Provider
}

func (brokenReadKV) Get(string) ([]byte, error) { return nil, errors.New("io error") }

func TestFailedReadDoesNotOverwrite(t *testing.T) {
	s, kv := newStore(t)
	b, err := s.Add("t1", "Task")
	require.NoError(t, err)

	s.kv = brokenReadKV{Provider: kv}
	_, err = s.Add("t2", "Other")
	require.Error(t, err)
	s.Reload()
	assert.Equal(t, []models.TimeBlock{b}, s.All())

	s.kv = kv
	assert.Equal(t, []models.TimeBlock{b}, Open(kv, WithClock(clock)).All())
}

func TestLoadPersistsHealedIDs(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, kv.Set(storage.KeyTimeBlocks,
		[]byte(`[{"taskId":"t1","taskText":"Task","startTime":"09:00","endTime":"10:00","date":"2024-03-14"}]`)))

	s := Open(kv, WithClock(clock))
	all := s.All()
	require.Len(t, all, 1)
	require.NotEmpty(t, all[0].ID)

	// The generated id survives the re-read every mutation performs.
	_, err = s.ToggleDone(all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, Open(kv, WithClock(clock)).All()[0].ID)
}
