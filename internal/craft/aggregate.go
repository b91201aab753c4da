package craft

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/timeblocker/internal/apperr"
	"github.com/starford/timeblocker/internal/models"
)

// NoTasksNotice is the informational message for a successful but empty fetch.
const NoTasksNotice = "No tasks found in Craft. Try creating some tasks first."

// ScopeFetcher fetches the tasks of one scope.
type ScopeFetcher interface {
	FetchScope(ctx context.Context, creds models.Credentials, scope models.Scope) ([]models.Task, error)
}

// FetchError is returned when no task could be loaded and at least one scope failed.
type FetchError struct {
	// Failures holds every scope error in scope order; the last one is reported.
	Failures []error
}

func (e *FetchError) Error() string {
	return "API Error: " + e.Failures[len(e.Failures)-1].Error()
}

func (e *FetchError) Unwrap() []error { return e.Failures }

// Result is the outcome of one aggregation.
type Result struct {
	Tasks []models.Task
	// Failures lists scopes that failed while others still produced tasks.
	Failures []error
	// Notice is set when every scope succeeded but none had tasks.
	Notice string
}

// Aggregator merges the task scopes into one deduplicated, ordered list.
type Aggregator struct {
	fetcher ScopeFetcher
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator. A nil logger falls back to slog.Default().
func NewAggregator(fetcher ScopeFetcher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{fetcher: fetcher, logger: logger}
}

type scopeOutcome struct {
	tasks []models.Task
	err   error
}

// Fetch queries every scope concurrently and waits for all of them to settle;
// one scope failing never cancels or hides the others.
func (a *Aggregator) Fetch(ctx context.Context, creds models.Credentials) (Result, error) {
	if !creds.Configured() {
		return Result{}, apperr.ErrNotConfigured
	}

	outcomes := make([]scopeOutcome, len(models.Scopes))
	var g errgroup.Group
	for i, scope := range models.Scopes {
		g.Go(func() error {
			tasks, err := a.fetcher.FetchScope(ctx, creds, scope)
			outcomes[i] = scopeOutcome{tasks: tasks, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged   []models.Task
		failures []error
	)
	for i, o := range outcomes {
		if o.err != nil {
			a.logger.Warn("craft: scope fetch failed",
				slog.String("scope", string(models.Scopes[i])),
				slog.String("error", o.err.Error()))
			failures = append(failures, o.err)
			continue
		}
		merged = append(merged, o.tasks...)
	}

	if len(merged) == 0 && len(failures) > 0 {
		return Result{}, &FetchError{Failures: failures}
	}

	tasks := Dedup(merged)
	SortTasks(tasks)

	res := Result{Tasks: tasks, Failures: failures}
	if len(tasks) == 0 {
		res.Notice = NoTasksNotice
	}
	return res, nil
}

// Dedup keeps the first task seen for each id.
func Dedup(tasks []models.Task) []models.Task {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SortTasks orders tasks in place: due-dated tasks first by ascending due
// date (ISO strings compare bytewise), then undated tasks alphabetically by
// text using English collation.
func SortTasks(tasks []models.Task) {
	col := collate.New(language.English)
	slices.SortStableFunc(tasks, func(a, b models.Task) int {
		aDue, bDue := a.HasDueDate(), b.HasDueDate()
		switch {
		case aDue && !bDue:
			return -1
		case !aDue && bDue:
			return 1
		case aDue && bDue:
			return strings.Compare(*a.DueDate, *b.DueDate)
		default:
			return col.CompareString(a.Text, b.Text)
		}
	})
}
