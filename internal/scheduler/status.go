package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"harvester/internal/model"
)

// DefaultRecentRuns is the number of run summaries returned by Status.
const DefaultRecentRuns = 5

// Status is the operator view of the scheduler.
type Status struct {
	Enabled           bool
	Running           bool
	PublishedToday    int
	PublishedThisHour int
	DailyTarget       int
	MaxPerHour        int
	Intervals         map[model.Priority]time.Duration
	RecentRuns        []model.RunLog
}

// Status returns the current settings, throughput and the last n run logs.
func (s *Scheduler) Status(ctx context.Context, n int) (*Status, error) {
	if n <= 0 {
		n = DefaultRecentRuns
	}
	st, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	runs, err := s.store.ListRunLogs(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}

	today, hour := s.throughput.Published()
	status := &Status{
		Enabled:           st.Enabled,
		Running:           s.Running(),
		PublishedToday:    today,
		PublishedThisHour: hour,
		DailyTarget:       st.DailyArticleTarget,
		MaxPerHour:        st.MaxArticlesPerHour,
		Intervals:         make(map[model.Priority]time.Duration, len(model.Priorities)),
		RecentRuns:        runs,
	}
	for _, p := range model.Priorities {
		status.Intervals[p] = st.Interval(p)
	}
	return status, nil
}

// FormatRunSummary formats a finished cycle for the operator chat.
func FormatRunSummary(r model.RunLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run %s\n", r.Priority, shortID(r.RunID))
	fmt.Fprintf(&b, "Feeds: %d, fetched: %d, processed: %d\n", r.FeedsChecked, r.ItemsFetched, r.ItemsProcessed)
	fmt.Fprintf(&b, "Published: %d, skipped: %d", r.ItemsPublished, r.ItemsSkipped)
	if r.FinishedAt != nil {
		fmt.Fprintf(&b, "\nDuration: %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\n\nErrors (%d):", len(r.Errors))
		for i, e := range r.Errors {
			if i == 5 {
				fmt.Fprintf(&b, "\n  ... and %d more", len(r.Errors)-i)
				break
			}
			fmt.Fprintf(&b, "\n  - %s", e)
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
