package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"harvester/internal/fetcher"
	"harvester/internal/model"
	"harvester/internal/similarity"
	"harvester/internal/storage"
)

type mockSource struct {
	mu      sync.Mutex
	results map[string]*fetcher.Result
	errs    map[string]error
	calls   map[string]int
}

func newMockSource() *mockSource {
	return &mockSource{
		results: make(map[string]*fetcher.Result),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (m *mockSource) Fetch(_ context.Context, url string) (*fetcher.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[url]++
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	if res, ok := m.results[url]; ok {
		return res, nil
	}
	return &fetcher.Result{}, nil
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addFeed(t *testing.T, s *storage.SQLite, f model.FeedSource) model.FeedSource {
	t.Helper()
	if _, err := s.SyncFeed(context.Background(), &f); err != nil {
		t.Fatalf("sync feed: %v", err)
	}
	return f
}

// hookSource runs before ahead of every fetch of the wrapped source.
type hookSource struct {
	*mockSource
	before func(ctx context.Context, url string) error
}

func (h hookSource) Fetch(ctx context.Context, url string) (*fetcher.Result, error) {
	if err := h.before(ctx, url); err != nil {
		return nil, err
	}
	return h.mockSource.Fetch(ctx, url)
}

func newService(store *storage.SQLite, src *mockSource) *Service {
	return newServiceWith(store, src, Config{})
}

func newServiceWith(store *storage.SQLite, src Source, cfg Config) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := similarity.NewEngine(similarity.NewCache(), store)
	return New(store, src, engine, cfg, nil, log)
}

func article(guid, title, body string) fetcher.Item {
	published := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	return fetcher.Item{
		GUID:        guid,
		Title:       title,
		Link:        "https://news.example.com/" + guid,
		Content:     "<p>" + body + "</p>",
		PublishedAt: &published,
	}
}

const (
	bodyBudget = "The regional council approved the transport budget after a long debate about rail " +
		"extensions, bus frequencies and the cost of new electric fleets for suburban commuters."
	bodyStorm = "Heavy storms flooded coastal towns overnight, forcing evacuations while emergency crews " +
		"repaired damaged levees and power lines across several northern districts."
	bodyMarkets = "Stock markets rallied on Friday as investors welcomed lower inflation figures and " +
		"central bankers signalled that interest rates could fall earlier than expected."
)

var defaultOpts = Options{SimHashThreshold: 3, CrossSource: true}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	feed := addFeed(t, store, model.FeedSource{
		Name: "World Desk", URL: "https://a.example/rss", Category: "world", Priority: model.PriorityHigh, MaxItems: 10,
	})
	src.results[feed.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("budget", "Council approves transport budget", bodyBudget),
		article("storm", "Storms flood the northern coast", bodyStorm),
	}}
	svc := newService(store, src)

	report, err := svc.Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := &Report{FeedIDs: []int64{feed.ID}, FeedsChecked: 1, ItemsFetched: 2}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("first report mismatch (-want +got):\n%s", diff)
	}

	report, err = svc.Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if diff := cmp.Diff(0, report.ItemsFetched); diff != "" {
		t.Errorf("re-ingestion must not create rows (-want +got):\n%s", diff)
	}

	pending, err := store.ListPendingItems(ctx, []int64{feed.ID}, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var guids []string
	for _, it := range pending {
		guids = append(guids, it.GUID)
	}
	if diff := cmp.Diff([]string{"budget", "storm"}, guids); diff != "" {
		t.Errorf("pending items mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.TotalFetched != 2 || got.LastItemGUID != "budget" || got.LastFetchedAt == nil {
		t.Errorf("unexpected feed checkpoint: %+v", got)
	}
}

func TestRunCapsItemsPerFeed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	feed := addFeed(t, store, model.FeedSource{Name: "A", URL: "https://a.example/rss", Priority: model.PriorityLow, MaxItems: 1})
	src.results[feed.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("first", "Council approves transport budget", bodyBudget),
		article("second", "Storms flood the northern coast", bodyStorm),
	}}

	report, err := newService(store, src).Run(ctx, Scope{Priority: model.PriorityLow}, defaultOpts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(1, report.ItemsFetched); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFeedErrorsMoveFeedToErrorStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	broken := addFeed(t, store, model.FeedSource{Name: "Broken", URL: "https://broken.example/rss", Priority: model.PriorityHigh})
	healthy := addFeed(t, store, model.FeedSource{Name: "Healthy", URL: "https://ok.example/rss", Priority: model.PriorityHigh})
	src.errs[broken.URL] = errors.New("context deadline exceeded")
	src.results[healthy.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("markets", "Markets rally on inflation data", bodyMarkets),
	}}
	svc := newService(store, src)

	for i := 1; i <= model.MaxConsecutiveErrors; i++ {
		report, err := svc.Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "Broken") {
			t.Errorf("run %d: expected one feed error, got %v", i, report.Errors)
		}
		if report.FeedsChecked != 2 {
			t.Errorf("run %d: the cycle must continue with other feeds, checked %d", i, report.FeedsChecked)
		}
	}

	got, err := store.GetFeed(ctx, broken.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.Status != model.FeedError || got.ErrorCount != 3 || got.LastError == "" {
		t.Errorf("expected feed in error status, got %+v", got)
	}

	if _, err := svc.Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(model.MaxConsecutiveErrors, src.calls[broken.URL]); diff != "" {
		t.Errorf("feed in error status must not be fetched (-want +got):\n%s", diff)
	}
}

func TestRunKeepsChangesMadeDuringFetch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	feed := addFeed(t, store, model.FeedSource{Name: "World Desk", URL: "https://a.example/rss", Priority: model.PriorityHigh})
	src.results[feed.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("budget", "Council approves transport budget", bodyBudget),
	}}

	// The operator pauses the feed and another cycle publishes from it while the download runs.
	hooked := hookSource{mockSource: src, before: func(ctx context.Context, _ string) error {
		if err := store.SetFeedStatus(ctx, feed.ID, model.FeedPaused); err != nil {
			return err
		}
		return store.AddFeedPublished(ctx, feed.ID, 2)
	}}
	report, err := newServiceWith(store, hooked, Config{}).Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}

	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.Status != model.FeedPaused || got.TotalPublished != 2 || got.TotalFetched != 1 || got.LastItemGUID != "budget" {
		t.Errorf("concurrent feed changes lost: %+v", got)
	}
}

func TestRunFetchTimeoutIsFeedError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	slow := addFeed(t, store, model.FeedSource{Name: "Slow", URL: "https://slow.example/rss", Priority: model.PriorityHigh})
	healthy := addFeed(t, store, model.FeedSource{Name: "Healthy", URL: "https://ok.example/rss", Priority: model.PriorityHigh})
	src.results[healthy.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("markets", "Markets rally on inflation data", bodyMarkets),
	}}

	blocking := hookSource{mockSource: src, before: func(ctx context.Context, url string) error {
		if url != slow.URL {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	svc := newServiceWith(store, blocking, Config{FeedTimeout: 20 * time.Millisecond})

	report, err := svc.Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "deadline exceeded") {
		t.Errorf("expected one timeout error, got %v", report.Errors)
	}
	if report.FeedsChecked != 2 || report.ItemsFetched != 1 {
		t.Errorf("the cycle must continue after a timeout: %+v", report)
	}

	got, err := store.GetFeed(ctx, slow.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.Status != model.FeedActive || got.ErrorCount != 1 || got.LastError == "" {
		t.Errorf("expected one recorded error on an active feed, got %+v", got)
	}
}

func TestRunCancelledIsNotFeedError(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	feed := addFeed(t, store, model.FeedSource{Name: "A", URL: "https://a.example/rss", Priority: model.PriorityHigh})

	ctx, cancel := context.WithCancel(context.Background())
	blocking := hookSource{mockSource: src, before: func(fctx context.Context, _ string) error {
		cancel()
		<-fctx.Done()
		return fctx.Err()
	}}
	if _, err := newServiceWith(store, blocking, Config{}).Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.GetFeed(context.Background(), feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.ErrorCount != 0 {
		t.Errorf("cancellation must not count as a feed error, got %+v", got)
	}
}

func TestRunSuccessResetsErrorCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	feed := addFeed(t, store, model.FeedSource{Name: "Flaky", URL: "https://flaky.example/rss", Priority: model.PriorityMedium})
	svc := newService(store, src)

	src.errs[feed.URL] = errors.New("timeout")
	if _, err := svc.Run(ctx, Scope{Priority: model.PriorityMedium}, defaultOpts); err != nil {
		t.Fatalf("run: %v", err)
	}
	delete(src.errs, feed.URL)
	if _, err := svc.Run(ctx, Scope{Priority: model.PriorityMedium}, defaultOpts); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.ErrorCount != 0 || got.LastError != "" || got.Status != model.FeedActive {
		t.Errorf("expected healthy feed, got %+v", got)
	}
}

func TestRunDuplicates(t *testing.T) {
	tests := []struct {
		name        string
		crossSource bool
		wantReasons map[string]string
	}{
		{
			name:        "cross source enabled",
			crossSource: true,
			wantReasons: map[string]string{
				"exact-copy": model.SkipDuplicateExact,
				"b-budget":   model.SkipDuplicateCross,
			},
		},
		{
			name:        "cross source disabled",
			crossSource: false,
			wantReasons: map[string]string{
				"exact-copy": model.SkipDuplicateExact,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			src := newMockSource()
			a := addFeed(t, store, model.FeedSource{Name: "A", URL: "https://a.example/rss", Priority: model.PriorityHigh})
			b := addFeed(t, store, model.FeedSource{Name: "B", URL: "https://b.example/rss", Priority: model.PriorityHigh})

			src.results[a.URL] = &fetcher.Result{Items: []fetcher.Item{
				article("a-budget", "Council approves transport budget", bodyBudget),
				// Same title and date under a new guid: identical fingerprint.
				article("exact-copy", "Council approves transport budget", bodyStorm),
			}}
			src.results[b.URL] = &fetcher.Result{Items: []fetcher.Item{
				article("b-budget", "Council approves transport budget", bodyBudget),
				article("b-markets", "Markets rally on inflation data", bodyMarkets),
			}}

			opts := Options{SimHashThreshold: 3, CrossSource: tt.crossSource}
			report, err := newService(store, src).Run(ctx, Scope{Priority: model.PriorityHigh}, opts)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if diff := cmp.Diff(len(tt.wantReasons), report.Duplicates); diff != "" {
				t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
			}

			got := make(map[string]string)
			pending, err := store.ListPendingItems(ctx, []int64{a.ID, b.ID}, 10)
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			pendingSet := make(map[string]bool)
			for _, it := range pending {
				pendingSet[it.GUID] = true
			}
			for id := int64(1); id <= 4; id++ {
				it, err := store.GetItem(ctx, id)
				if err != nil {
					t.Fatalf("get item %d: %v", id, err)
				}
				if it.SkipReason != "" {
					got[it.GUID] = it.SkipReason
				}
				if pendingSet[it.GUID] == (it.SkipReason != "") {
					t.Errorf("item %s: pending=%v but skip reason %q", it.GUID, pendingSet[it.GUID], it.SkipReason)
				}
			}
			if diff := cmp.Diff(tt.wantReasons, got); diff != "" {
				t.Errorf("skip reasons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunCrossSourceWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newMockSource()
	a := addFeed(t, store, model.FeedSource{Name: "A", URL: "https://a.example/rss", Priority: model.PriorityHigh})
	b := addFeed(t, store, model.FeedSource{Name: "B", URL: "https://b.example/rss", Priority: model.PriorityLow})

	src.results[a.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("a-budget", "Council approves transport budget", bodyBudget),
	}}
	if _, err := newService(store, src).Run(ctx, Scope{Priority: model.PriorityHigh}, defaultOpts); err != nil {
		t.Fatalf("run: %v", err)
	}
	pending, err := store.ListPendingItems(ctx, []int64{a.ID}, 1)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %v %v", pending, err)
	}
	if err := store.MarkItemProcessed(ctx, pending[0].ID, 1); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	// A fresh service has an empty cache: only the persisted window can catch it.
	src.results[b.URL] = &fetcher.Result{Items: []fetcher.Item{
		article("b-budget", "Council approves transport budget", bodyBudget),
	}}
	report, err := newService(store, src).Run(ctx, Scope{Priority: model.PriorityLow}, defaultOpts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(1, report.Duplicates); diff != "" {
		t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectFeedsCategoryFallback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tech := addFeed(t, store, model.FeedSource{Name: "Tech", URL: "https://t.example/rss", Category: "technology", Priority: model.PriorityHigh})
	world := addFeed(t, store, model.FeedSource{Name: "World", URL: "https://w.example/rss", Category: "world", Priority: model.PriorityHigh})
	addFeed(t, store, model.FeedSource{Name: "Low", URL: "https://l.example/rss", Category: "technology", Priority: model.PriorityLow})
	svc := newService(store, newMockSource())

	tests := []struct {
		name    string
		scope   Scope
		wantIDs []int64
	}{
		{name: "preferred category", scope: Scope{Priority: model.PriorityHigh, Category: "technology"}, wantIDs: []int64{tech.ID}},
		{name: "fallback to tier", scope: Scope{Priority: model.PriorityHigh, Category: "sports"}, wantIDs: []int64{tech.ID, world.ID}},
		{name: "no category", scope: Scope{Priority: model.PriorityHigh}, wantIDs: []int64{tech.ID, world.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feeds, err := svc.SelectFeeds(ctx, tt.scope)
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			var ids []int64
			for _, f := range feeds {
				ids = append(ids, f.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("feeds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
