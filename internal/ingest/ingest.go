// Package ingest fetches feed sources and records their new items.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"harvester/internal/fetcher"
	"harvester/internal/metrics"
	"harvester/internal/model"
	"harvester/internal/similarity"
	"harvester/internal/storage"
	"harvester/internal/textutil"
)

// DefaultFeedTimeout bounds a single feed download.
const DefaultFeedTimeout = 10 * time.Second

// Store is the persistence used by ingestion.
type Store interface {
	ListFeeds(ctx context.Context, q storage.FeedQuery) ([]model.FeedSource, error)
	RecordFetchSuccess(ctx context.Context, id int64, c storage.FetchCheckpoint) error
	RecordFetchFailure(ctx context.Context, id int64, msg string) (*model.FeedSource, error)
	UpsertItem(ctx context.Context, item *model.FetchedItem) (bool, error)
	HasFingerprint(ctx context.Context, hash string, excludeItemID int64) (bool, error)
	MarkItemSkipped(ctx context.Context, id int64, reason string) error
}

// Source downloads and parses a feed.
type Source interface {
	Fetch(ctx context.Context, url string) (*fetcher.Result, error)
}

// Config tunes the service.
type Config struct {
	FeedTimeout time.Duration
	// FetchEvery is the minimum spacing between two feed downloads. Zero disables pacing.
	FetchEvery time.Duration
}

// Scope selects the feeds of one run.
type Scope struct {
	Priority model.Priority
	// Category is preferred; when no feed of the tier matches, all categories are used.
	Category string
}

// Options are the per-run dedup settings.
type Options struct {
	SimHashThreshold int
	CrossSource      bool
}

// Report summarizes one ingestion run.
type Report struct {
	FeedIDs      []int64
	FeedsChecked int
	ItemsFetched int
	Duplicates   int
	Errors       []string
}

// Service runs feed ingestion.
type Service struct {
	store   Store
	source  Source
	dedup   *similarity.Engine
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an ingestion Service.
func New(store Store, source Source, dedup *similarity.Engine, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	timeout := cfg.FeedTimeout
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}
	limit := rate.Inf
	if cfg.FetchEvery > 0 {
		limit = rate.Every(cfg.FetchEvery)
	}
	return &Service{
		store:   store,
		source:  source,
		dedup:   dedup,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SelectFeeds returns the active feeds of the scope's tier in its preferred category,
// or all active feeds of the tier when none match the category.
func (s *Service) SelectFeeds(ctx context.Context, scope Scope) ([]model.FeedSource, error) {
	q := storage.FeedQuery{
		Priority: scope.Priority,
		Category: scope.Category,
		Statuses: []model.FeedStatus{model.FeedActive},
	}
	if scope.Category != "" {
		feeds, err := s.store.ListFeeds(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list feeds: %w", err)
		}
		if len(feeds) > 0 {
			return feeds, nil
		}
		q.Category = ""
	}
	feeds, err := s.store.ListFeeds(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// Run fetches the feeds of scope. Feed failures are recorded on the feed and in the
// report; only a failure to list feeds is returned as an error.
func (s *Service) Run(ctx context.Context, scope Scope, opts Options) (*Report, error) {
	feeds, err := s.SelectFeeds(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for i := range feeds {
		feed := &feeds[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("wait for fetch slot: %w", err)
		}
		report.FeedIDs = append(report.FeedIDs, feed.ID)
		report.FeedsChecked++

		n, dups, err := s.ingestFeed(ctx, feed, opts)
		report.ItemsFetched += n
		report.Duplicates += dups
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("feed %d (%s): %v", feed.ID, feed.Name, err))
		}
	}

	s.metrics.RecordFetched(string(scope.Priority), report.ItemsFetched)
	return report, nil
}

func (s *Service) ingestFeed(ctx context.Context, feed *model.FeedSource, opts Options) (int, int, error) {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	res, err := s.source.Fetch(fctx, feed.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a feed failure.
			return 0, 0, err
		}
		s.recordFailure(ctx, feed, err)
		return 0, 0, err
	}

	items := res.Items
	if feed.MaxItems > 0 && len(items) > feed.MaxItems {
		items = items[:feed.MaxItems]
	}
	checkpoint := storage.FetchCheckpoint{FetchedAt: s.now().UTC()}
	if len(items) > 0 {
		checkpoint.LastItemGUID = items[0].GUID
		checkpoint.LastItemDate = items[0].PublishedAt
	}

	var inserted, dups int
	var firstErr error
	for _, it := range items {
		isNew, dup, err := s.ingestItem(ctx, feed, it, opts)
		if err != nil {
			s.logger.Warn("ingest item failed", "feed_id", feed.ID, "guid", it.GUID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if isNew {
			inserted++
		}
		if dup {
			dups++
		}
	}
	checkpoint.NewItems = inserted

	if err := s.store.RecordFetchSuccess(ctx, feed.ID, checkpoint); err != nil {
		return inserted, dups, fmt.Errorf("update feed: %w", err)
	}
	if inserted > 0 {
		s.logger.Info("feed ingested", "feed_id", feed.ID, "new", inserted, "duplicates", dups, "fallback", res.Fallback)
	}
	return inserted, dups, firstErr
}

func (s *Service) ingestItem(ctx context.Context, feed *model.FeedSource, it fetcher.Item, opts Options) (bool, bool, error) {
	item := &model.FetchedItem{
		FeedID:      feed.ID,
		GUID:        it.GUID,
		Title:       it.Title,
		Link:        it.Link,
		Content:     it.Content,
		PublishedAt: it.PublishedAt,
		ContentHash: similarity.Fingerprint(it.Title, feed.Name, it.PublishedAt),
		SimHash:     similarity.SimHash(it.Title + "\n" + textutil.HTMLToText(it.Content)),
	}
	inserted, err := s.store.UpsertItem(ctx, item)
	if err != nil {
		return false, false, err
	}
	if !inserted {
		return false, false, nil
	}

	reason, err := s.duplicateReason(ctx, item, opts)
	if err != nil {
		return true, false, err
	}
	if reason == "" {
		s.dedup.Remember(feed.ID, item.SimHash, item.Title)
		return true, false, nil
	}

	s.logger.Debug("item skipped", "feed_id", feed.ID, "guid", item.GUID, "reason", reason)
	s.metrics.RecordSkip(reason)
	if err := s.store.MarkItemSkipped(ctx, item.ID, reason); err != nil {
		return true, true, err
	}
	return true, true, nil
}

func (s *Service) duplicateReason(ctx context.Context, item *model.FetchedItem, opts Options) (string, error) {
	exact, err := s.store.HasFingerprint(ctx, item.ContentHash, item.ID)
	if err != nil {
		return "", err
	}
	if exact {
		return model.SkipDuplicateExact, nil
	}

	v, err := s.dedup.Check(ctx, item.FeedID, item.SimHash, opts.SimHashThreshold, opts.CrossSource)
	if err != nil {
		return "", err
	}
	if v.Duplicate {
		return v.Reason, nil
	}
	return "", nil
}

func (s *Service) recordFailure(ctx context.Context, feed *model.FeedSource, fetchErr error) {
	s.metrics.RecordFeedError(feed.Name)
	updated, err := s.store.RecordFetchFailure(ctx, feed.ID, fetchErr.Error())
	if err != nil {
		s.logger.Error("update feed after failure", "feed_id", feed.ID, "error", err)
		return
	}
	s.logger.Warn("feed fetch failed",
		"feed_id", feed.ID, "url", feed.URL, "errors", updated.ErrorCount, "status", updated.Status, "error", fetchErr)
}
