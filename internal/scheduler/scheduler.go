// Package scheduler runs the priority-tiered harvesting cycles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"harvester/internal/ingest"
	"harvester/internal/metrics"
	"harvester/internal/model"
	"harvester/internal/pipeline"
	"harvester/internal/storage"
)

// Cycle outcomes that are not failures.
var (
	ErrDisabled     = errors.New("scheduler disabled")
	ErrDailyReached = errors.New("daily article target reached")
)

// Store is the persistence used by the scheduler.
type Store interface {
	GetSettings(ctx context.Context) (model.BotSettings, error)
	SaveSettings(ctx context.Context, s model.BotSettings) error
	ListFeeds(ctx context.Context, q storage.FeedQuery) ([]model.FeedSource, error)
	ClaimPendingItems(ctx context.Context, feedIDs []int64, limit int) ([]model.FetchedItem, error)
	ReleaseItems(ctx context.Context, ids []int64) error
	AddFeedPublished(ctx context.Context, id int64, n int) error
	CreateRunLog(ctx context.Context, r *model.RunLog) error
	FinishRunLog(ctx context.Context, r *model.RunLog) error
	ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error)
	PublishedSince(ctx context.Context, since time.Time) (int, error)
}

// Ingester fetches new items for a scope.
type Ingester interface {
	Run(ctx context.Context, scope ingest.Scope, opts ingest.Options) (*ingest.Report, error)
}

// Processor turns pending items into published articles.
type Processor interface {
	Process(ctx context.Context, items []model.FetchedItem, feeds map[int64]model.FeedSource, st model.BotSettings) *pipeline.Outcome
}

// Trimmer is the in-memory similarity cache.
type Trimmer interface {
	Trim() int
}

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Config holds the static scheduler options.
type Config struct {
	// Categories are visited round-robin, one step per cycle across all tiers.
	Categories []string
	// OperatorChatID receives cycle summaries. Zero disables them.
	OperatorChatID int64
}

// Scheduler runs one ticker per priority tier.
type Scheduler struct {
	store      Store
	ingester   Ingester
	processor  Processor
	cache      Trimmer
	sender     Sender
	cfg        Config
	throughput *Throughput
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time

	rrMu   sync.Mutex
	rrNext int

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. cache and sender may be nil.
func New(store Store, ingester Ingester, processor Processor, cache Trimmer, sender Sender, cfg Config, m *metrics.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		ingester:   ingester,
		processor:  processor,
		cache:      cache,
		sender:     sender,
		cfg:        cfg,
		throughput: NewThroughput(nil),
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// SetSender sets the receiver of cycle summaries. It must be called before Start.
func (s *Scheduler) SetSender(sender Sender) {
	s.sender = sender
}

// Throughput returns the publish counter.
func (s *Scheduler) Throughput() *Throughput {
	return s.throughput
}

// Start reconciles the throughput counter from run logs and arms the tier tickers.
// The tickers stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()
	return s.Restart(ctx)
}

// Reconcile reloads today's and this hour's published counts from run logs.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	day, hour := s.throughput.Bounds()
	today, err := s.store.PublishedSince(ctx, day)
	if err != nil {
		return fmt.Errorf("reconcile daily count: %w", err)
	}
	thisHour, err := s.store.PublishedSince(ctx, hour)
	if err != nil {
		return fmt.Errorf("reconcile hourly count: %w", err)
	}
	s.throughput.Reconcile(today, thisHour)
	s.log.Info("throughput reconciled", "published_today", today, "published_this_hour", thisHour)
	return nil
}

// Restart stops all tickers, reloads settings and rearms them. Cycles already
// in flight finish on their own.
func (s *Scheduler) Restart(ctx context.Context) error {
	st, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	if !st.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.running = true

	for _, tier := range model.Priorities {
		interval := st.Interval(tier)
		s.wg.Add(1)
		go s.loop(runCtx, tier, interval)
		s.log.Info("tier armed", "priority", tier, "interval", interval)
	}
	return nil
}

// Stop disarms the tickers and waits for running cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether the tickers are armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, tier model.Priority, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.RunOnce(ctx, tier)
			switch {
			case errors.Is(err, ErrDisabled), errors.Is(err, ErrDailyReached):
				s.log.Debug("cycle skipped", "priority", tier, "reason", err)
			case err != nil:
				s.log.Error("cycle failed", "priority", tier, "error", err)
			}
		}
	}
}

// UpdateSettings persists st and restarts the tickers when the enabled flag or an
// interval changed. It reports whether a restart happened.
func (s *Scheduler) UpdateSettings(ctx context.Context, st model.BotSettings) (bool, error) {
	old, err := s.store.GetSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return false, fmt.Errorf("save settings: %w", err)
	}
	if !needsRestart(old, st) {
		return false, nil
	}
	s.log.Info("timing settings changed, restarting scheduler")
	if err := s.Restart(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func needsRestart(old, cur model.BotSettings) bool {
	return old.Enabled != cur.Enabled ||
		old.HighIntervalMin != cur.HighIntervalMin ||
		old.MediumIntervalMin != cur.MediumIntervalMin ||
		old.LowIntervalMin != cur.LowIntervalMin
}

func (s *Scheduler) nextCategory() string {
	s.rrMu.Lock()
	defer s.rrMu.Unlock()
	if len(s.cfg.Categories) == 0 {
		return ""
	}
	c := s.cfg.Categories[s.rrNext%len(s.cfg.Categories)]
	s.rrNext = (s.rrNext + 1) % len(s.cfg.Categories)
	return c
}

// RunOnce runs a single cycle for tier. It returns ErrDisabled or ErrDailyReached
// without touching feeds when the cycle has nothing to do.
func (s *Scheduler) RunOnce(ctx context.Context, tier model.Priority) (*model.RunLog, error) {
	st, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !st.Enabled {
		return nil, ErrDisabled
	}
	if s.throughput.DailyReached(st.DailyArticleTarget) {
		return nil, ErrDailyReached
	}

	started := s.now()
	run := &model.RunLog{
		RunID:     uuid.NewString(),
		Priority:  tier,
		StartedAt: started.UTC(),
	}
	if err := s.store.CreateRunLog(ctx, run); err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	log := s.log.With("run_id", run.RunID, "priority", tier)

	category := s.nextCategory()
	log.Info("cycle started", "category", category)

	s.cycle(ctx, run, tier, category, st, log)

	finished := s.now().UTC()
	run.FinishedAt = &finished
	if err := s.store.FinishRunLog(context.WithoutCancel(ctx), run); err != nil {
		log.Error("finish run log", "error", err)
	}

	if s.cache != nil {
		if removed := s.cache.Trim(); removed > 0 {
			log.Info("similarity cache trimmed", "removed", removed)
		}
	}
	s.metrics.ObserveCycle(string(tier), s.now().Sub(started))

	log.Info("cycle finished",
		"feeds", run.FeedsChecked,
		"fetched", run.ItemsFetched,
		"processed", run.ItemsProcessed,
		"published", run.ItemsPublished,
		"skipped", run.ItemsSkipped,
		"errors", len(run.Errors),
	)
	s.notify(run)
	return run, nil
}

func (s *Scheduler) cycle(ctx context.Context, run *model.RunLog, tier model.Priority, category string, st model.BotSettings, log *slog.Logger) {
	report, err := s.ingester.Run(ctx, ingest.Scope{Priority: tier, Category: category}, ingest.Options{
		SimHashThreshold: st.SimHashThreshold,
		CrossSource:      st.CrossSourceDedup,
	})
	if report != nil {
		run.FeedsChecked = report.FeedsChecked
		run.ItemsFetched = report.ItemsFetched
		run.ItemsSkipped = report.Duplicates
		run.Errors = append(run.Errors, report.Errors...)
	}
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("ingest: %v", err))
		return
	}
	if len(report.FeedIDs) == 0 {
		return
	}

	res := s.throughput.Reserve(st.MaxArticlesPerHour, st.DailyArticleTarget)
	published := 0
	defer func() { s.throughput.Commit(res, published) }()

	if res.N == 0 {
		log.Info("throughput cap reached, items stay pending")
		return
	}

	items, err := s.store.ClaimPendingItems(ctx, report.FeedIDs, res.N)
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("claim pending items: %v", err))
		return
	}
	res = s.throughput.Shrink(res, len(items))
	if len(items) == 0 {
		return
	}
	defer s.release(ctx, run, items)

	feeds, err := s.feedsByID(ctx, tier)
	if err != nil {
		run.Errors = append(run.Errors, err.Error())
		return
	}

	out := s.processor.Process(ctx, items, feeds, st)
	published = out.Published

	run.ItemsProcessed = out.Processed
	run.ItemsPublished = out.Published
	run.ItemsSkipped += out.Skipped
	run.Errors = append(run.Errors, out.Errors...)

	for feedID, n := range out.PublishedByFeed {
		if err := s.store.AddFeedPublished(context.WithoutCancel(ctx), feedID, n); err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("feed %d: add published: %v", feedID, err))
		}
	}
}

// release returns the claims of items the cycle did not close.
func (s *Scheduler) release(ctx context.Context, run *model.RunLog, items []model.FetchedItem) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := s.store.ReleaseItems(context.WithoutCancel(ctx), ids); err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("release items: %v", err))
	}
}

func (s *Scheduler) feedsByID(ctx context.Context, tier model.Priority) (map[int64]model.FeedSource, error) {
	feeds, err := s.store.ListFeeds(ctx, storage.FeedQuery{Priority: tier})
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	m := make(map[int64]model.FeedSource, len(feeds))
	for _, f := range feeds {
		m[f.ID] = f
	}
	return m, nil
}

func (s *Scheduler) notify(run *model.RunLog) {
	if s.sender == nil || s.cfg.OperatorChatID == 0 {
		return
	}
	if run.ItemsPublished == 0 && len(run.Errors) == 0 {
		return
	}
	s.sender.SendMessage(s.cfg.OperatorChatID, FormatRunSummary(*run))
}
