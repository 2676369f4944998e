// Package pipeline runs a batch of fetched items through filtering, rewriting,
// scoring, translation and publishing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"harvester/internal/ai"
	"harvester/internal/filter"
	"harvester/internal/metrics"
	"harvester/internal/model"
	"harvester/internal/publish"
	"harvester/internal/qa"
	"harvester/internal/textutil"
)

// Writer rewrites and translates articles.
type Writer interface {
	Rewrite(ctx context.Context, in ai.RewriteInput) (ai.Article, error)
	Translate(ctx context.Context, lang string, src ai.Article) (ai.Article, error)
}

// Publisher persists finished drafts.
type Publisher interface {
	Publish(ctx context.Context, drafts []model.Draft, publishNow bool) *publish.Result
}

// Store records items that leave the pipeline without an article.
type Store interface {
	MarkItemSkipped(ctx context.Context, id int64, reason string) error
}

// Config lists the languages of a published article.
type Config struct {
	BaseLanguage    string
	TargetLanguages []string
}

// Outcome aggregates one batch.
type Outcome struct {
	Processed         int
	Published         int
	Skipped           int
	PrefilterRejected int
	QARejected        int
	AIFailed          int
	PublishedByFeed   map[int64]int
	Errors            []string
}

// Pipeline processes batches of fetched items.
type Pipeline struct {
	store     Store
	writer    Writer
	publisher Publisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(store Store, writer Writer, publisher Publisher, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.BaseLanguage == "" {
		cfg.BaseLanguage = "en"
	}
	return &Pipeline{
		store:     store,
		writer:    writer,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Process runs items through the pipeline in order. feeds maps feed IDs to their sources.
// Once started, an item runs to completion even if ctx is cancelled; remaining
// items are left pending.
func (p *Pipeline) Process(ctx context.Context, items []model.FetchedItem, feeds map[int64]model.FeedSource, st model.BotSettings) *Outcome {
	out := &Outcome{PublishedByFeed: make(map[int64]int)}
	var drafts []model.Draft

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		out.Processed++
		d, ok := p.prepare(context.WithoutCancel(ctx), item, feeds[item.FeedID], st, out)
		if ok {
			drafts = append(drafts, d)
		}
	}

	if len(drafts) == 0 {
		return out
	}
	res := p.publisher.Publish(context.WithoutCancel(ctx), drafts, st.AutoPublish)
	out.Published += res.Published
	out.Skipped += res.Skipped
	out.Errors = append(out.Errors, res.Errors...)
	for feedID, n := range res.PublishedByFeed {
		out.PublishedByFeed[feedID] += n
	}
	return out
}

func (p *Pipeline) prepare(ctx context.Context, item model.FetchedItem, feed model.FeedSource, st model.BotSettings, out *Outcome) (model.Draft, bool) {
	candidate := filter.Item{Title: item.Title, Body: item.Content}

	if v := filter.Check(candidate); !v.Pass {
		out.PrefilterRejected++
		p.skip(ctx, item, model.SkipPrefilterPrefix+v.Reason, v.Detail, out)
		return model.Draft{}, false
	}
	if st.PaywallFilter {
		if v := filter.CheckPaywall(candidate); !v.Pass {
			p.skip(ctx, item, model.SkipPaywall, v.Reason+": "+v.Detail, out)
			return model.Draft{}, false
		}
	}

	extract := textutil.HTMLToText(item.Content)
	rewritten, err := p.writer.Rewrite(ctx, ai.RewriteInput{
		Title:          item.Title,
		SourceURL:      item.Link,
		Extract:        extract,
		SourceLanguage: feed.Language,
	})
	if err != nil {
		out.AIFailed++
		out.Errors = append(out.Errors, fmt.Sprintf("item %d: rewrite: %v", item.ID, err))
		p.skip(ctx, item, model.SkipAIFailed, err.Error(), out)
		return model.Draft{}, false
	}

	score := qa.Score(extract, textutil.HTMLToText(rewritten.Body))
	if !score.Passes(st.MinQAScore) {
		out.QARejected++
		p.skip(ctx, item, model.SkipQABelowThreshold, fmt.Sprintf("%.3f < %.2f", score.Total, st.MinQAScore), out)
		return model.Draft{}, false
	}

	languages := p.translate(ctx, item, rewritten)
	languages[p.cfg.BaseLanguage] = rewritten.Content()

	return model.Draft{
		ItemID:         item.ID,
		FeedID:         item.FeedID,
		SourceName:     feed.Name,
		SourceURL:      item.Link,
		SourceLanguage: feed.Language,
		Fingerprint:    item.ContentHash,
		Category:       feed.Category,
		Tags:           rewritten.Tags,
		Languages:      languages,
		QAScore:        score.Total,
		WordCount:      score.Words,
	}, true
}

// translate runs all target translations concurrently. Failed languages are
// left out; the publisher decides whether the draft is still complete.
func (p *Pipeline) translate(ctx context.Context, item model.FetchedItem, src ai.Article) map[string]model.LangContent {
	var mu sync.Mutex
	langs := make(map[string]model.LangContent, len(p.cfg.TargetLanguages)+1)

	var g errgroup.Group
	for _, lang := range p.cfg.TargetLanguages {
		if lang == p.cfg.BaseLanguage {
			continue
		}
		g.Go(func() error {
			tr, err := p.writer.Translate(ctx, lang, src)
			if err != nil {
				return fmt.Errorf("translate %s: %w", lang, err)
			}
			mu.Lock()
			langs[lang] = tr.Content()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("translation incomplete", "item_id", item.ID, "feed_id", item.FeedID, "error", err)
	}
	return langs
}

func (p *Pipeline) skip(ctx context.Context, item model.FetchedItem, reason, detail string, out *Outcome) {
	out.Skipped++
	p.metrics.RecordSkip(reason)
	p.logger.Info("item skipped", "feed_id", item.FeedID, "guid", item.GUID, "reason", reason, "detail", detail)
	if err := p.store.MarkItemSkipped(ctx, item.ID, reason); err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("item %d: mark skipped: %v", item.ID, err))
	}
}
