// Package publish turns finished drafts into persisted multi-language articles.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"harvester/internal/metrics"
	"harvester/internal/model"
)

// Publisher errors recorded per draft.
var (
	ErrMissingPrimaryLanguage = errors.New("missing required language")
	ErrNotPersisted           = errors.New("article not persisted")
)

// Store is the persistence used by the publisher.
type Store interface {
	CategorySource
	PersistArticle(ctx context.Context, a model.Article) (*model.PersistResult, error)
	MarkItemProcessed(ctx context.Context, id, articleID int64) error
	MarkItemSkipped(ctx context.Context, id int64, reason string) error
}

// Config holds the language and attribution settings.
type Config struct {
	BaseLanguage    string
	PrimaryLanguage string
	DefaultCategory string
	Author          string
}

// Result summarizes one publishing batch.
type Result struct {
	Published       int
	Skipped         int
	PublishedByFeed map[int64]int
	ArticleIDs      []int64
	Errors          []string
}

// Publisher persists drafts exactly once per source item.
type Publisher struct {
	store    Store
	resolver *CategoryResolver
	images   ImageGenerator
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Publisher. images may be nil.
func New(store Store, images ImageGenerator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if cfg.BaseLanguage == "" {
		cfg.BaseLanguage = "en"
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = "general"
	}
	return &Publisher{
		store:    store,
		resolver: NewCategoryResolver(store, cfg.DefaultCategory, logger),
		images:   images,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Resolver returns the category resolver.
func (p *Publisher) Resolver() *CategoryResolver {
	return p.resolver
}

// Publish persists every draft. A failing draft is recorded and skipped; it never
// stops the batch.
func (p *Publisher) Publish(ctx context.Context, drafts []model.Draft, publishNow bool) *Result {
	res := &Result{PublishedByFeed: make(map[int64]int)}
	for _, d := range drafts {
		articleID, reason, err := p.publishOne(ctx, d, publishNow)
		if err != nil {
			res.Skipped++
			if reason == model.SkipPersistFailed {
				res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", d.ItemID, err))
			}
			p.metrics.RecordSkip(reason)
			p.logger.Warn("draft not published", "item_id", d.ItemID, "feed_id", d.FeedID, "reason", reason, "error", err)
			if merr := p.store.MarkItemSkipped(ctx, d.ItemID, reason); merr != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", d.ItemID, merr))
			}
			continue
		}

		if err := p.store.MarkItemProcessed(ctx, d.ItemID, articleID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", d.ItemID, err))
		}
		res.Published++
		res.PublishedByFeed[d.FeedID]++
		res.ArticleIDs = append(res.ArticleIDs, articleID)
		p.logger.Info("article published", "item_id", d.ItemID, "article_id", articleID, "languages", len(d.Languages))
	}
	p.metrics.RecordPublished(res.Published)
	return res
}

func (p *Publisher) publishOne(ctx context.Context, d model.Draft, publishNow bool) (int64, string, error) {
	base, ok := d.Languages[p.cfg.BaseLanguage]
	if !ok {
		return 0, model.SkipMissingLanguage, fmt.Errorf("%w: %s", ErrMissingPrimaryLanguage, p.cfg.BaseLanguage)
	}
	if p.cfg.PrimaryLanguage != "" {
		if _, ok := d.Languages[p.cfg.PrimaryLanguage]; !ok {
			return 0, model.SkipMissingLanguage, fmt.Errorf("%w: %s", ErrMissingPrimaryLanguage, p.cfg.PrimaryLanguage)
		}
	}

	category := p.resolver.Resolve(ctx, d.Category)
	tags := d.Tags
	if len(tags) == 0 {
		tags = base.Tags
	}

	article := model.Article{
		Slug:         Slug(base.Title, d.Fingerprint),
		Category:     category,
		Tags:         tags,
		Translations: make(map[string]model.TranslationPayload, len(d.Languages)),
		Source: &model.SourceInfo{
			OriginalSource: d.SourceName,
			URL:            d.SourceURL,
			Fingerprint:    d.Fingerprint,
			Language:       d.SourceLanguage,
			WordCount:      d.WordCount,
		},
		PublishNow: publishNow,
	}
	for lang, c := range d.Languages {
		article.Translations[lang] = model.TranslationPayload{
			Title:           c.Title,
			Summary:         c.Lead,
			Body:            SanitizeBody(c.Body),
			SEOTitle:        c.SEOTitle,
			MetaDescription: c.MetaDescription,
			Author:          p.cfg.Author,
		}
	}

	if p.images != nil {
		url, err := p.images.GenerateImage(ctx, ImageRequest{Title: base.Title, Category: category, Tags: tags})
		if err != nil {
			p.logger.Warn("image generation failed", "item_id", d.ItemID, "error", err)
		}
		article.ImageURL = url
	}

	persisted, err := p.store.PersistArticle(ctx, article)
	if err != nil {
		return 0, model.SkipPersistFailed, err
	}
	if persisted == nil {
		return 0, model.SkipNotPersisted, ErrNotPersisted
	}
	return persisted.ArticleID, "", nil
}
