// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the scheduling tier of a feed source.
type Priority string

// Supported priority tiers.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists all tiers in scheduling order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority converts a user-supplied string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q, use: high, medium, low", s)
}

// FeedStatus is the lifecycle state of a feed source.
type FeedStatus string

// Supported feed statuses.
const (
	FeedActive FeedStatus = "active"
	FeedPaused FeedStatus = "paused"
	FeedError  FeedStatus = "error"
)

// MaxConsecutiveErrors is the number of failed fetches after which a feed is moved to FeedError.
const MaxConsecutiveErrors = 3

// FeedSource is a configured RSS/Atom source.
type FeedSource struct {
	ID             int64
	Name           string
	URL            string
	Category       string
	Priority       Priority
	Status         FeedStatus
	Language       string
	MaxItems       int
	LastFetchedAt  *time.Time
	LastItemGUID   string
	LastItemDate   *time.Time
	TotalFetched   int
	TotalPublished int
	ErrorCount     int
	LastError      string
	CreatedAt      time.Time
}

// FetchedItem is one source item ever seen, unique by (FeedID, GUID).
type FetchedItem struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	Link        string
	Content     string
	PublishedAt *time.Time
	ContentHash string
	SimHash     string
	Processed   bool
	SkipReason  string
	ArticleID   *int64
	CreatedAt   time.Time
}

// Skip reasons recorded on fetched items.
const (
	SkipDuplicateExact   = "duplicate_exact"
	SkipDuplicateNear    = "duplicate_near"
	SkipDuplicateCross   = "duplicate_cross_source"
	SkipPaywall          = "paywall"
	SkipAIFailed         = "ai_failed"
	SkipQABelowThreshold = "qa_below_threshold"
	SkipMissingLanguage  = "missing_primary_language"
	SkipNotPersisted     = "not_persisted"
	SkipPersistFailed    = "persist_failed"
	SkipPrefilterPrefix  = "prefilter:"
)

// LangContent is the rewritten article in a single language.
type LangContent struct {
	Title           string
	Lead            string
	Body            string
	Tags            []string
	SEOTitle        string
	MetaDescription string
}

// Draft is the in-memory multi-language result for one fetched item.
// It lives only for the duration of a cycle.
type Draft struct {
	ItemID         int64
	FeedID         int64
	SourceName     string
	SourceURL      string
	SourceLanguage string
	Fingerprint    string
	Category       string
	Tags           []string
	Languages      map[string]LangContent
	QAScore        float64
	WordCount      int
}

// BotSettings is the hot-reloadable singleton configuration of the pipeline.
type BotSettings struct {
	Enabled            bool
	HighIntervalMin    int
	MediumIntervalMin  int
	LowIntervalMin     int
	DailyArticleTarget int
	MaxArticlesPerHour int
	MinQAScore         float64
	AutoPublish        bool
	SimHashThreshold   int
	CrossSourceDedup   bool
	PaywallFilter      bool
	UpdatedAt          time.Time
}

// DefaultSettings returns the settings persisted when none exist yet.
func DefaultSettings() BotSettings {
	return BotSettings{
		Enabled:            true,
		HighIntervalMin:    15,
		MediumIntervalMin:  60,
		LowIntervalMin:     180,
		DailyArticleTarget: 40,
		MaxArticlesPerHour: 6,
		MinQAScore:         0.85,
		AutoPublish:        true,
		SimHashThreshold:   3,
		CrossSourceDedup:   true,
		PaywallFilter:      true,
	}
}

// Interval returns the polling interval configured for a tier.
func (s BotSettings) Interval(p Priority) time.Duration {
	var mins int
	switch p {
	case PriorityHigh:
		mins = s.HighIntervalMin
	case PriorityMedium:
		mins = s.MediumIntervalMin
	default:
		mins = s.LowIntervalMin
	}
	if mins < 1 {
		mins = 1
	}
	return time.Duration(mins) * time.Minute
}

// RunLog records the outcome of one scheduler cycle.
type RunLog struct {
	ID             int64
	RunID          string
	Priority       Priority
	StartedAt      time.Time
	FinishedAt     *time.Time
	FeedsChecked   int
	ItemsFetched   int
	ItemsProcessed int
	ItemsPublished int
	ItemsSkipped   int
	Errors         []string
}

// TranslationPayload is the per-language content handed to persistence.
type TranslationPayload struct {
	Title           string
	Summary         string
	Body            string
	SEOTitle        string
	MetaDescription string
	Author          string
}

// SourceInfo is the provenance attached to a persisted article.
type SourceInfo struct {
	OriginalSource string
	URL            string
	Fingerprint    string
	Language       string
	WordCount      int
}

// Article is the payload handed to the persistence collaborator.
type Article struct {
	Slug         string
	Category     string
	Tags         []string
	ImageURL     string
	Translations map[string]TranslationPayload
	Source       *SourceInfo
	PublishNow   bool
}

// PersistResult is returned by the persistence collaborator when an article was stored.
type PersistResult struct {
	ArticleID int64
}
