// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"harvester/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// FeedQuery narrows ListFeeds. Zero fields match everything.
type FeedQuery struct {
	Priority model.Priority
	Category string
	Statuses []model.FeedStatus
}

// FetchCheckpoint is the outcome of a successful feed fetch. LastItemGUID and LastItemDate
// describe the newest item; an empty GUID keeps the previous checkpoint.
type FetchCheckpoint struct {
	FetchedAt    time.Time
	LastItemGUID string
	LastItemDate *time.Time
	NewItems     int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	SyncFeed(ctx context.Context, feed *model.FeedSource) (created bool, err error)
	GetFeed(ctx context.Context, id int64) (*model.FeedSource, error)
	ListFeeds(ctx context.Context, q FeedQuery) ([]model.FeedSource, error)
	RecordFetchSuccess(ctx context.Context, id int64, c FetchCheckpoint) error
	RecordFetchFailure(ctx context.Context, id int64, msg string) (*model.FeedSource, error)
	SetFeedStatus(ctx context.Context, id int64, status model.FeedStatus) error
	AddFeedPublished(ctx context.Context, id int64, n int) error

	UpsertItem(ctx context.Context, item *model.FetchedItem) (inserted bool, err error)
	GetItem(ctx context.Context, id int64) (*model.FetchedItem, error)
	HasFingerprint(ctx context.Context, hash string, excludeItemID int64) (bool, error)
	RecentSimHashes(ctx context.Context, since time.Time, excludeFeedID int64) ([]string, error)
	ListPendingItems(ctx context.Context, feedIDs []int64, limit int) ([]model.FetchedItem, error)
	ClaimPendingItems(ctx context.Context, feedIDs []int64, limit int) ([]model.FetchedItem, error)
	ReleaseItems(ctx context.Context, ids []int64) error
	MarkItemProcessed(ctx context.Context, id, articleID int64) error
	MarkItemSkipped(ctx context.Context, id int64, reason string) error

	GetSettings(ctx context.Context) (model.BotSettings, error)
	SaveSettings(ctx context.Context, s model.BotSettings) error

	CreateRunLog(ctx context.Context, r *model.RunLog) error
	FinishRunLog(ctx context.Context, r *model.RunLog) error
	ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error)
	PublishedSince(ctx context.Context, since time.Time) (int, error)

	ListCategories(ctx context.Context) ([]string, error)
	EnsureCategories(ctx context.Context, slugs []string) (int, error)
	PersistArticle(ctx context.Context, a model.Article) (*model.PersistResult, error)

	Close() error
}
