package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"harvester/internal/model"
)

var feedColumns = []string{
	"id", "name", "url", "category", "priority", "status", "language", "max_items",
	"last_fetched_at", "last_item_guid", "last_item_date", "total_fetched", "total_published",
	"error_count", "last_error", "created_at",
}

// SyncFeed inserts a configured feed or refreshes its descriptive fields when the URL is known.
// Status and counters of an existing feed are left untouched. It reports whether a row was created.
func (s *SQLite) SyncFeed(ctx context.Context, feed *model.FeedSource) (bool, error) {
	if feed.Priority == "" {
		feed.Priority = model.PriorityMedium
	}
	if feed.Status == "" {
		feed.Status = model.FeedActive
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM feeds WHERE url = ?`, feed.URL).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO feeds (name, url, category, priority, status, language, max_items, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			feed.Name, feed.URL, feed.Category, string(feed.Priority), string(feed.Status),
			feed.Language, feed.MaxItems, formatTime(now),
		)
		if err != nil {
			return false, fmt.Errorf("insert feed: %w", err)
		}
		if feed.ID, err = res.LastInsertId(); err != nil {
			return false, fmt.Errorf("last insert id: %w", err)
		}
		feed.CreatedAt = now.Truncate(time.Second)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup feed: %w", err)
	}

	_, err = s.exec(ctx, sq.Update("feeds").
		SetMap(map[string]any{
			"name":      feed.Name,
			"category":  feed.Category,
			"priority":  string(feed.Priority),
			"language":  feed.Language,
			"max_items": feed.MaxItems,
		}).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return false, fmt.Errorf("update feed: %w", err)
	}
	feed.ID = id
	return false, nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.FeedSource, error) {
	rows, err := s.query(ctx, sq.Select(feedColumns...).From("feeds").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return &feeds[0], nil
}

// ListFeeds returns feeds matching q ordered by ID.
func (s *SQLite) ListFeeds(ctx context.Context, q FeedQuery) ([]model.FeedSource, error) {
	b := sq.Select(feedColumns...).From("feeds").OrderBy("id")
	if q.Priority != "" {
		b = b.Where(sq.Eq{"priority": string(q.Priority)})
	}
	if q.Category != "" {
		b = b.Where(sq.Eq{"category": q.Category})
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		b = b.Where(sq.Eq{"status": statuses})
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// RecordFetchSuccess stores the checkpoint of a successful fetch, adds the new items to the
// fetched total and clears the error counter. Status and the published total are not written.
func (s *SQLite) RecordFetchSuccess(ctx context.Context, id int64, c FetchCheckpoint) error {
	b := sq.Update("feeds").
		Set("last_fetched_at", formatTime(c.FetchedAt)).
		Set("total_fetched", sq.Expr("total_fetched + ?", c.NewItems)).
		Set("error_count", 0).
		Set("last_error", "").
		Where(sq.Eq{"id": id})
	if c.LastItemGUID != "" {
		b = b.Set("last_item_guid", c.LastItemGUID).Set("last_item_date", nullTime(c.LastItemDate))
	}
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}
	return nil
}

// RecordFetchFailure increments the error counter of a feed and moves it from active to
// error once the counter reaches model.MaxConsecutiveErrors. A paused feed stays paused.
// It returns the feed as stored afterwards.
func (s *SQLite) RecordFetchFailure(ctx context.Context, id int64, msg string) (*model.FeedSource, error) {
	_, err := s.exec(ctx, sq.Update("feeds").
		Set("error_count", sq.Expr("error_count + 1")).
		Set("last_error", msg).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("record fetch failure: %w", err)
	}

	_, err = s.exec(ctx, sq.Update("feeds").
		Set("status", string(model.FeedError)).
		Where(sq.Eq{"id": id, "status": string(model.FeedActive)}).
		Where(sq.GtOrEq{"error_count": model.MaxConsecutiveErrors}))
	if err != nil {
		return nil, fmt.Errorf("mark feed failed: %w", err)
	}
	return s.GetFeed(ctx, id)
}

// SetFeedStatus changes the status of a feed. Reactivating a feed clears its error counter.
func (s *SQLite) SetFeedStatus(ctx context.Context, id int64, status model.FeedStatus) error {
	b := sq.Update("feeds").Set("status", string(status)).Where(sq.Eq{"id": id})
	if status == model.FeedActive {
		b = b.Set("error_count", 0).Set("last_error", "")
	}
	res, err := s.exec(ctx, b)
	if err != nil {
		return fmt.Errorf("set feed status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// AddFeedPublished increments the published counter of a feed.
func (s *SQLite) AddFeedPublished(ctx context.Context, id int64, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET total_published = total_published + ? WHERE id = ?`, n, id,
	)
	if err != nil {
		return fmt.Errorf("add feed published: %w", err)
	}
	return nil
}

func scanFeed(row scannable) (model.FeedSource, error) {
	var f model.FeedSource
	var priority, status string
	var lastFetched, lastItemDate, created sql.NullString
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.Category, &priority, &status, &f.Language, &f.MaxItems,
		&lastFetched, &f.LastItemGUID, &lastItemDate, &f.TotalFetched, &f.TotalPublished,
		&f.ErrorCount, &f.LastError, &created)
	if err != nil {
		return f, fmt.Errorf("scan feed: %w", err)
	}
	f.Priority = model.Priority(priority)
	f.Status = model.FeedStatus(status)
	f.LastFetchedAt = parseNullTime(lastFetched)
	f.LastItemDate = parseNullTime(lastItemDate)
	if t := parseNullTime(created); t != nil {
		f.CreatedAt = *t
	}
	return f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.FeedSource, error) {
	var feeds []model.FeedSource
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}
