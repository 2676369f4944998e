package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"harvester/internal/model"
)

var itemColumns = []string{
	"id", "feed_id", "guid", "title", "link", "content", "published_at", "content_hash",
	"simhash", "processed", "skip_reason", "article_id", "created_at",
}

// UpsertItem records a fetched item exactly once per (feed, guid).
// It reports whether a new row was written; item.ID is set in both cases.
func (s *SQLite) UpsertItem(ctx context.Context, item *model.FetchedItem) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fetched_items (feed_id, guid, title, link, content, published_at, content_hash, simhash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (feed_id, guid) DO NOTHING`,
		item.FeedID, item.GUID, item.Title, item.Link, item.Content, nullTime(item.PublishedAt),
		item.ContentHash, item.SimHash, formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("upsert item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM fetched_items WHERE feed_id = ? AND guid = ?`, item.FeedID, item.GUID,
		).Scan(&item.ID)
		if err != nil {
			return false, notFound(err, "item")
		}
		return false, nil
	}

	if item.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	item.CreatedAt = now.Truncate(time.Second)
	return true, nil
}

// GetItem returns a single fetched item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id int64) (*model.FetchedItem, error) {
	rows, err := s.query(ctx, sq.Select(itemColumns...).From("fetched_items").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return &items[0], nil
}

// HasFingerprint reports whether another item with the same content hash exists.
func (s *SQLite) HasFingerprint(ctx context.Context, hash string, excludeItemID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fetched_items WHERE content_hash = ? AND id <> ?`, hash, excludeItemID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return count > 0, nil
}

// RecentSimHashes returns SimHashes of items processed since the given time by feeds other than excludeFeedID.
func (s *SQLite) RecentSimHashes(ctx context.Context, since time.Time, excludeFeedID int64) ([]string, error) {
	rows, err := s.query(ctx, sq.Select("simhash").From("fetched_items").
		Where(sq.Eq{"processed": 1}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		Where(sq.NotEq{"feed_id": excludeFeedID}).
		OrderBy("id DESC"))
	if err != nil {
		return nil, fmt.Errorf("query simhashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan simhash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ClaimLease is how long a claim reserves an item for one cycle. Older claims are
// treated as abandoned and the item can be claimed again.
const ClaimLease = time.Hour

// ListPendingItems returns unprocessed items of the given feeds, oldest first, claimed or not.
func (s *SQLite) ListPendingItems(ctx context.Context, feedIDs []int64, limit int) ([]model.FetchedItem, error) {
	if limit <= 0 || len(feedIDs) == 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, sq.Select(itemColumns...).From("fetched_items").
		Where(sq.Eq{"processed": 0, "feed_id": feedIDs}).
		OrderBy("id").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// ClaimPendingItems reserves up to limit unprocessed items of the given feeds for the
// calling cycle, oldest first. Items claimed by another cycle within ClaimLease are skipped,
// so overlapping cycles never receive the same item.
func (s *SQLite) ClaimPendingItems(ctx context.Context, feedIDs []int64, limit int) ([]model.FetchedItem, error) {
	if limit <= 0 || len(feedIDs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	sub, subArgs, err := sq.Select("id").From("fetched_items").
		Where(sq.Eq{"processed": 0, "feed_id": feedIDs}).
		Where(sq.Or{sq.Eq{"claimed_at": nil}, sq.Lt{"claimed_at": formatTime(now.Add(-ClaimLease))}}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim subquery: %w", err)
	}
	query, args, err := sq.Update("fetched_items").
		Set("claimed_at", formatTime(now)).
		Where("id IN ("+sub+")", subArgs...).
		Suffix("RETURNING " + strings.Join(itemColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim pending items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// ReleaseItems drops the claims of items that are still unprocessed.
func (s *SQLite) ReleaseItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.exec(ctx, sq.Update("fetched_items").
		Set("claimed_at", nil).
		Where(sq.Eq{"id": ids, "processed": 0}))
	if err != nil {
		return fmt.Errorf("release items: %w", err)
	}
	return nil
}

// MarkItemProcessed links an item to the article created from it.
func (s *SQLite) MarkItemProcessed(ctx context.Context, id, articleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fetched_items SET processed = 1, skip_reason = NULL, article_id = ?, processed_at = ? WHERE id = ?`,
		articleID, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark item processed: %w", err)
	}
	return nil
}

// MarkItemSkipped closes an item without an article and records why.
// An item that already produced an article is left untouched.
func (s *SQLite) MarkItemSkipped(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fetched_items SET processed = 1, skip_reason = ?, processed_at = ?
		 WHERE id = ? AND article_id IS NULL`,
		reason, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark item skipped: %w", err)
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]model.FetchedItem, error) {
	var items []model.FetchedItem
	for rows.Next() {
		var it model.FetchedItem
		var processed int
		var published, created, skip sql.NullString
		var articleID sql.NullInt64
		err := rows.Scan(&it.ID, &it.FeedID, &it.GUID, &it.Title, &it.Link, &it.Content, &published,
			&it.ContentHash, &it.SimHash, &processed, &skip, &articleID, &created)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.PublishedAt = parseNullTime(published)
		it.Processed = processed == 1
		it.SkipReason = skip.String
		if articleID.Valid {
			v := articleID.Int64
			it.ArticleID = &v
		}
		if t := parseNullTime(created); t != nil {
			it.CreatedAt = *t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
