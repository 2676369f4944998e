package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"harvester/internal/model"
)

// CreateRunLog opens a run log row and populates its ID.
func (s *SQLite) CreateRunLog(ctx context.Context, r *model.RunLog) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, priority, started_at) VALUES (?, ?, ?)`,
		r.RunID, string(r.Priority), formatTime(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// FinishRunLog stores the aggregated counters of a run and closes it.
func (s *SQLite) FinishRunLog(ctx context.Context, r *model.RunLog) error {
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	_, err = s.exec(ctx, sq.Update("run_logs").
		SetMap(map[string]any{
			"finished_at":     nullTime(r.FinishedAt),
			"feeds_checked":   r.FeedsChecked,
			"items_fetched":   r.ItemsFetched,
			"items_processed": r.ItemsProcessed,
			"items_published": r.ItemsPublished,
			"items_skipped":   r.ItemsSkipped,
			"errors":          string(raw),
		}).
		Where(sq.Eq{"id": r.ID}))
	if err != nil {
		return fmt.Errorf("finish run log: %w", err)
	}
	return nil
}

// ListRunLogs returns the most recent run logs, newest first.
func (s *SQLite) ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, sq.Select(
		"id", "run_id", "priority", "started_at", "finished_at", "feeds_checked", "items_fetched",
		"items_processed", "items_published", "items_skipped", "errors",
	).From("run_logs").OrderBy("id DESC").Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []model.RunLog
	for rows.Next() {
		var r model.RunLog
		var priority, started, rawErrors string
		var finished sql.NullString
		err := rows.Scan(&r.ID, &r.RunID, &priority, &started, &finished, &r.FeedsChecked, &r.ItemsFetched,
			&r.ItemsProcessed, &r.ItemsPublished, &r.ItemsSkipped, &rawErrors)
		if err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		r.Priority = model.Priority(priority)
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt = parseNullTime(finished)
		if err := json.Unmarshal([]byte(rawErrors), &r.Errors); err != nil {
			return nil, fmt.Errorf("decode run errors: %w", err)
		}
		logs = append(logs, r)
	}
	return logs, rows.Err()
}

// PublishedSince sums published articles of runs started at or after since.
func (s *SQLite) PublishedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(items_published), 0) FROM run_logs WHERE started_at >= ?`, formatTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum published: %w", err)
	}
	return n, nil
}
