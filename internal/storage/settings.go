package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"harvester/internal/model"
)

// GetSettings returns the settings row, creating it with defaults when missing.
func (s *SQLite) GetSettings(ctx context.Context) (model.BotSettings, error) {
	var st model.BotSettings
	var enabled, autoPublish, crossSource, paywall int
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, high_interval_min, medium_interval_min, low_interval_min, daily_article_target,
		        max_articles_per_hour, min_qa_score, auto_publish, simhash_threshold, cross_source_dedup,
		        paywall_filter, updated_at
		 FROM bot_settings WHERE id = 1`,
	).Scan(&enabled, &st.HighIntervalMin, &st.MediumIntervalMin, &st.LowIntervalMin, &st.DailyArticleTarget,
		&st.MaxArticlesPerHour, &st.MinQAScore, &autoPublish, &st.SimHashThreshold, &crossSource,
		&paywall, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		st = model.DefaultSettings()
		if err := s.SaveSettings(ctx, st); err != nil {
			return st, err
		}
		return s.GetSettings(ctx)
	}
	if err != nil {
		return st, fmt.Errorf("scan settings: %w", err)
	}

	st.Enabled = enabled == 1
	st.AutoPublish = autoPublish == 1
	st.CrossSourceDedup = crossSource == 1
	st.PaywallFilter = paywall == 1
	st.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return st, nil
}

// SaveSettings replaces the settings row.
func (s *SQLite) SaveSettings(ctx context.Context, st model.BotSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_settings (id, enabled, high_interval_min, medium_interval_min, low_interval_min,
		        daily_article_target, max_articles_per_hour, min_qa_score, auto_publish, simhash_threshold,
		        cross_source_dedup, paywall_filter, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		        enabled = excluded.enabled,
		        high_interval_min = excluded.high_interval_min,
		        medium_interval_min = excluded.medium_interval_min,
		        low_interval_min = excluded.low_interval_min,
		        daily_article_target = excluded.daily_article_target,
		        max_articles_per_hour = excluded.max_articles_per_hour,
		        min_qa_score = excluded.min_qa_score,
		        auto_publish = excluded.auto_publish,
		        simhash_threshold = excluded.simhash_threshold,
		        cross_source_dedup = excluded.cross_source_dedup,
		        paywall_filter = excluded.paywall_filter,
		        updated_at = excluded.updated_at`,
		boolToInt(st.Enabled), st.HighIntervalMin, st.MediumIntervalMin, st.LowIntervalMin,
		st.DailyArticleTarget, st.MaxArticlesPerHour, st.MinQAScore, boolToInt(st.AutoPublish),
		st.SimHashThreshold, boolToInt(st.CrossSourceDedup), boolToInt(st.PaywallFilter),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
