package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"harvester/internal/model"
)

// ListCategories returns the valid category slugs.
func (s *SQLite) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM categories ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// EnsureCategories inserts the given category slugs that do not exist yet and
// returns how many were added.
func (s *SQLite) EnsureCategories(ctx context.Context, slugs []string) (int, error) {
	added := 0
	for _, slug := range slugs {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug == "" {
			continue
		}
		res, err := s.exec(ctx, sq.Insert("categories").
			Columns("slug", "name").
			Values(slug, slug).
			Suffix("ON CONFLICT (slug) DO NOTHING"))
		if err != nil {
			return added, fmt.Errorf("insert category %q: %w", slug, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// PersistArticle stores an article with its translations in one transaction.
// It returns nil without error when the article already exists (same slug or source fingerprint).
func (s *SQLite) PersistArticle(ctx context.Context, a model.Article) (*model.PersistResult, error) {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	var srcName, srcURL, srcFingerprint, srcLang *string
	var wordCount int
	if a.Source != nil {
		srcName, srcURL, srcLang = &a.Source.OriginalSource, &a.Source.URL, &a.Source.Language
		if a.Source.Fingerprint != "" {
			srcFingerprint = &a.Source.Fingerprint
		}
		wordCount = a.Source.WordCount
	}

	now := time.Now()
	var publishedAt *time.Time
	if a.PublishNow {
		publishedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO articles (slug, category, tags, image_url, source_name, source_url, source_fingerprint,
		        source_language, word_count, published, published_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		a.Slug, a.Category, string(rawTags), a.ImageURL, srcName, srcURL, srcFingerprint,
		srcLang, wordCount, boolToInt(a.PublishNow), nullTime(publishedAt), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return nil, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	langs := make([]string, 0, len(a.Translations))
	for lang := range a.Translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		t := a.Translations[lang]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO article_translations (article_id, lang, title, summary, body, seo_title, meta_description, author)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, lang, t.Title, t.Summary, t.Body, t.SEOTitle, t.MetaDescription, t.Author,
		)
		if err != nil {
			return nil, fmt.Errorf("insert translation %s: %w", lang, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit article: %w", err)
	}
	return &model.PersistResult{ArticleID: id}, nil
}

// ArticleTranslations returns the stored translations of an article keyed by language.
func (s *SQLite) ArticleTranslations(ctx context.Context, articleID int64) (map[string]model.TranslationPayload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lang, title, summary, body, seo_title, meta_description, author
		 FROM article_translations WHERE article_id = ?`, articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.TranslationPayload)
	for rows.Next() {
		var lang string
		var t model.TranslationPayload
		if err := rows.Scan(&lang, &t.Title, &t.Summary, &t.Body, &t.SEOTitle, &t.MetaDescription, &t.Author); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		out[lang] = t
	}
	return out, rows.Err()
}
