package publish

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CategoryTTL is how long the valid-category set is cached.
const CategoryTTL = 5 * time.Minute

const categoriesKey = "valid"

// CategorySource lists the valid category slugs.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]string, error)
}

var categoryAliases = map[string]string{
	"tech":                    "technology",
	"it":                      "technology",
	"technik":                 "technology",
	"technologie":             "technology",
	"ml":                      "ai",
	"ki":                      "ai",
	"ia":                      "ai",
	"artificial intelligence": "ai",
	"machine learning":        "ai",
	"econ":                    "business",
	"economy":                 "business",
	"finance":                 "business",
	"markets":                 "business",
	"wirtschaft":              "business",
	"économie":                "business",
	"news":                    "world",
	"international":           "world",
	"politik":                 "politics",
	"politique":               "politics",
	"wissenschaft":            "science",
	"sci":                     "science",
	"medicine":                "health",
	"gesundheit":              "health",
	"santé":                   "health",
	"sport":                   "sports",
	"kultur":                  "culture",
	"arts":                    "culture",
	"entertainment":           "culture",
}

// CategoryResolver maps free-form categories onto the valid set.
type CategoryResolver struct {
	source   CategorySource
	cache    *expirable.LRU[string, []string]
	fallback string
	logger   *slog.Logger
}

// NewCategoryResolver creates a resolver that falls back to fallback for unknown input.
func NewCategoryResolver(source CategorySource, fallback string, logger *slog.Logger) *CategoryResolver {
	return &CategoryResolver{
		source:   source,
		cache:    expirable.NewLRU[string, []string](1, nil, CategoryTTL),
		fallback: fallback,
		logger:   logger,
	}
}

// Resolve returns the valid category for raw: exact match, case-insensitive match,
// alias, then the fallback. Corrections are logged.
func (r *CategoryResolver) Resolve(ctx context.Context, raw string) string {
	raw = strings.TrimSpace(raw)
	valid, err := r.valid(ctx)
	if err != nil {
		r.logger.Warn("load categories", "error", err, "fallback", r.fallback)
		return r.fallback
	}

	for _, c := range valid {
		if c == raw {
			return c
		}
	}

	lower := strings.ToLower(raw)
	for _, c := range valid {
		if strings.ToLower(c) == lower {
			return c
		}
	}

	if alias, ok := categoryAliases[lower]; ok && contains(valid, alias) {
		r.logger.Info("category normalized", "from", raw, "to", alias)
		return alias
	}

	r.logger.Warn("unknown category corrected", "from", raw, "to", r.fallback)
	return r.fallback
}

// Invalidate drops the cached category set.
func (r *CategoryResolver) Invalidate() {
	r.cache.Purge()
}

func (r *CategoryResolver) valid(ctx context.Context) ([]string, error) {
	if v, ok := r.cache.Get(categoriesKey); ok {
		return v, nil
	}
	cats, err := r.source.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Add(categoriesKey, cats)
	return cats, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
