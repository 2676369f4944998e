// Package fetcher downloads RSS/Atom feeds and normalizes their items.
package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"harvester/internal/textutil"
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Item is a normalized source item.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Content     string
	PublishedAt *time.Time
}

// Result holds the outcome of fetching a source.
type Result struct {
	Title    string
	Items    []Item
	Fallback bool
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client    HTTPClient
	userAgent string
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: "Harvester/1.0 (+news aggregation)",
	}
}

// Fetch downloads url and parses it as RSS/Atom. When the document is not a feed,
// it is treated as an article page and returned as a single item.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	feed, parseErr := gofeed.NewParser().Parse(bytes.NewReader(body))
	if parseErr == nil {
		return &Result{Title: feed.Title, Items: NormalizeItems(feed.Items)}, nil
	}

	item, err := ParsePage(body, url)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w (page fallback: %v)", parseErr, err)
	}
	return &Result{Title: item.Title, Items: []Item{*item}, Fallback: true}, nil
}

// FetchPage downloads an article page and extracts a single item from it.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (*Item, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParsePage(body, url)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// NormalizeItems converts parsed feed items, keeping the order of the source.
// Items without a title are dropped.
func NormalizeItems(items []*gofeed.Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(textutil.HTMLToText(it.Title))
		if title == "" {
			continue
		}
		content := it.Content
		if strings.TrimSpace(content) == "" {
			content = it.Description
		}
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		if published != nil {
			t := published.UTC()
			published = &t
		}
		out = append(out, Item{
			GUID:        ItemGUID(it),
			Title:       title,
			Link:        strings.TrimSpace(it.Link),
			Content:     strings.TrimSpace(content),
			PublishedAt: published,
		})
	}
	return out
}

// ItemGUID returns the GUID for an RSS item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
