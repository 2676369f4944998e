package fetcher

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"harvester/internal/textutil"
)

var errNoTitle = errors.New("page has no title")

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsePage extracts an item from an article page: og:title, article:published_time
// and the readable text of the main content.
func ParsePage(body []byte, pageURL string) (*Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := metaContent(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil, errNoTitle
	}

	link := metaContent(doc, "og:url")
	if link == "" {
		link = pageURL
	}

	item := &Item{
		GUID:    link,
		Title:   title,
		Link:    link,
		Content: readableText(body, doc),
	}
	if raw := metaContent(doc, "article:published_time"); raw != "" {
		item.PublishedAt = parsePublished(raw)
	}
	return item, nil
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

// readableText prefers readability's main-content extraction and falls back to
// the paragraphs of the document.
func readableText(body []byte, doc *goquery.Document) string {
	if article, err := readability.FromReader(bytes.NewReader(body), nil); err == nil {
		var buf strings.Builder
		if err := article.RenderText(&buf); err == nil {
			if text := strings.TrimSpace(buf.String()); text != "" {
				return text
			}
		}
	}

	var paras []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(textutil.HTMLToText(s.Text())); t != "" {
			paras = append(paras, t)
		}
	})
	return strings.Join(paras, "\n\n")
}

func parsePublished(raw string) *time.Time {
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
