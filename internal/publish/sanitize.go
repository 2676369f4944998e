package publish

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var bodyPolicy = newBodyPolicy()

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "h2", "h3", "strong", "em", "blockquote", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// SanitizeBody restricts generated HTML to the article markup.
func SanitizeBody(html string) string {
	return strings.TrimSpace(bodyPolicy.Sanitize(html))
}
