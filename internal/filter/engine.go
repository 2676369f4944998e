// Package filter implements the cheap local quality checks applied before any AI call.
package filter

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"harvester/internal/textutil"
)

// Reason codes attached to rejected items.
const (
	ReasonBlockedPattern = "blocked_pattern"
	ReasonTooFewWords    = "too_few_words"
	ReasonTitleTooShort  = "title_too_short"
	ReasonTitleTooLong   = "title_too_long"
	ReasonBodyTooShort   = "body_too_short"
	ReasonTooManyLinks   = "too_many_links"
	ReasonRepetitive     = "repetitive_content"
	ReasonPaywall        = "paywall_keyword"
	ReasonTruncated      = "truncated_excerpt"
	ReasonClickbait      = "clickbait"
)

// Thresholds of the quality checks.
const (
	MinWords         = 50
	MinTitleLen      = 20
	MaxTitleLen      = 300
	MinBodyLen       = 200
	MinWordsPerLink  = 5.0
	MinUniqueRatio   = 0.30
	TruncatedBodyLen = 100
)

// Item is a source item to be checked.
type Item struct {
	Title string
	Body  string
}

// Verdict is the result of a check. Reason is empty when the item passes.
type Verdict struct {
	Pass   bool
	Reason string
	Detail string
}

func reject(reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Ad and placeholder markers only count as a label: alone on a line, heading a line
// before a separator, or in brackets. Prose that mentions the words passes.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*(advertisement|advertorial|anzeige|publicité)\s*(?:[:|\-–].*)?$`),
	regexp.MustCompile(`(?i)[\[(]\s*(advertisement|advertorial|anzeige|publicité|sponsored|placeholder)\s*[\])]`),
	regexp.MustCompile(`(?i)\bsponsored\s+(content|post|article)\b`),
	regexp.MustCompile(`(?i)\bpaid\s+(content|partnership)\b`),
	regexp.MustCompile(`(?i)\bpress\s+release\b`),
	regexp.MustCompile(`(?i)^\s*(re|aw|fw|fwd)\s*:`),
	regexp.MustCompile(`(?i)\[(removed|deleted)\]`),
	regexp.MustCompile(`(?i)^\s*test(ing)?\s*(post|article)?\s*\d*\s*$`),
	regexp.MustCompile(`(?i)\blorem\s+ipsum\b`),
	regexp.MustCompile(`(?im)^\s*(placeholder|todo)\s*(?:[:|\-–].*)?$`),
	regexp.MustCompile(`(?i)\binsert\s+text\s+here\b`),
}

// Check runs the quality checks in order and returns the first failure.
func Check(item Item) Verdict {
	title := strings.TrimSpace(item.Title)
	body := strings.TrimSpace(textutil.HTMLToText(item.Body))

	for _, re := range blockedPatterns {
		if re.MatchString(title) || re.MatchString(body) {
			return reject(ReasonBlockedPattern, re.String())
		}
	}

	words := textutil.Words(title + " " + body)
	if len(words) < MinWords {
		return reject(ReasonTooFewWords, strconv.Itoa(len(words)))
	}

	titleLen := utf8.RuneCountInString(title)
	if titleLen < MinTitleLen {
		return reject(ReasonTitleTooShort, strconv.Itoa(titleLen))
	}
	if titleLen > MaxTitleLen {
		return reject(ReasonTitleTooLong, strconv.Itoa(titleLen))
	}

	if n := utf8.RuneCountInString(body); n < MinBodyLen {
		return reject(ReasonBodyTooShort, strconv.Itoa(n))
	}

	urls := textutil.CountURLs(title + " " + body)
	if float64(len(words))/float64(urls+1) < MinWordsPerLink {
		return reject(ReasonTooManyLinks, strconv.Itoa(urls))
	}

	if len(words) > MinWords {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(strings.Trim(w, `.,;:!?"'()[]`))] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) < MinUniqueRatio {
			return reject(ReasonRepetitive, strconv.Itoa(len(unique)))
		}
	}

	return Verdict{Pass: true}
}
