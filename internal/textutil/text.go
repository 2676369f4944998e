// Package textutil holds the text helpers shared by the filters, the QA scorer and the publisher.
package textutil

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	blockCloseRe = regexp.MustCompile(`(?i)</(p|h[1-6]|blockquote|li|ul|ol|div|section|article)>|<br\s*/?>`)
	urlRe        = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	blankLineRe  = regexp.MustCompile(`\n\s*\n`)
	spaceRe      = regexp.MustCompile(`[ \t\f\v\r]+`)
	sentenceRe   = regexp.MustCompile(`[.!?]+`)

	stripPolicy = bluemonday.StrictPolicy()
)

// HTMLToText strips markup and keeps block boundaries as blank lines,
// so paragraph detection still works on the result.
func HTMLToText(raw string) string {
	if !strings.Contains(raw, "<") {
		return normalizeSpace(html.UnescapeString(raw))
	}
	withBreaks := blockCloseRe.ReplaceAllString(raw, "$0\n\n")
	text := html.UnescapeString(stripPolicy.Sanitize(withBreaks))
	return normalizeSpace(text)
}

func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLineRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Words splits text on whitespace.
func Words(text string) []string {
	return strings.Fields(text)
}

// WordCount returns the number of whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CountURLs returns the number of http(s)/www links in text.
func CountURLs(text string) int {
	return len(urlRe.FindAllStringIndex(text, -1))
}

// Paragraphs returns blank-line separated blocks longer than minLen characters.
func Paragraphs(text string, minLen int) []string {
	var out []string
	for _, block := range blankLineRe.Split(text, -1) {
		block = strings.TrimSpace(block)
		if utf8.RuneCountInString(block) > minLen {
			out = append(out, block)
		}
	}
	return out
}

// SentenceCount returns the number of non-empty sentences terminated by . ! or ?.
func SentenceCount(text string) int {
	n := 0
	for _, s := range sentenceRe.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// Tokens lowercases text, strips punctuation and drops tokens of two characters or fewer.
// Apostrophes and dots between letters join the word ("don't" is "dont", "U.S." is "us")
// and such joined tokens are kept even when short. A possessive 's is dropped.
func Tokens(text string) []string {
	rs := []rune(norm.NFC.String(strings.ToLower(text)))
	var (
		out    []string
		cur    []rune
		joined bool
	)
	flush := func() {
		if n := len(cur); n > 2 || (joined && n > 1) {
			out = append(out, string(cur))
		}
		cur, joined = cur[:0], false
	}
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case isWordRune(r):
			cur = append(cur, r)
		case isWordMark(r) && len(cur) > 0 && unicode.IsLetter(rs[i-1]) && i+1 < len(rs) && unicode.IsLetter(rs[i+1]):
			if r != '.' && rs[i+1] == 's' && (i+2 == len(rs) || !isWordRune(rs[i+2])) {
				i++
				continue
			}
			joined = true
		default:
			flush()
		}
	}
	flush()
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func isWordMark(r rune) bool {
	return r == '\'' || r == '’' || r == '.'
}

// Truncate cuts s to at most max runes, preferring a word boundary.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)[:max]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-")
}
