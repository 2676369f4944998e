package publish

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugBase = 80

var umlauts = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss", "æ", "ae", "œ", "oe", "ø", "o")

// Slug builds a URL slug from title plus a short suffix of fingerprint.
func Slug(title, fingerprint string) string {
	s := umlauts.Replace(strings.ToLower(title))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	var b strings.Builder
	dash := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.Trim(b.String(), "-")

	if len(base) > maxSlugBase {
		base = base[:maxSlugBase]
		if i := strings.LastIndexByte(base, '-'); i > maxSlugBase/2 {
			base = base[:i]
		}
		base = strings.Trim(base, "-")
	}
	if base == "" {
		base = "article"
	}

	if len(fingerprint) > 8 {
		fingerprint = fingerprint[:8]
	}
	if fingerprint == "" {
		return base
	}
	return base + "-" + strings.ToLower(fingerprint)
}
