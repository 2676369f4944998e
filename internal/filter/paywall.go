package filter

import (
	"strings"
	"unicode/utf8"

	"harvester/internal/textutil"
)

// paywallKeywords covers subscription and login walls in English, German and French.
var paywallKeywords = []string{
	"subscribe to continue",
	"subscribe to read",
	"subscribers only",
	"for subscribers",
	"this article is for subscribers",
	"sign in to read",
	"log in to continue",
	"login to continue",
	"create a free account to continue",
	"premium content",
	"paywall",
	"already a subscriber",
	"jetzt abonnieren",
	"nur für abonnenten",
	"für abonnenten",
	"abo abschließen",
	"anmelden, um weiterzulesen",
	"anmelden um weiterzulesen",
	"plus-artikel",
	"réservé aux abonnés",
	"article réservé",
	"abonnez-vous",
	"connectez-vous pour lire",
	"déjà abonné",
	"contenu premium",
}

var clickbaitKeywords = []string{
	"you won't believe",
	"you will not believe",
	"what happened next",
	"will shock you",
	"doctors hate",
	"this one trick",
	"du wirst nicht glauben",
	"vous n'allez pas croire",
}

// CheckPaywall flags paywalled or clickbait items: keyword hits in title or body,
// or a very short body that ends in an ellipsis.
func CheckPaywall(item Item) Verdict {
	body := strings.TrimSpace(textutil.HTMLToText(item.Body))
	haystack := strings.ToLower(item.Title + "\n" + body)

	for _, kw := range paywallKeywords {
		if strings.Contains(haystack, kw) {
			return reject(ReasonPaywall, kw)
		}
	}
	for _, kw := range clickbaitKeywords {
		if strings.Contains(haystack, kw) {
			return reject(ReasonClickbait, kw)
		}
	}

	if utf8.RuneCountInString(body) < TruncatedBodyLen &&
		(strings.HasSuffix(body, "...") || strings.HasSuffix(body, "…")) {
		return reject(ReasonTruncated, body)
	}

	return Verdict{Pass: true}
}
