package ai

import (
	"fmt"
	"strings"
)

// Language describes a target language and its house style.
type Language struct {
	Code  string
	Name  string
	Rules []string
}

var languages = map[string]Language{
	"en": {
		Code: "en",
		Name: "English",
		Rules: []string{
			`Use straight double quotes "..." for quotations.`,
			"Write numbers with a decimal point and comma thousands separators (1,250.5).",
			"Write dates as October 12, 2026.",
		},
	},
	"de": {
		Code: "de",
		Name: "German",
		Rules: []string{
			"Use German quotation marks „…“ and ‚…‘ for nested quotes.",
			"Write numbers with a decimal comma and dot thousands separators (1.250,5).",
			"Write dates as 12. Oktober 2026 and times as 14:30 Uhr.",
			"Address readers formally (Sie) and keep a neutral news register.",
		},
	},
	"fr": {
		Code: "fr",
		Name: "French",
		Rules: []string{
			"Use guillemets « … » with non-breaking spaces inside.",
			"Write numbers with a decimal comma and narrow spaces as thousands separators (1 250,5).",
			"Write dates as 12 octobre 2026 and times as 14 h 30.",
			"Address readers with vous and keep a neutral news register.",
		},
	},
	"es": {
		Code: "es",
		Name: "Spanish",
		Rules: []string{
			"Use angular quotes «…» for quotations.",
			"Write numbers with a decimal comma and dot thousands separators (1.250,5).",
			"Write dates as 12 de octubre de 2026.",
		},
	},
	"it": {
		Code: "it",
		Name: "Italian",
		Rules: []string{
			"Use angular quotes «…» for quotations.",
			"Write numbers with a decimal comma and dot thousands separators (1.250,5).",
			"Write dates as 12 ottobre 2026.",
		},
	},
}

// LookupLanguage returns the style of a language code. Unknown codes get a generic entry.
func LookupLanguage(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if l, ok := languages[code]; ok {
		return l
	}
	return Language{Code: code, Name: code}
}

const rewriteSystemPrompt = `You are a senior news editor. You turn short source extracts into complete, original news articles.

Return ONLY a JSON object, with no commentary, in exactly this shape:
{"title": "...", "lead": "...", "body": "...", "tags": ["...", "...", "...", "...", "..."], "seoTitle": "...", "metaDescription": "..."}

Rules:
- Write in English, whatever the language of the source.
- "body" is HTML using only <p>, <h2>, <strong>, <blockquote> and, when useful, <ul>/<ol> with <li>.
- The body is 500 to 700 words and follows this structure: context, details, analysis, background, outlook, closing paragraph.
- Use at least five paragraphs and two <h2> section headings.
- Never invent quotes, numbers or names that are not supported by the source.
- "lead" is one or two sentences summarizing the story.
- "tags" holds exactly 5 short lowercase topic tags.
- "seoTitle" is at most 60 characters; "metaDescription" is at most 160 characters.`

const translateSystemPrompt = `You are a professional news translator. You translate complete articles into %[1]s.

Return ONLY a JSON object, with no commentary, in exactly this shape:
{"title": "...", "lead": "...", "body": "...", "seoTitle": "...", "metaDescription": "..."}

Rules:
- Translate the full text. Never summarize, shorten or omit sentences.
- Keep every HTML tag and attribute exactly as it is; translate only the text between tags.
- Never translate brand names, product names or names of people.
- "seoTitle" is at most 60 characters; "metaDescription" is at most 160 characters.
%[2]s`

const maxExtractRunes = 8000

func rewritePrompt(in RewriteInput) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Source title: %s\n", in.Title)
	if in.SourceURL != "" {
		fmt.Fprintf(&b, "Source URL: %s\n", in.SourceURL)
	}
	if in.SourceLanguage != "" {
		fmt.Fprintf(&b, "Source language: %s\n", LookupLanguage(in.SourceLanguage).Name)
	}
	b.WriteString("\nSource extract:\n")
	b.WriteString(truncateRunes(in.Extract, maxExtractRunes))
	return rewriteSystemPrompt, b.String()
}

func translatePrompt(lang Language, articleJSON string) (string, string) {
	var rules strings.Builder
	for _, r := range lang.Rules {
		rules.WriteString("- ")
		rules.WriteString(r)
		rules.WriteString("\n")
	}
	system := fmt.Sprintf(translateSystemPrompt, lang.Name, rules.String())
	user := "Translate this article into " + lang.Name + ":\n\n" + articleJSON
	return system, user
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
