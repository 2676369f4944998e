// Package qa scores rewritten articles for publishable quality.
package qa

import (
	"math"

	"harvester/internal/textutil"
)

// Scoring constants.
const (
	TargetWords         = 500
	IdealSentenceWords  = 18.0
	ParagraphMinChars   = 50
	MinStructParagraphs = 4
	DefaultMinScore     = 0.85
	maxParagraphBonus   = 0.10
	paragraphBonusStep  = 0.02
	weightWordCount     = 0.40
	weightReadability   = 0.25
	weightExpansion     = 0.20
	weightStructure     = 0.15
)

// Result is the score breakdown for one rewrite.
type Result struct {
	Total         float64
	WordCount     float64
	Readability   float64
	Expansion     float64
	Structure     float64
	OriginalWords int
	Words         int
	Paragraphs    int
}

// Score computes a deterministic quality score in [0,1].
// Both texts are plain text; paragraphs are separated by blank lines.
func Score(original, rewritten string) Result {
	words := textutil.WordCount(rewritten)
	origWords := textutil.WordCount(original)
	paragraphs := len(textutil.Paragraphs(rewritten, ParagraphMinChars))

	r := Result{
		OriginalWords: origWords,
		Words:         words,
		Paragraphs:    paragraphs,
		WordCount:     math.Min(1, float64(words)/TargetWords),
		Readability:   readability(rewritten, words, paragraphs),
		Expansion:     expansion(origWords, words),
		Structure:     structure(words, paragraphs),
	}

	total := weightWordCount*r.WordCount +
		weightReadability*r.Readability +
		weightExpansion*r.Expansion +
		weightStructure*r.Structure
	r.Total = clamp(total)
	return r
}

// Passes reports whether the result meets the minimum score.
func (r Result) Passes(min float64) bool {
	return r.Total >= min
}

func readability(text string, words, paragraphs int) float64 {
	sentences := textutil.SentenceCount(text)
	if words == 0 || sentences == 0 {
		return 0
	}
	avg := float64(words) / float64(sentences)
	score := math.Max(0, 1-math.Abs(avg-IdealSentenceWords)/IdealSentenceWords)
	score += math.Min(maxParagraphBonus, float64(paragraphs)*paragraphBonusStep)
	return math.Min(1, score)
}

func expansion(origWords, words int) float64 {
	if origWords == 0 {
		return 0.5
	}
	ratio := float64(words) / float64(origWords)
	switch {
	case ratio >= 1.5 && ratio <= 4:
		return 1.0
	case ratio >= 1 && ratio < 1.5:
		return 0.7
	case ratio > 4:
		return 0.8
	default:
		return 0.5
	}
}

func structure(words, paragraphs int) float64 {
	s := 0.0
	if words >= TargetWords {
		s += 0.5
	}
	if paragraphs >= MinStructParagraphs {
		s += 0.5
	}
	return s
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
