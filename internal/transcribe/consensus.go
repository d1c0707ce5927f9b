package transcribe

import (
	"strings"
	"unicode"

	"github.com/samber/lo"

	"medvoice/internal/provider"
)

// Consensus is the word-set agreement across parallel transcripts.
type Consensus struct {
	// Text is the agreed transcript, taken from the highest-confidence
	// result. Empty when the results never reached the threshold.
	Text string `json:"text,omitempty"`

	// Confidence is 1.0 for identical texts, otherwise the word overlap
	// ratio that cleared the threshold.
	Confidence float64 `json:"confidence"`

	// Overlap is the raw Jaccard ratio across all non-empty results,
	// reported even when no consensus was reached.
	Overlap float64 `json:"overlap"`

	Reached bool `json:"reached"`
}

// normalize lowercases text and strips everything but letters, digits and
// spaces so punctuation differences between providers do not break
// agreement.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func wordSet(text string) []string {
	return lo.Uniq(strings.Fields(normalize(text)))
}

// computeConsensus compares all non-empty transcripts. Fewer than two
// results can never form a consensus. Identical normalized texts agree with
// confidence 1.0; otherwise the Jaccard ratio of the word sets must reach
// the threshold.
func computeConsensus(results []provider.Transcript, threshold float64) Consensus {
	nonEmpty := lo.Filter(results, func(t provider.Transcript, _ int) bool {
		return strings.TrimSpace(t.Text) != ""
	})
	if len(nonEmpty) < 2 {
		return Consensus{}
	}

	identical := true
	first := normalize(nonEmpty[0].Text)
	for _, t := range nonEmpty[1:] {
		if normalize(t.Text) != first {
			identical = false
			break
		}
	}

	best := nonEmpty[0]
	for _, t := range nonEmpty[1:] {
		if t.Confidence > best.Confidence {
			best = t
		}
	}

	if identical {
		return Consensus{
			Text:       best.Text,
			Confidence: 1.0,
			Overlap:    1.0,
			Reached:    true,
		}
	}

	intersection := wordSet(nonEmpty[0].Text)
	union := wordSet(nonEmpty[0].Text)
	for _, t := range nonEmpty[1:] {
		set := wordSet(t.Text)
		intersection = lo.Intersect(intersection, set)
		union = lo.Union(union, set)
	}
	if len(union) == 0 {
		return Consensus{}
	}

	overlap := float64(len(intersection)) / float64(len(union))
	c := Consensus{Overlap: overlap}
	if overlap >= threshold {
		c.Reached = true
		c.Text = best.Text
		c.Confidence = overlap
	}
	return c
}
