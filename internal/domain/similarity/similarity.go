// Package similarity scores how alike two activity records are.
// All scores are bounded to [0,1].
package similarity

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/okian/recon/internal/domain/fingerprint"
)

// Weights controls how the factor scores are combined. Factors whose weight
// is zero do not take part. The duration factor is only used when both
// records carry a duration.
type Weights struct {
	Temporal float64
	Textual  float64
	Duration float64
}

// DefaultWeights weighs every factor equally.
func DefaultWeights() Weights {
	return Weights{Temporal: 1, Textual: 1, Duration: 1}
}

// Valid reports whether the weights are usable.
func (w Weights) Valid() bool {
	if w.Temporal < 0 || w.Textual < 0 || w.Duration < 0 {
		return false
	}
	return w.Temporal+w.Textual > 0
}

// Scores holds the individual factors of one comparison.
type Scores struct {
	Temporal    float64
	Textual     float64
	Duration    float64
	HasDuration bool
}

// Combine returns the weighted mean of the present factors.
func (w Weights) Combine(s Scores) float64 {
	sum := w.Temporal*s.Temporal + w.Textual*s.Textual
	total := w.Temporal + w.Textual
	if s.HasDuration && w.Duration > 0 {
		sum += w.Duration * s.Duration
		total += w.Duration
	}
	if total <= 0 {
		return 0
	}
	return Clamp(sum / total)
}

// Temporal scores the distance between two starts against a tolerance window:
// 1 at zero distance, falling linearly to 0 at the window edge. A zero window
// scores 1 for identical starts and 0 otherwise.
func Temporal(delta, window time.Duration) float64 {
	if delta < 0 {
		delta = -delta
	}
	if window <= 0 {
		if delta == 0 {
			return 1
		}
		return 0
	}
	return Clamp(1 - float64(delta)/float64(window))
}

// Duration scores two durations in hours. ok is false when either is absent.
func Duration(a, b *float64) (score float64, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	x, y := math.Abs(*a), math.Abs(*b)
	hi := math.Max(x, y)
	if hi == 0 {
		return 1, true
	}
	return Clamp(1 - math.Abs(x-y)/hi), true
}

// Text compares two free-text descriptions. Both are case-folded, stripped
// of punctuation and whitespace-collapsed first; the result is the better of
// the edit-distance ratio and the token-set Dice coefficient.
func Text(a, b string) float64 {
	return NormalizedText(NormalizeText(a), NormalizeText(b))
}

// NormalizedText is Text for inputs already passed through NormalizeText.
func NormalizedText(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return math.Max(EditRatio(a, b), TokenDice(a, b))
}

// NormalizeText prepares a description for comparison.
func NormalizeText(s string) string {
	s = fingerprint.NormalizeDescription(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// EditRatio is 1 - levenshtein(a,b)/max(len(a),len(b)) counted in runes.
func EditRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return Clamp(1 - float64(dist)/float64(longest))
}

// TokenDice is the Dice coefficient over the sets of space separated tokens.
func TokenDice(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	return Clamp(2 * float64(shared) / float64(len(ta)+len(tb)))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Clamp bounds x to [0,1]; NaN becomes 0.
func Clamp(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
