// Package fingerprint derives the canonical exact-match key of an activity.
//
// The key covers owner, start truncated to the minute, duration rounded to
// two decimals and a normalised description prefix. Two records that differ
// only in casing, surrounding or repeated whitespace, or sub-minute start
// jitter share a fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/okian/recon/internal/domain/model"
)

// DefaultPrefixLength is the number of runes of the normalised description
// that take part in the fingerprint.
const DefaultPrefixLength = 100

// Generator computes fingerprints with a fixed description prefix length.
type Generator struct {
	prefixLen int
}

// New returns a Generator. Non-positive lengths fall back to the default.
func New(prefixLen int) Generator {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLength
	}
	return Generator{prefixLen: prefixLen}
}

// Of returns the hex SHA-256 fingerprint of rec.
func (g Generator) Of(rec model.ActivityRecord) string {
	sum := sha256.Sum256([]byte(g.Key(rec)))
	return hex.EncodeToString(sum[:])
}

// Key returns the normalised tuple that Of hashes. Exposed for debugging and
// for grouping without hashing.
func (g Generator) Key(rec model.ActivityRecord) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(rec.OwnerID), 10))
	b.WriteByte('|')
	b.WriteString(StartMinute(rec.Start).Format(time.RFC3339))
	b.WriteByte('|')
	b.WriteString(RoundedDuration(rec.Duration))
	b.WriteByte('|')
	b.WriteString(g.DescriptionPrefix(rec.Description))
	return b.String()
}

// DescriptionPrefix returns the normalised description cut to the prefix length.
func (g Generator) DescriptionPrefix(description string) string {
	n := NormalizeDescription(description)
	runes := []rune(n)
	if len(runes) > g.prefixLen {
		return strings.TrimSpace(string(runes[:g.prefixLen]))
	}
	return n
}

// Of fingerprints rec with the default prefix length.
func Of(rec model.ActivityRecord) string {
	return New(DefaultPrefixLength).Of(rec)
}

// NormalizeDescription NFKC-normalises, case-folds, trims and collapses
// internal whitespace.
func NormalizeDescription(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// StartMinute truncates t to the minute in UTC.
func StartMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// RoundedDuration formats d rounded to two decimals, or "" when absent.
func RoundedDuration(d *float64) string {
	if d == nil || math.IsNaN(*d) || math.IsInf(*d, 0) {
		return ""
	}
	rounded := math.Round(*d*100) / 100
	if rounded == 0 {
		rounded = 0 // normalise -0
	}
	return strconv.FormatFloat(rounded, 'f', 2, 64)
}
