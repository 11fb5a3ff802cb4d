// Package similarity provides the pure scoring primitives used by the
// matching engine: edit-distance description similarity and amount/date
// tolerance scoring. All results are clamped to [0, 1].
package similarity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Description returns the normalized edit-distance ratio between two
// descriptions, case-insensitive:
//
//	1 - levenshtein(a, b) / max(len(a), len(b))
//
// Two empty strings are considered identical.
func Description(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}

	// DefaultOptionsWithSub counts a substitution as one edit;
	// DefaultOptions charges two, which deflates every score.
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return Clamp(1.0 - float64(distance)/float64(maxLen))
}

// Amount scores how close two amounts are relative to a tolerance.
// A zero difference scores 1; a difference at or beyond the tolerance
// scores 0, with linear decay in between.
func Amount(diff, tolerance decimal.Decimal) float64 {
	if diff.IsNegative() {
		diff = diff.Abs()
	}
	if tolerance.Sign() <= 0 {
		if diff.IsZero() {
			return 1.0
		}
		return 0.0
	}
	ratio, _ := diff.Div(tolerance).Float64()
	return Clamp(1.0 - ratio)
}

// Date scores date proximity within a window of days:
// max(0, 1 - dayDiff/windowDays).
func Date(a, b time.Time, windowDays int) float64 {
	if windowDays <= 0 {
		if DayDiff(a, b) == 0 {
			return 1.0
		}
		return 0.0
	}
	return Clamp(1.0 - DayDiff(a, b)/float64(windowDays))
}

// DayDiff returns the absolute difference between two dates in days.
func DayDiff(a, b time.Time) float64 {
	diff := a.Sub(b).Hours() / 24
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// Clamp bounds a score to [0, 1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
