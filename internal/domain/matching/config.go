package matching

import "github.com/shopspring/decimal"

// Config holds the matching engine's tunable thresholds. DefaultConfig
// reflects the production values; tests tighten or loosen individual
// knobs.
type Config struct {
	// Exact-window search.
	ExactWindowDays      int             // candidate date window, default ±7
	ExactAmountTolerance decimal.Decimal // absolute, default 0.01

	// Fuzzy-window fallback.
	FuzzyWindowDays          int             // default ±30
	FuzzyAmountTolerancePct  float64         // fraction of |amount|, default 0.10
	FuzzyAmountToleranceBand decimal.Decimal // absolute cap, default 50
	FuzzyMinScore            float64         // keep candidates scoring >= this, default 0.6

	// Classification thresholds.
	ExactMinScore      float64 // default 0.90
	FuzzyTypeMinScore  float64 // default 0.70
	ExactMaxDateDays   float64 // tight date tolerance for "exact", default 1
	FallbackTrigger    float64 // widen window when no candidate reaches this, default 0.90
	MaxResults         int     // default 5
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExactWindowDays:      7,
		ExactAmountTolerance: decimal.NewFromFloat(0.01),

		FuzzyWindowDays:          30,
		FuzzyAmountTolerancePct:  0.10,
		FuzzyAmountToleranceBand: decimal.NewFromInt(50),
		FuzzyMinScore:            0.6,

		ExactMinScore:     0.90,
		FuzzyTypeMinScore: 0.70,
		ExactMaxDateDays:  1,
		FallbackTrigger:   0.90,
		MaxResults:        5,
	}
}

// fuzzyTolerance computes the widened amount tolerance for a
// transaction amount: max(fixed, pct*|amount|), capped at the absolute
// band so very large transactions do not accept arbitrarily distant
// amounts.
func (c Config) fuzzyTolerance(amount decimal.Decimal) decimal.Decimal {
	tol := amount.Abs().Mul(decimal.NewFromFloat(c.FuzzyAmountTolerancePct))
	if tol.LessThan(c.ExactAmountTolerance) {
		tol = c.ExactAmountTolerance
	}
	if c.FuzzyAmountToleranceBand.Sign() > 0 && tol.GreaterThan(c.FuzzyAmountToleranceBand) {
		tol = c.FuzzyAmountToleranceBand
	}
	return tol
}
