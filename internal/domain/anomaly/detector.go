// Package anomaly runs the read-only analytical pass over a tenant's
// transaction window: duplicates, statistical spend outliers, missing
// evidence, and suspicious patterns. It produces findings, not
// decisions; the reconciliation service converts findings into
// exceptions (and is responsible for deduping repeated runs).
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Finding is one detected problem on a transaction.
type Finding struct {
	Type          string   // storage.Exception* constant
	Severity      string   // storage.Severity* constant
	Score         float64  // normalized [0,1]
	TransactionID string
	Description   string
	Remediation   []string // ordered suggested actions
}

// Config holds the detector's thresholds.
type Config struct {
	SpendSigmaThreshold  float64         // flag beyond mean + N sigma, default 2
	MissingDocMinAmount  decimal.Decimal // ignore smaller amounts, default 10
	MissingDocMinAgeDays int             // ignore younger transactions, default 7
	WeekendMinAmount     decimal.Decimal // weekend pattern floor, default 100
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SpendSigmaThreshold:  2.0,
		MissingDocMinAmount:  decimal.NewFromInt(10),
		MissingDocMinAgeDays: 7,
		WeekendMinAmount:     decimal.NewFromInt(100),
	}
}

// Detector analyses a window of transactions.
type Detector struct {
	config Config
	now    func() time.Time
}

// NewDetector creates a detector with the given config.
func NewDetector(config Config) *Detector {
	return &Detector{config: config, now: time.Now}
}

// NewDetectorAt creates a detector with a fixed clock, for tests.
func NewDetectorAt(config Config, now func() time.Time) *Detector {
	return &Detector{config: config, now: now}
}

// Detect runs every analytical pass over the window and returns the
// combined findings. Transactions are grouped by account code via the
// supplied category lookup (ledger account of the suggested/linked
// entry, or the transaction description bucket when unknown).
func (d *Detector) Detect(txns []storage.BankTransaction, categoryOf func(storage.BankTransaction) string) []Finding {
	var findings []Finding
	findings = append(findings, d.UnusualSpend(txns, categoryOf)...)
	findings = append(findings, d.Duplicates(txns)...)
	findings = append(findings, d.MissingDocuments(txns)...)
	findings = append(findings, d.WeekendPattern(txns)...)
	return findings
}

// UnusualSpend flags unreconciled transactions whose absolute amount
// exceeds mean + Nσ of their category. The anomaly score is the
// z-score normalized against a 4σ ceiling, clipped to [0,1].
func (d *Detector) UnusualSpend(txns []storage.BankTransaction, categoryOf func(storage.BankTransaction) string) []Finding {
	byCategory := make(map[string][]storage.BankTransaction)
	for _, t := range txns {
		byCategory[categoryOf(t)] = append(byCategory[categoryOf(t)], t)
	}

	// Deterministic output order across map iteration.
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var findings []Finding
	for _, cat := range categories {
		group := byCategory[cat]
		if len(group) < 3 {
			continue // not enough data for a meaningful distribution
		}

		mean, stddev := meanStddev(group)
		if stddev == 0 {
			continue
		}

		for _, t := range group {
			if t.Reconciled {
				continue
			}
			amount, _ := t.Amount.Abs().Float64()
			z := (amount - mean) / stddev
			if z <= d.config.SpendSigmaThreshold {
				continue
			}

			score := clip(z / 4.0)
			findings = append(findings, Finding{
				Type:          storage.ExceptionUnusualSpend,
				Severity:      spendSeverity(score),
				Score:         score,
				TransactionID: t.ID,
				Description: fmt.Sprintf(
					"amount %.2f is %.1f standard deviations above the %q category mean of %.2f",
					amount, z, cat, mean),
				Remediation: []string{
					"Verify the transaction with the account owner",
					"Check for a matching invoice or contract covering the amount",
					"Confirm the category assignment is correct",
				},
			})
		}
	}
	return findings
}

// Duplicates flags groups of unreconciled transactions sharing the same
// (amount, date). One finding per group member beyond a count of one is
// unnecessary noise, so a single finding references the group's first
// transaction and describes the rest.
func (d *Detector) Duplicates(txns []storage.BankTransaction) []Finding {
	type key struct {
		amount string
		date   string
	}
	groups := make(map[key][]storage.BankTransaction)
	var order []key
	for _, t := range txns {
		if t.Reconciled {
			continue
		}
		k := key{amount: t.Amount.String(), date: t.Date.Format("2006-01-02")}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}

	var findings []Finding
	for _, k := range order {
		group := groups[k]
		if len(group) <= 1 {
			continue
		}

		severity := storage.SeverityMedium
		if len(group) >= 3 {
			severity = storage.SeverityHigh
		}

		ids := make([]string, len(group))
		for i, t := range group {
			ids[i] = t.ID
		}

		findings = append(findings, Finding{
			Type:          storage.ExceptionDuplicate,
			Severity:      severity,
			Score:         math.Min(1, float64(len(group))/3.0),
			TransactionID: group[0].ID,
			Description: fmt.Sprintf("%d transactions of %s on %s look like duplicates: %v",
				len(group), k.amount, k.date, ids),
			Remediation: []string{
				"Compare the transaction references with the bank statement",
				"Void or refund the duplicate charge if confirmed",
				"Reconcile the remaining transaction normally",
			},
		})
	}
	return findings
}

// MissingDocuments flags unreconciled transactions above the minimum
// amount with no linked document, older than the minimum age. Score and
// severity scale with age.
func (d *Detector) MissingDocuments(txns []storage.BankTransaction) []Finding {
	now := d.now()

	var findings []Finding
	for _, t := range txns {
		if t.Reconciled || t.MatchedDocumentID != "" {
			continue
		}
		if !t.Amount.Abs().GreaterThan(d.config.MissingDocMinAmount) {
			continue
		}
		ageDays := int(now.Sub(t.Date).Hours() / 24)
		if ageDays <= d.config.MissingDocMinAgeDays {
			continue
		}

		severity := storage.SeverityLow
		switch {
		case ageDays > 30:
			severity = storage.SeverityHigh
		case ageDays > 14:
			severity = storage.SeverityMedium
		}

		findings = append(findings, Finding{
			Type:          storage.ExceptionMissingDocument,
			Severity:      severity,
			Score:         math.Min(1, float64(ageDays)/30.0),
			TransactionID: t.ID,
			Description: fmt.Sprintf("no supporting document after %d days for %s %s",
				ageDays, t.Amount.StringFixed(2), t.Currency),
			Remediation: []string{
				"Request the receipt or invoice from the spender",
				"Check the document inbox for an unprocessed upload",
				"Attach the document and re-run reconciliation",
			},
		})
	}
	return findings
}

// WeekendPattern flags unreconciled weekend transactions above the
// amount floor. Fixed medium severity, score 0.6.
func (d *Detector) WeekendPattern(txns []storage.BankTransaction) []Finding {
	var findings []Finding
	for _, t := range txns {
		if t.Reconciled {
			continue
		}
		wd := t.Date.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			continue
		}
		if !t.Amount.Abs().GreaterThan(d.config.WeekendMinAmount) {
			continue
		}

		findings = append(findings, Finding{
			Type:          storage.ExceptionAnomaly,
			Severity:      storage.SeverityMedium,
			Score:         0.6,
			TransactionID: t.ID,
			Description: fmt.Sprintf("weekend transaction of %s %s on %s",
				t.Amount.StringFixed(2), t.Currency, t.Date.Format("2006-01-02")),
			Remediation: []string{
				"Confirm the purchase was authorized for out-of-hours spend",
				"Verify the merchant against the expense policy",
			},
		})
	}
	return findings
}

func meanStddev(txns []storage.BankTransaction) (float64, float64) {
	var sum float64
	for _, t := range txns {
		a, _ := t.Amount.Abs().Float64()
		sum += a
	}
	mean := sum / float64(len(txns))

	var variance float64
	for _, t := range txns {
		a, _ := t.Amount.Abs().Float64()
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(txns))

	return mean, math.Sqrt(variance)
}

func spendSeverity(score float64) string {
	switch {
	case score > 0.8:
		return storage.SeverityCritical
	case score > 0.6:
		return storage.SeverityHigh
	default:
		return storage.SeverityMedium
	}
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
