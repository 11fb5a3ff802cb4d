// Package matching ranks candidate ledger entries and documents for an
// unreconciled bank transaction.
//
// The engine is a pure read/compute step: it never persists anything,
// returns the same ranked list for identical inputs, and returns an
// empty result rather than an error when there is nothing to match.
// Persistence of the outcome is the caller's (the worker's)
// responsibility.
package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-backend/internal/domain/similarity"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Engine scores and ranks match candidates.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given config.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// candidate is the engine's internal view of either a ledger entry or a
// document.
type candidate struct {
	kind        CandidateKind
	id          string
	amount      decimal.Decimal
	date        time.Time
	description string
}

// FindMatches returns a ranked list of candidate matches for txn,
// considering the supplied ledger entries and documents. Candidates
// already linked to a match (reconciled entries, posted documents, and
// entries belonging to another tenant) are never returned. An already
// reconciled transaction yields no candidates.
func (e *Engine) FindMatches(txn *storage.BankTransaction, entries []storage.LedgerEntry, docs []storage.Document) []Match {
	if txn == nil || txn.Reconciled {
		return nil
	}

	candidates := e.eligibleCandidates(txn, entries, docs)
	if len(candidates) == 0 {
		return nil
	}

	matches, bestExact := e.exactWindow(txn, candidates)

	// Widen to the fuzzy window only when nothing in the exact window
	// was convincing.
	if bestExact < e.config.FallbackTrigger {
		seen := make(map[string]bool, len(matches))
		for _, m := range matches {
			seen[m.CandidateID()] = true
		}
		matches = append(matches, e.fuzzyWindow(txn, candidates, seen)...)
	}

	// Descending by score; the stable sort preserves discovery order
	// (exact window before fuzzy window) on ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > e.config.MaxResults {
		matches = matches[:e.config.MaxResults]
	}
	return matches
}

// eligibleCandidates filters out anything that cannot legally match:
// wrong tenant, already reconciled entries, documents that are not in
// the classified state.
func (e *Engine) eligibleCandidates(txn *storage.BankTransaction, entries []storage.LedgerEntry, docs []storage.Document) []candidate {
	out := make([]candidate, 0, len(entries)+len(docs))
	for _, le := range entries {
		if le.TenantID != txn.TenantID || le.Reconciled {
			continue
		}
		out = append(out, candidate{
			kind:        CandidateLedgerEntry,
			id:          le.ID,
			amount:      le.Amount,
			date:        le.Date,
			description: le.Description,
		})
	}
	for _, d := range docs {
		if d.TenantID != txn.TenantID || d.Status != storage.DocumentStatusClassified {
			continue
		}
		out = append(out, candidate{
			kind:        CandidateDocument,
			id:          d.ID,
			amount:      d.Total,
			date:        d.Date,
			description: d.Vendor,
		})
	}
	return out
}

// exactWindow scores candidates within the tight date/amount window and
// returns them along with the best score seen (to decide whether the
// fuzzy fallback runs).
func (e *Engine) exactWindow(txn *storage.BankTransaction, candidates []candidate) ([]Match, float64) {
	var matches []Match
	best := 0.0

	txnAbs := txn.Amount.Abs()
	for _, c := range candidates {
		dateDiff := similarity.DayDiff(txn.Date, c.date)
		if dateDiff > float64(e.config.ExactWindowDays) {
			continue
		}
		amountDiff := txnAbs.Sub(c.amount.Abs()).Abs()
		if amountDiff.GreaterThan(e.config.ExactAmountTolerance) {
			continue
		}

		descScore := similarity.Description(txn.Description, c.description)
		dateScore := similarity.Date(txn.Date, c.date, e.config.ExactWindowDays)

		// Baseline 0.7*amountTerm + 0.3*description, penalized by date
		// distance and relative amount distance. Inside the exact window
		// the amount term is saturated.
		relDiff := 0.0
		if !txnAbs.IsZero() {
			relDiff, _ = amountDiff.Div(txnAbs).Float64()
		}
		score := similarity.Clamp(0.7 + 0.3*descScore - 0.05*dateDiff - 0.1*relDiff)

		m := Match{
			Kind:        c.kind,
			Type:        e.classify(score, dateDiff, amountDiff),
			Score:       score,
			Confidence:  similarity.Clamp(0.45 + 0.25*dateScore + 0.30*descScore),
			Differences: differences(c, amountDiff, dateDiff),
			Signals: Signals{
				Version:          SignalsVersion,
				Window:           "exact",
				AmountScore:      1.0,
				DateScore:        dateScore,
				DescriptionScore: descScore,
				AmountDiff:       amountDiff.String(),
				DateDiffDays:     dateDiff,
			},
		}
		setCandidateRef(&m, c)
		matches = append(matches, m)
		if score > best {
			best = score
		}
	}
	return matches, best
}

// fuzzyWindow rescans a wider date window with a relative amount
// tolerance and a blended score; only candidates above the fuzzy floor
// are kept.
func (e *Engine) fuzzyWindow(txn *storage.BankTransaction, candidates []candidate, seen map[string]bool) []Match {
	var matches []Match

	txnAbs := txn.Amount.Abs()
	tol := e.config.fuzzyTolerance(txn.Amount)

	for _, c := range candidates {
		if seen[c.id] {
			continue
		}
		dateDiff := similarity.DayDiff(txn.Date, c.date)
		if dateDiff > float64(e.config.FuzzyWindowDays) {
			continue
		}
		amountDiff := txnAbs.Sub(c.amount.Abs()).Abs()
		if amountDiff.GreaterThan(tol) {
			continue
		}

		amountScore := similarity.Amount(amountDiff, tol)
		descScore := similarity.Description(txn.Description, c.description)
		dateScore := similarity.Date(txn.Date, c.date, e.config.FuzzyWindowDays)

		score := similarity.Clamp(0.4*amountScore + 0.4*descScore + 0.2*dateScore)
		if score < e.config.FuzzyMinScore {
			continue
		}

		m := Match{
			Kind:        c.kind,
			Type:        e.classify(score, dateDiff, amountDiff),
			Score:       score,
			Confidence:  similarity.Clamp(0.45*amountScore + 0.25*dateScore + 0.30*descScore),
			Differences: differences(c, amountDiff, dateDiff),
			Signals: Signals{
				Version:          SignalsVersion,
				Window:           "fuzzy",
				AmountScore:      amountScore,
				DateScore:        dateScore,
				DescriptionScore: descScore,
				AmountDiff:       amountDiff.String(),
				DateDiffDays:     dateDiff,
			},
		}
		setCandidateRef(&m, c)
		matches = append(matches, m)
	}
	return matches
}

// classify maps a score plus the tight tolerances onto the closed
// match-type enum.
func (e *Engine) classify(score, dateDiff float64, amountDiff decimal.Decimal) MatchType {
	switch {
	case score >= e.config.ExactMinScore &&
		dateDiff <= e.config.ExactMaxDateDays &&
		!amountDiff.GreaterThan(e.config.ExactAmountTolerance):
		return MatchExact
	case score >= e.config.FuzzyTypeMinScore:
		return MatchFuzzy
	default:
		return MatchSuggested
	}
}

func differences(c candidate, amountDiff decimal.Decimal, dateDiff float64) Differences {
	return Differences{
		Amount:          amountDiff,
		DateDays:        dateDiff,
		CandidateAmount: c.amount,
		CandidateDate:   c.date,
	}
}

func setCandidateRef(m *Match, c candidate) {
	switch c.kind {
	case CandidateLedgerEntry:
		m.LedgerEntryID = c.id
	case CandidateDocument:
		m.DocumentID = c.id
	}
}
