package matching

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType classifies how strong a candidate pairing is. It is a
// closed enum: code that branches on it must handle every value so a
// new category cannot slip through a string comparison unnoticed.
type MatchType int

const (
	// MatchExact is a tight-tolerance, high-score pairing.
	MatchExact MatchType = iota + 1
	// MatchFuzzy is a plausible pairing that needs human confirmation.
	MatchFuzzy
	// MatchSuggested is a weak pairing surfaced for review only.
	MatchSuggested
)

// String returns the wire/storage representation of the match type.
func (t MatchType) String() string {
	switch t {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	case MatchSuggested:
		return "suggested"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// MarshalJSON encodes the match type as its string form.
func (t MatchType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes the string form back into the enum so stored
// match payloads round-trip. Unknown values fail loudly.
func (t *MatchType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "exact":
		*t = MatchExact
	case "fuzzy":
		*t = MatchFuzzy
	case "suggested":
		*t = MatchSuggested
	default:
		return fmt.Errorf("unknown match type %q", s)
	}
	return nil
}

// CandidateKind identifies what entity a candidate refers to.
type CandidateKind int

const (
	CandidateLedgerEntry CandidateKind = iota + 1
	CandidateDocument
)

// String returns the storage representation of the candidate kind.
func (k CandidateKind) String() string {
	switch k {
	case CandidateLedgerEntry:
		return "ledger_entry"
	case CandidateDocument:
		return "document"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Signals is the versioned, structured payload of the component scores
// behind a matching decision. It is serialized into the audit trail, so
// the schema is explicit rather than an untyped map: Version lets the
// trail stay interpretable after algorithm changes.
type Signals struct {
	Version          int     `json:"_version"`
	Window           string  `json:"window"` // "exact" or "fuzzy"
	AmountScore      float64 `json:"amount_score"`
	DateScore        float64 `json:"date_score"`
	DescriptionScore float64 `json:"description_score"`
	AmountDiff       string  `json:"amount_diff"`
	DateDiffDays     float64 `json:"date_diff_days"`
}

// SignalsVersion is the current Signals schema version.
const SignalsVersion = 1

// Differences carries the field-level deltas between a transaction and
// a candidate, for audit display.
type Differences struct {
	Amount          decimal.Decimal `json:"amount"`
	DateDays        float64         `json:"date_days"`
	CandidateAmount decimal.Decimal `json:"candidate_amount"`
	CandidateDate   time.Time       `json:"candidate_date"`
}

// Match is one ranked candidate pairing for a bank transaction.
// Exactly one of LedgerEntryID / DocumentID is set.
type Match struct {
	Kind          CandidateKind `json:"-"`
	LedgerEntryID string        `json:"ledger_entry_id,omitempty"`
	DocumentID    string        `json:"document_id,omitempty"`
	Type          MatchType     `json:"type"`
	Score         float64       `json:"score"`
	Confidence    float64       `json:"confidence"`
	Differences   Differences   `json:"differences"`
	Signals       Signals       `json:"signals"`
}

// CandidateID returns the id of whichever entity the match refers to.
func (m Match) CandidateID() string {
	switch m.Kind {
	case CandidateLedgerEntry:
		return m.LedgerEntryID
	case CandidateDocument:
		return m.DocumentID
	default:
		return ""
	}
}
