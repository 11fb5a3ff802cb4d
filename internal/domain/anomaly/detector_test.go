package anomaly

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

var (
	monday   = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
)

func txn(id string, amount float64, date time.Time) storage.BankTransaction {
	return storage.BankTransaction{
		ID:       id,
		TenantID: "tenant-1",
		Amount:   decimal.NewFromFloat(amount),
		Currency: "GBP",
		Date:     date,
	}
}

func sameCategory(storage.BankTransaction) string { return "office" }

func TestUnusualSpendFlagsThreeSigma(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Baseline population with mean ~100 and modest spread, plus one
	// clear outlier well beyond two sigma.
	txns := []storage.BankTransaction{
		txn("t1", 90, monday), txn("t2", 110, monday),
		txn("t3", 95, monday), txn("t4", 105, monday),
		txn("t5", 100, monday), txn("t6", 100, monday),
		txn("t7", 98, monday), txn("t8", 102, monday),
		txn("t9", 107, monday), txn("t10", 93, monday),
		txn("outlier", 130, monday),
	}

	findings := d.UnusualSpend(txns, sameCategory)
	require.Len(t, findings, 1)
	assert.Equal(t, "outlier", findings[0].TransactionID)
	assert.Equal(t, storage.ExceptionUnusualSpend, findings[0].Type)
	assert.Greater(t, findings[0].Score, 0.0)
	assert.LessOrEqual(t, findings[0].Score, 1.0)
	assert.NotEmpty(t, findings[0].Remediation)
}

func TestUnusualSpendIgnoresHalfSigma(t *testing.T) {
	d := NewDetector(DefaultConfig())

	txns := []storage.BankTransaction{
		txn("t1", 90, monday), txn("t2", 110, monday),
		txn("t3", 95, monday), txn("t4", 105, monday),
		txn("near-mean", 105, monday),
	}

	findings := d.UnusualSpend(txns, sameCategory)
	assert.Empty(t, findings)
}

func TestUnusualSpendSkipsReconciled(t *testing.T) {
	d := NewDetector(DefaultConfig())

	outlier := txn("outlier", 200, monday)
	outlier.Reconciled = true

	txns := []storage.BankTransaction{
		txn("t1", 90, monday), txn("t2", 110, monday),
		txn("t3", 95, monday), txn("t4", 105, monday),
		outlier,
	}

	assert.Empty(t, d.UnusualSpend(txns, sameCategory))
}

func TestDuplicatesExactScenario(t *testing.T) {
	// {A: £50 on 2024-01-05, B: £50 on 2024-01-05, C: £50 on 2024-01-06}:
	// exactly one finding for {A,B}, none involving C.
	d := NewDetector(DefaultConfig())

	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	jan6 := jan5.AddDate(0, 0, 1)

	findings := d.Duplicates([]storage.BankTransaction{
		txn("A", 50, jan5),
		txn("B", 50, jan5),
		txn("C", 50, jan6),
	})

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, storage.ExceptionDuplicate, f.Type)
	assert.Equal(t, "A", f.TransactionID)
	assert.Equal(t, storage.SeverityMedium, f.Severity)
	assert.NotContains(t, f.Description, "C")
	assert.InDelta(t, 2.0/3.0, f.Score, 0.001)
}

func TestDuplicatesTripleIsHighSeverity(t *testing.T) {
	d := NewDetector(DefaultConfig())
	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	findings := d.Duplicates([]storage.BankTransaction{
		txn("A", 25, jan5), txn("B", 25, jan5), txn("C", 25, jan5),
	})

	require.Len(t, findings, 1)
	assert.Equal(t, storage.SeverityHigh, findings[0].Severity)
	assert.Equal(t, 1.0, findings[0].Score)
}

func TestMissingDocumentsAgeScaling(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetectorAt(DefaultConfig(), func() time.Time { return now })

	tests := []struct {
		name         string
		ageDays      int
		amount       float64
		wantFlagged  bool
		wantSeverity string
	}{
		{"too young", 3, 100, false, ""},
		{"too small", 20, 5, false, ""},
		{"low severity", 10, 100, true, storage.SeverityLow},
		{"medium severity", 20, 100, true, storage.SeverityMedium},
		{"high severity", 40, 100, true, storage.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := txn("t", tt.amount, now.AddDate(0, 0, -tt.ageDays))
			findings := d.MissingDocuments([]storage.BankTransaction{in})
			if !tt.wantFlagged {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, storage.ExceptionMissingDocument, findings[0].Type)
			assert.Equal(t, tt.wantSeverity, findings[0].Severity)
		})
	}
}

func TestMissingDocumentsSkipsLinked(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewDetectorAt(DefaultConfig(), func() time.Time { return now })

	linked := txn("t", 100, now.AddDate(0, 0, -20))
	linked.MatchedDocumentID = "doc-1"

	assert.Empty(t, d.MissingDocuments([]storage.BankTransaction{linked}))
}

func TestWeekendPattern(t *testing.T) {
	d := NewDetector(DefaultConfig())

	findings := d.WeekendPattern([]storage.BankTransaction{
		txn("weekend-big", 250, saturday),
		txn("weekend-small", 40, saturday),
		txn("weekday-big", 250, monday),
	})

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "weekend-big", f.TransactionID)
	assert.Equal(t, storage.ExceptionAnomaly, f.Type)
	assert.Equal(t, storage.SeverityMedium, f.Severity)
	assert.Equal(t, 0.6, f.Score)
}

func TestDetectCombinesPasses(t *testing.T) {
	now := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // Monday
	d := NewDetectorAt(DefaultConfig(), func() time.Time { return now })

	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	findings := d.Detect([]storage.BankTransaction{
		txn("dup-1", 50, jan5),
		txn("dup-2", 50, jan5),
	}, sameCategory)

	types := make(map[string]int)
	for _, f := range findings {
		types[f.Type]++
	}
	assert.Equal(t, 1, types[storage.ExceptionDuplicate])
	assert.Equal(t, 2, types[storage.ExceptionMissingDocument]) // both aged and undocumented
}
