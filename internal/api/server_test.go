package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/recon-backend/internal/api"
	"github.com/ledgerline/recon-backend/internal/api/dto"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/application/splits"
	"github.com/ledgerline/recon-backend/internal/domain/split"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func newTestServer(t *testing.T) (*api.Server, *storage.Storage) {
	t.Helper()

	store, err := storage.NewStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Matching: config.MatchingConfig{
			AutoApplyScore:      0.95,
			AutoApplyConfidence: 0.90,
			MaxCandidates:       5,
		},
		Worker: config.WorkerConfig{
			LookbackDays:       90,
			PriorityAmount:     10000,
			UnmatchedAfterDays: 7,
		},
	}

	worker := recon.NewWorker(store, cfg, logger)
	splitSvc := splits.NewService(store, true, logger)
	excSvc := recon.NewExceptionService(store, logger)

	server := api.NewServer(api.DefaultConfig(), store, worker, splitSvc, excSvc, nil, logger)
	return server, store
}

func seedTransaction(t *testing.T, store *storage.Storage, tenantID, amount string) *storage.BankTransaction {
	t.Helper()
	txn := &storage.BankTransaction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Date:        time.Now().UTC().AddDate(0, 0, -3),
		Description: "ACME SUPPLIES INV-1042",
		ExternalID:  uuid.New().String(),
	}
	require.NoError(t, store.InsertBankTransaction(t.Context(), txn))
	return txn
}

func doJSON(t *testing.T, server *api.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
}

func TestServer_TransactionEndpoints(t *testing.T) {
	t.Run("GET /transactions lists unreconciled by default", func(t *testing.T) {
		server, store := newTestServer(t)
		seedTransaction(t, store, "tenant-a", "-42.00")
		done := seedTransaction(t, store, "tenant-a", "-10.00")
		done.MatchedLedgerEntryID = "le-x"
		require.NoError(t, store.MarkTransactionReconciled(t.Context(), done))

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/transactions", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Items []storage.BankTransaction `json:"items"`
			Count int                       `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, 1, response.Count)
	})

	t.Run("GET /transactions/:id returns the reconciliation view", func(t *testing.T) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-42.00")

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/transactions/"+txn.ID, nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var view dto.TransactionView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
		assert.Equal(t, txn.ID, view.Transaction.ID)
		assert.Empty(t, view.Exceptions)
	})

	t.Run("GET /transactions/:id returns 404 for missing transaction", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/transactions/missing", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GET /transactions/:id is tenant scoped", func(t *testing.T) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-42.00")

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-b/transactions/"+txn.ID, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GET /transactions/:id/matches previews candidates without applying", func(t *testing.T) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-42.00")
		entry := &storage.LedgerEntry{
			ID:          uuid.New().String(),
			TenantID:    "tenant-a",
			Amount:      decimal.RequireFromString("-42.00"),
			AccountCode: "6000",
			Date:        txn.Date,
			Description: txn.Description,
		}
		require.NoError(t, store.InsertLedgerEntry(t.Context(), entry))

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/transactions/"+txn.ID+"/matches", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, 1, response.Count)

		got, err := store.GetTransaction(t.Context(), "tenant-a", txn.ID)
		require.NoError(t, err)
		assert.False(t, got.Reconciled)
	})

	t.Run("POST /transactions/:id/reconcile applies a clean match", func(t *testing.T) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-42.00")
		entry := &storage.LedgerEntry{
			ID:          uuid.New().String(),
			TenantID:    "tenant-a",
			Amount:      decimal.RequireFromString("-42.00"),
			AccountCode: "6000",
			Date:        txn.Date,
			Description: txn.Description,
		}
		require.NoError(t, store.InsertLedgerEntry(t.Context(), entry))

		rec := doJSON(t, server, http.MethodPost, "/api/tenants/tenant-a/transactions/"+txn.ID+"/reconcile", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var result recon.TransactionResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, recon.OutcomeApplied, result.Outcome)

		got, err := store.GetTransaction(t.Context(), "tenant-a", txn.ID)
		require.NoError(t, err)
		assert.True(t, got.Reconciled)
	})

	t.Run("POST /transactions/:id/reject-suggestion requires a reason", func(t *testing.T) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-42.00")

		rec := doJSON(t, server, http.MethodPost,
			"/api/tenants/tenant-a/transactions/"+txn.ID+"/reject-suggestion",
			dto.RejectSuggestionRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_SplitEndpoints(t *testing.T) {
	newSplitFixture := func(t *testing.T) (*api.Server, *storage.Storage, *storage.BankTransaction, *storage.Document) {
		server, store := newTestServer(t)
		txn := seedTransaction(t, store, "tenant-a", "-100.00")
		doc := &storage.Document{
			ID:       uuid.New().String(),
			TenantID: "tenant-a",
			Total:    decimal.RequireFromString("100.00"),
			Date:     txn.Date,
			Vendor:   "ACME",
			Status:   storage.DocumentStatusClassified,
		}
		require.NoError(t, store.InsertDocument(t.Context(), doc))
		return server, store, txn, doc
	}

	t.Run("PUT then submit walks the approval workflow", func(t *testing.T) {
		server, _, txn, doc := newSplitFixture(t)
		base := "/api/tenants/tenant-a/transactions/" + txn.ID + "/splits"

		rec := doJSON(t, server, http.MethodPut, base, dto.ReplaceSplitsRequest{
			Allocations: []split.Allocation{
				{Amount: decimal.RequireFromString("100.00"), Currency: "USD", DocumentID: doc.ID},
			},
			Actor: "alice",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, server, http.MethodPost, base+"/submit", dto.SplitActionRequest{Actor: "alice"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, server, http.MethodPost, base+"/approve", dto.SplitActionRequest{Actor: "bob"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, server, http.MethodGet, base+"/audit", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var trail struct {
			Items []storage.SplitAuditEntry `json:"items"`
			Count int                       `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&trail))
		assert.Equal(t, 3, trail.Count)
	})

	t.Run("PUT with unbalanced allocations returns 400", func(t *testing.T) {
		server, _, txn, doc := newSplitFixture(t)

		rec := doJSON(t, server, http.MethodPut,
			"/api/tenants/tenant-a/transactions/"+txn.ID+"/splits",
			dto.ReplaceSplitsRequest{
				Allocations: []split.Allocation{
					{Amount: decimal.RequireFromString("60.00"), Currency: "USD", DocumentID: doc.ID},
				},
				Actor: "alice",
			})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("approve without a pending review returns 409", func(t *testing.T) {
		server, _, txn, _ := newSplitFixture(t)

		rec := doJSON(t, server, http.MethodPost,
			"/api/tenants/tenant-a/transactions/"+txn.ID+"/splits/approve",
			dto.SplitActionRequest{Actor: "bob"})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_ExceptionEndpoints(t *testing.T) {
	seedException := func(t *testing.T, store *storage.Storage, tenantID string) *storage.ReconciliationException {
		exc := &storage.ReconciliationException{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Type:        storage.ExceptionUnmatched,
			Severity:    storage.SeverityMedium,
			Status:      storage.ExceptionStatusOpen,
			Description: "unmatched for 12 days",
			Score:       0.4,
		}
		require.NoError(t, store.InsertException(t.Context(), exc))
		return exc
	}

	t.Run("GET /exceptions defaults to open", func(t *testing.T) {
		server, store := newTestServer(t)
		exc := seedException(t, store, "tenant-a")
		require.NoError(t, store.ResolveException(t.Context(), "tenant-a", seedException(t, store, "tenant-a").ID, "carol"))

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/exceptions", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Items []storage.ReconciliationException `json:"items"`
			Count int                               `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		require.Equal(t, 1, response.Count)
		assert.Equal(t, exc.ID, response.Items[0].ID)
	})

	t.Run("POST /exceptions/:id/resolve closes it once", func(t *testing.T) {
		server, store := newTestServer(t)
		exc := seedException(t, store, "tenant-a")
		path := "/api/tenants/tenant-a/exceptions/" + exc.ID + "/resolve"

		rec := doJSON(t, server, http.MethodPost, path, dto.ResolveExceptionRequest{ResolvedBy: "carol"})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, server, http.MethodPost, path, dto.ResolveExceptionRequest{ResolvedBy: "carol"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("resolve without resolved_by returns 400", func(t *testing.T) {
		server, store := newTestServer(t)
		exc := seedException(t, store, "tenant-a")

		rec := doJSON(t, server, http.MethodPost,
			"/api/tenants/tenant-a/exceptions/"+exc.ID+"/resolve",
			dto.ResolveExceptionRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_AdminEndpoints(t *testing.T) {
	t.Run("POST /reconcile runs a batch", func(t *testing.T) {
		server, store := newTestServer(t)
		seedTransaction(t, store, "tenant-a", "-42.00")

		rec := doJSON(t, server, http.MethodPost, "/api/tenants/tenant-a/reconcile", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var result recon.BatchResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, 1, result.Processed)
	})

	t.Run("GET /dead-letters returns an empty list", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodGet, "/api/tenants/tenant-a/dead-letters", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, 0, response.Count)
	})
}

func TestServer_CORS(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("sets CORS headers for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/tenants/tenant-a/transactions", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
