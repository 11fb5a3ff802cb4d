package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/recon-backend/internal/api/dto"
	"github.com/ledgerline/recon-backend/internal/application/jobs"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// TransactionsHandler serves the reconciliation view of bank
// transactions and the reconcile/reject actions on them.
type TransactionsHandler struct {
	*Base
	worker *recon.Worker
	queue  jobs.Queue
}

// NewTransactionsHandler creates a transactions handler. queue may be
// nil; async reconcile requests then fall back to synchronous runs.
func NewTransactionsHandler(repo storage.Repository, worker *recon.Worker, queue jobs.Queue, logger *slog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		Base:   NewBase(repo, logger),
		worker: worker,
		queue:  queue,
	}
}

// List handles GET /tenants/{tenantID}/transactions.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	daysBack := ParseIntParam(r, "days_back", 90)
	unreconciledOnly := ParseBoolParam(r, "unreconciled", true)

	since := time.Now().AddDate(0, 0, -daysBack)

	var (
		txns []storage.BankTransaction
		err  error
	)
	if unreconciledOnly {
		txns, err = h.repo.ListUnreconciled(r.Context(), tenantID, since)
	} else {
		txns, err = h.repo.ListTransactionsInWindow(r.Context(), tenantID, since, time.Now())
	}
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(txns))
}

// Get handles GET /tenants/{tenantID}/transactions/{id} and returns
// the full reconciliation view.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	txn, err := h.repo.GetTransaction(ctx, tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}

	events, err := h.repo.ListMatchEvents(ctx, tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	splits, err := h.repo.ListSplits(ctx, tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	exceptions, err := h.repo.ListExceptionsForTransaction(ctx, tenantID, id, storage.ExceptionStatusOpen)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}

	view := dto.TransactionView{
		Transaction: txn,
		Events:      events,
		Splits:      splits,
		Exceptions:  exceptions,
	}
	if txn.SuggestedMatchJSON != "" {
		view.Suggestion = json.RawMessage(txn.SuggestedMatchJSON)
	}

	h.WriteJSON(w, http.StatusOK, view)
}

// Matches handles GET /tenants/{tenantID}/transactions/{id}/matches.
// It returns the ranked candidate list without applying anything.
func (h *TransactionsHandler) Matches(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	matches, err := h.worker.PreviewMatches(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(matches))
}

// Reconcile handles POST /tenants/{tenantID}/transactions/{id}/reconcile.
// With ?async=true and a queue configured, the work is enqueued and the
// response is 202.
func (h *TransactionsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	if ParseBoolParam(r, "async", false) && h.queue != nil {
		if err := h.queue.Enqueue(r.Context(), jobs.Job{TenantID: tenantID, TransactionID: id}); err != nil {
			h.WriteDomainError(w, err)
			return
		}
		h.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := h.worker.ReconcileTransaction(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// RejectSuggestion handles POST
// /tenants/{tenantID}/transactions/{id}/reject-suggestion.
func (h *TransactionsHandler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	var req dto.RejectSuggestionRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("reason is required"))
		return
	}

	if err := h.worker.RejectSuggestion(r.Context(), tenantID, id, req.Reason); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// Events handles GET /tenants/{tenantID}/transactions/{id}/events.
func (h *TransactionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	events, err := h.repo.ListMatchEvents(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(events))
}
