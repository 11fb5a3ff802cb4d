package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/recon-backend/internal/api/dto"
	appsplits "github.com/ledgerline/recon-backend/internal/application/splits"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// SplitsHandler exposes the split workflow.
type SplitsHandler struct {
	*Base
	svc *appsplits.Service
}

// NewSplitsHandler creates a splits handler.
func NewSplitsHandler(repo storage.Repository, svc *appsplits.Service, logger *slog.Logger) *SplitsHandler {
	return &SplitsHandler{Base: NewBase(repo, logger), svc: svc}
}

// List handles GET /tenants/{tenantID}/transactions/{id}/splits.
func (h *SplitsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	rows, err := h.svc.List(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(rows))
}

// Replace handles PUT /tenants/{tenantID}/transactions/{id}/splits.
func (h *SplitsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	var req dto.ReplaceSplitsRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	rows, err := h.svc.Replace(r.Context(), tenantID, id, req.Allocations, req.Actor)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(rows))
}

// Submit handles POST /tenants/{tenantID}/transactions/{id}/splits/submit.
func (h *SplitsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Submit)
}

// Approve handles POST /tenants/{tenantID}/transactions/{id}/splits/approve.
func (h *SplitsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Approve)
}

// Reject handles POST /tenants/{tenantID}/transactions/{id}/splits/reject.
func (h *SplitsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	var req dto.SplitActionRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.Reject(r.Context(), tenantID, id, req.Actor, req.Notes); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": storage.TxnSplitStatusDraft})
}

// Delete handles DELETE /tenants/{tenantID}/transactions/{id}/splits.
func (h *SplitsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")
	actor := r.URL.Query().Get("actor")

	if err := h.svc.Delete(r.Context(), tenantID, id, actor); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audit handles GET /tenants/{tenantID}/transactions/{id}/splits/audit.
func (h *SplitsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	trail, err := h.svc.AuditTrail(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(trail))
}

// transition runs a submit/approve style state change that only needs
// an actor.
func (h *SplitsHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenantID, transactionID, actor string) error) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	var req dto.SplitActionRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	if err := fn(r.Context(), tenantID, id, req.Actor); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
