package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/recon-backend/internal/api/dto"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// AdminHandler exposes batch triggers and dead-letter inspection.
type AdminHandler struct {
	*Base
	worker *recon.Worker
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(repo storage.Repository, worker *recon.Worker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{Base: NewBase(repo, logger), worker: worker}
}

// ReconcileBatch handles POST /tenants/{tenantID}/reconcile.
func (h *AdminHandler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	result, err := h.worker.ReconcileBatch(r.Context(), tenantID)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// AnomalyScan handles POST /tenants/{tenantID}/anomalies/run.
func (h *AdminHandler) AnomalyScan(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	raised, err := h.worker.RunAnomalyScan(r.Context(), tenantID)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]int{"raised": raised})
}

// DeadLetters handles GET /tenants/{tenantID}/dead-letters.
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	jobs, err := h.repo.ListDeadLetterJobs(r.Context(), tenantID)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(jobs))
}
