package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/recon-backend/internal/api/dto"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// ExceptionsHandler serves the exception review queue.
type ExceptionsHandler struct {
	*Base
	svc *recon.ExceptionService
}

// NewExceptionsHandler creates an exceptions handler.
func NewExceptionsHandler(repo storage.Repository, svc *recon.ExceptionService, logger *slog.Logger) *ExceptionsHandler {
	return &ExceptionsHandler{Base: NewBase(repo, logger), svc: svc}
}

// List handles GET /tenants/{tenantID}/exceptions. The status query
// parameter defaults to open; pass status=all for everything.
func (h *ExceptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	status := r.URL.Query().Get("status")
	switch status {
	case "":
		status = storage.ExceptionStatusOpen
	case "all":
		status = ""
	}

	excs, err := h.svc.List(r.Context(), tenantID, status)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(excs))
}

// Get handles GET /tenants/{tenantID}/exceptions/{id}.
func (h *ExceptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	exc, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, exc)
}

// Resolve handles POST /tenants/{tenantID}/exceptions/{id}/resolve.
func (h *ExceptionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	id := chi.URLParam(r, "id")

	var req dto.ResolveExceptionRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("resolved_by is required"))
		return
	}

	if err := h.svc.Resolve(r.Context(), tenantID, id, req.ResolvedBy); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": storage.ExceptionStatusResolved})
}
