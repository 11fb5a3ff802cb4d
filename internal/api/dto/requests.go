package dto

import "github.com/ledgerline/recon-backend/internal/domain/split"

// ReplaceSplitsRequest is the body of PUT /transactions/{id}/splits.
type ReplaceSplitsRequest struct {
	Allocations []split.Allocation `json:"allocations"`
	Actor       string             `json:"actor"`
}

// SplitActionRequest is the body for submit/approve/reject/delete
// transitions on a split set.
type SplitActionRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes,omitempty"`
}

// RejectSuggestionRequest is the body of POST
// /transactions/{id}/reject-suggestion.
type RejectSuggestionRequest struct {
	Reason string `json:"reason"`
}

// ResolveExceptionRequest is the body of POST /exceptions/{id}/resolve.
type ResolveExceptionRequest struct {
	ResolvedBy string `json:"resolved_by"`
}
