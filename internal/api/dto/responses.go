package dto

import (
	"encoding/json"
	"time"

	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// NewHealthResponse returns a healthy response stamped with the
// current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
}

// TransactionView is the reconciliation view of one bank transaction:
// the row itself plus its suggestion, decision trail, splits and open
// exceptions.
type TransactionView struct {
	Transaction *storage.BankTransaction            `json:"transaction"`
	Suggestion  json.RawMessage                     `json:"suggestion,omitempty"`
	Events      []storage.MatchEvent                `json:"events,omitempty"`
	Splits      []storage.TransactionSplit          `json:"splits,omitempty"`
	Exceptions  []storage.ReconciliationException   `json:"exceptions,omitempty"`
}

// ListResponse wraps list results with a count, matching the shape the
// review frontend paginates on.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse builds a ListResponse from a slice.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}
