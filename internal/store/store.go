// Package store persists the operation audit trail: one row per
// caller-facing lifecycle action, recorded best-effort by the dispatcher.
package store

import (
	"context"

	"github.com/seantiz/servicing/internal/model"
)

// OperationStats holds aggregate counts over the audit trail.
type OperationStats struct {
	Total          int            `json:"total"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
	CountByOp      map[string]int `json:"count_by_op"`
}

// Store defines the persistence operations for the audit trail.
type Store interface {
	RecordOperation(ctx context.Context, op *model.Operation) error
	ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error)
	GetOperationStats(ctx context.Context) (*OperationStats, error)
	Close() error
}
