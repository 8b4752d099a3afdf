package store

import (
	"context"
	"fmt"

	"database/sql"

	"github.com/seantiz/servicing/internal/model"

	_ "modernc.org/sqlite"
)

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
    id          TEXT PRIMARY KEY,
    service     TEXT NOT NULL,
    op          TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    error       TEXT,
    duration_ms INTEGER NOT NULL,
    created_at  DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createOperationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create operations table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordOperation inserts one audit row.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op *model.Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, service, op, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Service, op.Op, op.Outcome, op.Error, op.DurationMS, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// ListOperations returns a paginated list of operations ordered by
// created_at DESC, along with the total row count.
func (s *SQLiteStore) ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, service, op, outcome, error, duration_ms, created_at
		 FROM operations ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op := &model.Operation{}
		var errText sql.NullString
		if err := rows.Scan(&op.ID, &op.Service, &op.Op, &op.Outcome, &errText, &op.DurationMS, &op.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan operation: %w", err)
		}
		op.Error = errText.String
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, total, nil
}

// GetOperationStats returns aggregate counts grouped by outcome and by op.
func (s *SQLiteStore) GetOperationStats(ctx context.Context) (*OperationStats, error) {
	stats := &OperationStats{
		CountByOutcome: make(map[string]int),
		CountByOp:      make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count operations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM operations GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("count by outcome: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		stats.CountByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}

	opRows, err := s.db.QueryContext(ctx, "SELECT op, COUNT(*) FROM operations GROUP BY op")
	if err != nil {
		return nil, fmt.Errorf("count by op: %w", err)
	}
	defer opRows.Close()
	for opRows.Next() {
		var op string
		var count int
		if err := opRows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("scan op count: %w", err)
		}
		stats.CountByOp[op] = count
	}
	if err := opRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate op counts: %w", err)
	}

	return stats, nil
}
