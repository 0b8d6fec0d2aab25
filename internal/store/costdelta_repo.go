package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// CostDeltaRepo handles persistence for CostDelta records.
type CostDeltaRepo struct{}

// Create inserts a new cost delta record for an execution.
func (r *CostDeltaRepo) Create(ctx context.Context, db *sql.DB, executionID string, delta domain.CostDelta) error {
	const q = `INSERT INTO cost_deltas (execution_id, input_tokens, output_tokens, amount_usd, model, phase, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		executionID,
		delta.InputTokens,
		delta.OutputTokens,
		delta.AmountUSD,
		delta.Model,
		string(delta.Phase),
		delta.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cost delta: %w", err)
	}
	return nil
}

// ListByExecution returns all cost deltas for an execution, ordered by
// creation time.
func (r *CostDeltaRepo) ListByExecution(ctx context.Context, db *sql.DB, executionID string) ([]domain.CostDelta, error) {
	const q = `SELECT input_tokens, output_tokens, amount_usd, model, phase, created_at
FROM cost_deltas
WHERE execution_id = ?
ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("list cost deltas: %w", err)
	}
	defer rows.Close()

	var deltas []domain.CostDelta
	for rows.Next() {
		var d domain.CostDelta
		var phase string
		if err := rows.Scan(&d.InputTokens, &d.OutputTokens, &d.AmountUSD, &d.Model, &phase, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost delta: %w", err)
		}
		d.Phase = domain.Phase(phase)
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}

// TotalByExecution sums token and dollar usage across all deltas of an
// execution.
func (r *CostDeltaRepo) TotalByExecution(ctx context.Context, db *sql.DB, executionID string) (domain.ExecutionMetrics, error) {
	const q = `SELECT COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(amount_usd), 0.0)
FROM cost_deltas WHERE execution_id = ?`

	var m domain.ExecutionMetrics
	if err := db.QueryRowContext(ctx, q, executionID).Scan(&m.TokensUsed, &m.CostUSD); err != nil {
		return domain.ExecutionMetrics{}, fmt.Errorf("total cost deltas: %w", err)
	}
	return m, nil
}
