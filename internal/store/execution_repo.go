package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// ExecutionRow is an execution as stored: the immutable request plus the
// latest status snapshot.
type ExecutionRow struct {
	Request   domain.ExecutionRequest
	Status    domain.ExecutionStatus
	CreatedAt int64
}

// ExecutionRepo handles persistence for execution records.
type ExecutionRepo struct{}

// Create inserts a new execution in its initial queued state.
func (r *ExecutionRepo) Create(ctx context.Context, db *sql.DB, executionID string, req domain.ExecutionRequest, createdAt int64) error {
	const q = `INSERT INTO executions
(execution_id, template_id, description, team_config, user_id, custom_requirements, budget_usd, phase, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		executionID,
		req.TemplateID,
		req.Description,
		req.TeamConfig,
		req.UserID,
		req.CustomRequirements,
		req.BudgetUSD,
		string(domain.PhaseQueued),
		createdAt,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// UpdateStatus overwrites the mutable status fields of an execution.
func (r *ExecutionRepo) UpdateStatus(ctx context.Context, db *sql.DB, status domain.ExecutionStatus) error {
	artifacts, err := json.Marshal(status.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	const q = `UPDATE executions
SET phase = ?, progress = ?, tokens_used = ?, cost_usd = ?, duration_sec = ?, artifacts_json = ?, error = ?, updated_at_unix = ?
WHERE execution_id = ?`
	res, err := db.ExecContext(ctx, q,
		string(status.Phase),
		status.Progress,
		status.Metrics.TokensUsed,
		status.Metrics.CostUSD,
		status.Metrics.DurationSec,
		string(artifacts),
		status.Error,
		status.UpdatedAt,
		status.ExecutionID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// Get returns one execution by id.
func (r *ExecutionRepo) Get(ctx context.Context, db *sql.DB, executionID string) (ExecutionRow, error) {
	const q = `SELECT execution_id, template_id, description, team_config, user_id, custom_requirements, budget_usd,
phase, progress, tokens_used, cost_usd, duration_sec, artifacts_json, error, created_at_unix, updated_at_unix
FROM executions WHERE execution_id = ?`

	var row ExecutionRow
	var phase, artifactsJSON string
	err := db.QueryRowContext(ctx, q, executionID).Scan(
		&row.Status.ExecutionID,
		&row.Request.TemplateID,
		&row.Request.Description,
		&row.Request.TeamConfig,
		&row.Request.UserID,
		&row.Request.CustomRequirements,
		&row.Request.BudgetUSD,
		&phase,
		&row.Status.Progress,
		&row.Status.Metrics.TokensUsed,
		&row.Status.Metrics.CostUSD,
		&row.Status.Metrics.DurationSec,
		&artifactsJSON,
		&row.Status.Error,
		&row.CreatedAt,
		&row.Status.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return ExecutionRow{}, domain.ErrExecutionNotFound
	}
	if err != nil {
		return ExecutionRow{}, fmt.Errorf("get execution: %w", err)
	}
	row.Status.Phase = domain.Phase(phase)
	row.Status.TemplateID = row.Request.TemplateID
	if err := json.Unmarshal([]byte(artifactsJSON), &row.Status.Artifacts); err != nil {
		return ExecutionRow{}, fmt.Errorf("decode artifacts: %w", err)
	}
	return row, nil
}

// List returns all executions ordered by creation time descending.
func (r *ExecutionRepo) List(ctx context.Context, db *sql.DB) ([]ExecutionRow, error) {
	const q = `SELECT execution_id FROM executions ORDER BY created_at_unix DESC`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ExecutionRow, 0, len(ids))
	for _, id := range ids {
		row, err := r.Get(ctx, db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
