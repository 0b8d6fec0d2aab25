package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// CheckpointRepo handles persistence for Checkpoint records.
type CheckpointRepo struct{}

// Upsert inserts a checkpoint or overwrites its mutable fields if it
// already exists.
func (r *CheckpointRepo) Upsert(ctx context.Context, db *sql.DB, cp domain.Checkpoint) error {
	artifacts, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	const q = `INSERT INTO checkpoints (checkpoint_id, execution_id, type, status, artifacts_json, reviewer, reason, due_at_unix, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(checkpoint_id) DO UPDATE SET
	status = excluded.status,
	reviewer = excluded.reviewer,
	reason = excluded.reason`
	_, err = db.ExecContext(ctx, q,
		cp.ID,
		cp.ExecutionID,
		string(cp.Type),
		string(cp.Status),
		string(artifacts),
		cp.Reviewer,
		cp.Reason,
		cp.DueAt,
		cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Get returns one checkpoint by id.
func (r *CheckpointRepo) Get(ctx context.Context, db *sql.DB, checkpointID string) (domain.Checkpoint, error) {
	const q = `SELECT checkpoint_id, execution_id, type, status, artifacts_json, reviewer, reason, due_at_unix, created_at_unix
FROM checkpoints WHERE checkpoint_id = ?`

	var cp domain.Checkpoint
	var kind, status, artifactsJSON string
	err := db.QueryRowContext(ctx, q, checkpointID).Scan(
		&cp.ID, &cp.ExecutionID, &kind, &status, &artifactsJSON, &cp.Reviewer, &cp.Reason, &cp.DueAt, &cp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Checkpoint{}, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.Type = domain.CheckpointType(kind)
	cp.Status = domain.CheckpointStatus(status)
	if err := json.Unmarshal([]byte(artifactsJSON), &cp.Artifacts); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode artifacts: %w", err)
	}
	return cp, nil
}

// ListByExecution returns all checkpoints for an execution, oldest first.
func (r *CheckpointRepo) ListByExecution(ctx context.Context, db *sql.DB, executionID string) ([]domain.Checkpoint, error) {
	const q = `SELECT checkpoint_id FROM checkpoints WHERE execution_id = ? ORDER BY created_at_unix ASC`
	rows, err := db.QueryContext(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := r.Get(ctx, db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
