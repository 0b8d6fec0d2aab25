package store

import (
	"context"
	"database/sql"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// Store bundles the database handle with the repos so callers hold one
// dependency instead of five.
type Store struct {
	DB          *sql.DB
	Executions  ExecutionRepo
	Events      EventRepo
	Checkpoints CheckpointRepo
	CostDeltas  CostDeltaRepo
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Open opens the database at path and wraps it.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) CreateExecution(ctx context.Context, executionID string, req domain.ExecutionRequest, createdAt int64) error {
	return s.Executions.Create(ctx, s.DB, executionID, req, createdAt)
}

func (s *Store) UpdateExecution(ctx context.Context, status domain.ExecutionStatus) error {
	return s.Executions.UpdateStatus(ctx, s.DB, status)
}

func (s *Store) GetExecution(ctx context.Context, executionID string) (ExecutionRow, error) {
	return s.Executions.Get(ctx, s.DB, executionID)
}

func (s *Store) AppendEvent(ctx context.Context, event domain.StreamEvent) error {
	return s.Events.Append(ctx, s.DB, event)
}

func (s *Store) ListEvents(ctx context.Context, executionID string, sinceSeq int64) ([]domain.StreamEvent, error) {
	return s.Events.ListByExecution(ctx, s.DB, executionID, sinceSeq)
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	return s.Checkpoints.Upsert(ctx, s.DB, cp)
}

func (s *Store) GetCheckpoint(ctx context.Context, checkpointID string) (domain.Checkpoint, error) {
	return s.Checkpoints.Get(ctx, s.DB, checkpointID)
}

func (s *Store) RecordCostDelta(ctx context.Context, executionID string, delta domain.CostDelta) error {
	return s.CostDeltas.Create(ctx, s.DB, executionID, delta)
}

func (s *Store) ListCostDeltas(ctx context.Context, executionID string) ([]domain.CostDelta, error) {
	return s.CostDeltas.ListByExecution(ctx, s.DB, executionID)
}
