package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// EventRepo handles persistence for StreamEvent records.
type EventRepo struct{}

// Append inserts a sequenced stream event.
func (r *EventRepo) Append(ctx context.Context, db *sql.DB, event domain.StreamEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	const q = `INSERT INTO stream_events (execution_id, seq_no, event_type, message, data_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		event.ExecutionID,
		event.SeqNo,
		string(event.Type),
		event.Message,
		string(data),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByExecution returns events for an execution with sequence numbers
// greater than sinceSeq, ordered by sequence number ascending.
func (r *EventRepo) ListByExecution(ctx context.Context, db *sql.DB, executionID string, sinceSeq int64) ([]domain.StreamEvent, error) {
	const q = `SELECT execution_id, seq_no, event_type, message, data_json, created_at
FROM stream_events
WHERE execution_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, executionID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.StreamEvent
	for rows.Next() {
		var e domain.StreamEvent
		var eventType, dataJSON string
		if err := rows.Scan(&e.ExecutionID, &e.SeqNo, &eventType, &e.Message, &dataJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
