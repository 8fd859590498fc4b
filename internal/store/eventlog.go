package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendEvent stores event and assigns its per-run sequence, one past the
// highest stored for the run. The sequence is computed inside the INSERT,
// and the single pooled connection serializes concurrent appends.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 SELECT ?, ?, ?, ?, ?, COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, event.RunID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	event.ID = id
	if err := s.db.QueryRowContext(ctx,
		`SELECT sequence FROM events WHERE id = ?`, id).Scan(&event.Sequence); err != nil {
		return fmt.Errorf("read event sequence: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e       Event
			nodeID  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}
