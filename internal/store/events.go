package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"nhaguard/internal/domain"
)

// AppendEvent writes one audit event outside a transaction.
func (s *Store) AppendEvent(ctx context.Context, ts, evtType, runID, entityKind, entityID string, payload map[string]any) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.AppendEventTx(ctx, tx, ts, evtType, runID, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendEventTx writes one audit event inside an existing transaction.
func (s *Store) AppendEventTx(ctx context.Context, tx *sql.Tx, ts, evtType, runID, entityKind, entityID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(runID), entityKind, nullable(entityID), string(data))
	return err
}

// LatestEvents returns the most recent events, optionally filtered.
func (s *Store) LatestEvents(ctx context.Context, n int, evtType, runID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,run_id,entity_kind,entity_id,payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, `type=?`)
		args = append(args, evtType)
	}
	if runID != "" {
		conds = append(conds, `run_id=?`)
		args = append(args, runID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var runID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &runID, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		if runID.Valid {
			e.RunID = runID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
