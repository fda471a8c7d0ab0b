// Package store persists completed validation runs and their audit events.
// The verdict never depends on the store: a nil *Store disables persistence
// and the workflow carries on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nhaguard/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// InsertRun writes the sealed run and a run.scored event in one transaction.
func (s *Store) InsertRun(ctx context.Context, run domain.ValidationRun) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ticketKey, ticketURL any
	if run.Ticket != nil {
		ticketKey = run.Ticket.Key
		ticketURL = run.Ticket.URL
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,control_id,application_id,au_owner,results_json,overall,ticket_key,ticket_url,started_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ControlID, run.ApplicationID, nullable(run.AUOwner), string(results), string(run.Overall),
		ticketKey, ticketURL, run.StartedAt, nullable(run.CompletedAt)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.AppendEventTx(ctx, tx, run.CompletedAt, "run.scored", run.ID, "run", run.ID, map[string]any{
		"overall": run.Overall,
		"total":   run.TotalScore(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	var run domain.ValidationRun
	var auOwner, ticketKey, ticketURL, completedAt sql.NullString
	var resultsJSON string
	err := s.DB.QueryRowContext(ctx, `SELECT id,control_id,application_id,au_owner,results_json,overall,ticket_key,ticket_url,started_at,completed_at
FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.ControlID, &run.ApplicationID, &auOwner, &resultsJSON, &run.Overall, &ticketKey, &ticketURL, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if auOwner.Valid {
		run.AUOwner = auOwner.String
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.String
	}
	if ticketKey.Valid {
		run.Ticket = &domain.TicketRef{Key: ticketKey.String}
		if ticketURL.Valid {
			run.Ticket.URL = ticketURL.String
		}
	}
	if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
		return run, fmt.Errorf("decode results: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by application.
func (s *Store) ListRuns(ctx context.Context, applicationID string, limit int) ([]domain.ValidationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,control_id,application_id,au_owner,results_json,overall,ticket_key,ticket_url,started_at,completed_at
FROM runs`
	args := []any{}
	if applicationID != "" {
		query += ` WHERE application_id=?`
		args = append(args, applicationID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRun
	for rows.Next() {
		var run domain.ValidationRun
		var auOwner, ticketKey, ticketURL, completedAt sql.NullString
		var resultsJSON string
		if err := rows.Scan(&run.ID, &run.ControlID, &run.ApplicationID, &auOwner, &resultsJSON, &run.Overall, &ticketKey, &ticketURL, &run.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		if auOwner.Valid {
			run.AUOwner = auOwner.String
		}
		if completedAt.Valid {
			run.CompletedAt = completedAt.String
		}
		if ticketKey.Valid {
			run.Ticket = &domain.TicketRef{Key: ticketKey.String}
			if ticketURL.Valid {
				run.Ticket.URL = ticketURL.String
			}
		}
		if resultsJSON != "" {
			_ = json.Unmarshal([]byte(resultsJSON), &run.Results)
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
