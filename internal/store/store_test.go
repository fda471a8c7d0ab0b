package store_test

import (
	"context"
	"errors"
	"testing"

	"nhaguard/internal/db"
	"nhaguard/internal/domain"
	"nhaguard/internal/migrate"
	"nhaguard/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return &store.Store{DB: conn}
}

func sampleRun(id, app, started string) domain.ValidationRun {
	return domain.ValidationRun{
		ID:            id,
		ControlID:     "C-305377",
		ApplicationID: app,
		AUOwner:       "o.martin",
		StartedAt:     started,
		CompletedAt:   started,
		Overall:       domain.NonCompliant,
		Results: []domain.QuestionResult{
			{Key: "Q1", Answer: domain.AnswerNo, Rationale: "no accounts", Score: 15},
			{Key: "Q2", Answer: domain.AnswerNo, Rationale: "nothing to register", Score: 5},
			{Key: "Q3", Answer: domain.AnswerUnknown, Score: 5},
			{Key: "Q4", Answer: domain.AnswerUnknown, Score: 5},
		},
		Ticket: &domain.TicketRef{Key: "BDFS-7", URL: "https://jira.example.com/browse/BDFS-7"},
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := sampleRun("run-1", "APP001", "2025-06-01T00:00:00Z")
	if err := s.InsertRun(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ControlID != want.ControlID || got.ApplicationID != want.ApplicationID || got.AUOwner != want.AUOwner {
		t.Fatalf("run mismatch: %+v", got)
	}
	if got.Overall != domain.NonCompliant {
		t.Fatalf("overall %s", got.Overall)
	}
	if len(got.Results) != 4 || got.Results[0].Key != "Q1" || got.Results[3].Key != "Q4" {
		t.Fatalf("results %+v", got.Results)
	}
	if got.TotalScore() != 30 {
		t.Fatalf("total %d", got.TotalScore())
	}
	if got.Ticket == nil || got.Ticket.Key != "BDFS-7" || got.Ticket.URL != want.Ticket.URL {
		t.Fatalf("ticket %+v", got.Ticket)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirstAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, r := range []domain.ValidationRun{
		sampleRun("run-a", "APP001", "2025-06-01T00:00:00Z"),
		sampleRun("run-b", "APP002", "2025-06-02T00:00:00Z"),
		sampleRun("run-c", "APP001", "2025-06-03T00:00:00Z"),
	} {
		if err := s.InsertRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "run-c" || all[2].ID != "run-a" {
		t.Fatalf("order wrong: %+v", all)
	}

	filtered, err := s.ListRuns(ctx, "APP001", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filter returned %d runs", len(filtered))
	}
	for _, r := range filtered {
		if r.ApplicationID != "APP001" {
			t.Fatalf("stray run %s", r.ID)
		}
	}

	limited, err := s.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "run-c" {
		t.Fatalf("limit wrong: %+v", limited)
	}
}

func TestInsertRunRecordsScoredEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.InsertRun(ctx, sampleRun("run-1", "APP001", "2025-06-01T00:00:00Z")); err != nil {
		t.Fatal(err)
	}
	events, err := s.LatestEvents(ctx, 10, "run.scored", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events %d, want 1", len(events))
	}
	if events[0].RunID != "run-1" || events[0].Type != "run.scored" {
		t.Fatalf("event %+v", events[0])
	}
}

func TestAppendAndFilterEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.AppendEvent(ctx, "2025-06-01T00:00:00Z", "ticket.created", "run-1", "ticket", "BDFS-7", map[string]any{"url": "u"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(ctx, "2025-06-01T00:01:00Z", "ticket.create_failed", "run-2", "ticket", "", nil); err != nil {
		t.Fatal(err)
	}

	all, err := s.LatestEvents(ctx, 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Type != "ticket.create_failed" {
		t.Fatalf("events %+v", all)
	}

	byType, err := s.LatestEvents(ctx, 10, "ticket.created", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].EntityID != "BDFS-7" {
		t.Fatalf("filtered %+v", byType)
	}
}
