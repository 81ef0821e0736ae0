package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	var name string
	if err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='session_history'").Scan(&name); err != nil {
		t.Fatalf("expected session_history table to exist: %v", err)
	}
}

func TestAppendAndQuerySessionHistory(t *testing.T) {
	s := openTestStore(t)
	started := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)

	entry := Entry{
		SessionID:      "sess-1",
		SceneID:        "scene-a",
		ParticipantIDs: []string{"p0", "p1"},
		EndedReason:    "both_confirmed_terminal",
		StartedAt:      started,
		EndedAt:        ended,
	}
	if err := s.AppendSession(entry); err != nil {
		t.Fatalf("AppendSession: %v", err)
	}

	got, err := s.SessionHistory("sess-1")
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].SceneID != "scene-a" || got[0].EndedReason != "both_confirmed_terminal" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if len(got[0].ParticipantIDs) != 2 || got[0].ParticipantIDs[0] != "p0" || got[0].ParticipantIDs[1] != "p1" {
		t.Fatalf("unexpected participant ids: %v", got[0].ParticipantIDs)
	}
}

func TestSessionHistoryUnknownSessionReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.SessionHistory("does-not-exist")
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestAppendSessionAllowsMultipleRowsPerSession(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		entry := Entry{
			SessionID:      "sess-2",
			SceneID:        "scene-b",
			ParticipantIDs: []string{"p0"},
			EndedReason:    "peer_disconnected",
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
			EndedAt:        base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if err := s.AppendSession(entry); err != nil {
			t.Fatalf("AppendSession %d: %v", i, err)
		}
	}

	got, err := s.SessionHistory("sess-2")
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if !got[0].StartedAt.Before(got[1].StartedAt) {
		t.Fatalf("expected rows ordered oldest first, got %+v", got)
	}
}
