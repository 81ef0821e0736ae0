package store

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one completed session's group-history record.
type Entry struct {
	SessionID      string
	SceneID        string
	ParticipantIDs []string
	EndedReason    string
	StartedAt      time.Time
	EndedAt        time.Time
}

// AppendSession records a session's outcome. Called once, from the
// session's cleanup sequence (spec.md §4.11 step 6), never updated
// afterward.
func (s *Store) AppendSession(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO session_history (session_id, scene_id, participant_ids, ended_reason, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.SceneID, strings.Join(e.ParticipantIDs, ","), e.EndedReason,
		e.StartedAt.UTC(), e.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: append session %s: %w", e.SessionID, err)
	}
	return nil
}

// SessionHistory returns every recorded entry for sessionID, oldest first.
// A participant who reconnects into a new session keyed by the same ID
// (after a signaling-relay reassignment) can have more than one row.
func (s *Store) SessionHistory(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT session_id, scene_id, participant_ids, ended_reason, started_at, ended_at
		 FROM session_history WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query session history %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var participants string
		if err := rows.Scan(&e.SessionID, &e.SceneID, &participants, &e.EndedReason, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("store: scan session history row: %w", err)
		}
		if participants != "" {
			e.ParticipantIDs = strings.Split(participants, ",")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate session history %s: %w", sessionID, err)
	}
	return out, nil
}
