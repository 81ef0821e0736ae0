// Package export writes a completed episode's canonical records to the
// persisted CSV + globals-JSON layout fixed by spec.md §6. No pack repo
// writes CSV for research data, so this is built directly against the
// spec's byte-for-byte column contract using the stdlib encoding/csv —
// the schema is flat and fixed, exactly what encoding/csv is for, so no
// third-party CSV/dataframe library earns its keep here.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/recorder"
)

// Globals is the per-participant sidecar JSON, accumulated across episodes.
type Globals struct {
	ExperimentID  string         `json:"experiment_id"`
	SceneID       string         `json:"scene_id"`
	ParticipantID string         `json:"participant_id"`
	Episodes      int            `json:"episodes"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Writer persists episodes under dataDir/{experiment_id}/{scene_id}/.
type Writer struct {
	dataDir       string
	experimentID  string
	sceneID       string
	participantID string
}

// NewWriter constructs a Writer rooted at dataDir (spec.md's literal
// `data/` prefix is the caller's dataDir, e.g. "data").
func NewWriter(dataDir, experimentID, sceneID, participantID string) *Writer {
	return &Writer{dataDir: dataDir, experimentID: experimentID, sceneID: sceneID, participantID: participantID}
}

func (w *Writer) dir() string {
	return filepath.Join(w.dataDir, w.experimentID, w.sceneID)
}

// EpisodePath returns the CSV path for one episode.
func (w *Writer) EpisodePath(episode int) string {
	return filepath.Join(w.dir(), fmt.Sprintf("%s_ep%d.csv", w.participantID, episode))
}

// GlobalsPath returns the participant's sidecar JSON path.
func (w *Writer) GlobalsPath() string {
	return filepath.Join(w.dir(), fmt.Sprintf("%s_globals.json", w.participantID))
}

// WriteEpisode writes one episode's canonical records as CSV, sorted by
// frame (ExportEpisode's own ordering, preserved here).
func (w *Writer) WriteEpisode(episode int, indices []frame.ParticipantIndex, records []recorder.Record) error {
	if err := os.MkdirAll(w.dir(), 0o755); err != nil {
		return fmt.Errorf("export: mkdir: %w", err)
	}

	f, err := os.Create(w.EpisodePath(episode))
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := columnHeader(indices)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for _, rec := range records {
		row, err := recordRow(episode, indices, rec)
		if err != nil {
			return fmt.Errorf("export: encode row for frame %d: %w", rec.Frame, err)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row for frame %d: %w", rec.Frame, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func columnHeader(indices []frame.ParticipantIndex) []string {
	header := []string{"t", "episode_num"}
	for _, idx := range indices {
		header = append(header, fmt.Sprintf("actions.%d", idx))
	}
	for _, idx := range indices {
		header = append(header, fmt.Sprintf("rewards.%d", idx))
	}
	for _, idx := range indices {
		header = append(header, fmt.Sprintf("terminateds.%d", idx))
	}
	header = append(header, "terminateds.__all__")
	for _, idx := range indices {
		header = append(header, fmt.Sprintf("truncateds.%d", idx))
	}
	header = append(header, "wasSpeculative", "rollbackEvents")
	return header
}

func recordRow(episode int, indices []frame.ParticipantIndex, rec recorder.Record) ([]string, error) {
	row := []string{
		strconv.FormatUint(uint64(rec.Frame), 10),
		strconv.Itoa(episode),
	}
	for _, idx := range indices {
		row = append(row, strconv.FormatUint(uint64(rec.Actions[idx]), 10))
	}
	for _, idx := range indices {
		row = append(row, strconv.FormatFloat(rec.Rewards[idx], 'g', -1, 64))
	}
	for _, idx := range indices {
		row = append(row, strconv.FormatBool(rec.Terminateds[idx]))
	}
	row = append(row, strconv.FormatBool(rec.TerminatedAll))
	for _, idx := range indices {
		row = append(row, strconv.FormatBool(rec.Truncateds[idx]))
	}
	row = append(row, strconv.FormatBool(rec.WasSpeculative))

	rollbacks, err := encodeRollbackEvents(rec.RollbackEvents)
	if err != nil {
		return nil, err
	}
	row = append(row, rollbacks)
	return row, nil
}

func encodeRollbackEvents(events []recorder.RollbackEvent) (string, error) {
	if len(events) == 0 {
		return "[]", nil
	}
	type jsonEvent struct {
		Target uint32 `json:"target"`
		Reason string `json:"reason"`
	}
	out := make([]jsonEvent, len(events))
	for i, e := range events {
		out[i] = jsonEvent{Target: uint32(e.Target), Reason: e.Reason}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteGlobals writes (overwriting) the participant's sidecar JSON.
func (w *Writer) WriteGlobals(g Globals) error {
	if err := os.MkdirAll(w.dir(), 0o755); err != nil {
		return fmt.Errorf("export: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal globals: %w", err)
	}
	return os.WriteFile(w.GlobalsPath(), b, 0o644)
}

// SortedIndices is a small helper for callers building the indices slice
// from a participant-index set.
func SortedIndices(indices map[frame.ParticipantIndex]struct{}) []frame.ParticipantIndex {
	out := make([]frame.ParticipantIndex, 0, len(indices))
	for idx := range indices {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRollbackEvents is the inverse of encodeRollbackEvents, useful for
// tooling that reads exports back (e.g. an inspect-export CLI command).
func ParseRollbackEvents(s string) ([]recorder.RollbackEvent, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil, nil
	}
	type jsonEvent struct {
		Target uint32 `json:"target"`
		Reason string `json:"reason"`
	}
	var decoded []jsonEvent
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, err
	}
	out := make([]recorder.RollbackEvent, len(decoded))
	for i, e := range decoded {
		out[i] = recorder.RollbackEvent{Target: frame.Number(e.Target), Reason: e.Reason}
	}
	return out, nil
}
