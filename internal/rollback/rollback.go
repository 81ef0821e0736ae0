package rollback

import (
	"context"
	"fmt"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/hasher"
	"github.com/gymsync/syncd/internal/recorder"
)

// saveSnapshot captures the environment and RNG state at f and stores it in
// the Snapshot Ring.
func (e *Engine) saveSnapshot(ctx context.Context, f frame.Number) error {
	state, err := e.env.GetState(ctx)
	if err != nil {
		return fmt.Errorf("rollback: get state for snapshot at frame %d: %w", f, err)
	}
	return e.snaps.Save(f, state, e.rng.State())
}

// predictFrame builds the action map to step frame f with: confirmed inputs
// where available, predictions (last-known-action) for anything missing.
// Predictions used are recorded in the prediction ledger so drainInbound can
// detect contradictions later.
func (e *Engine) predictFrame(f frame.Number) map[frame.ParticipantIndex]frame.Action {
	actions := make(map[frame.ParticipantIndex]frame.Action, len(e.cfg.Indices))
	for _, idx := range e.cfg.Indices {
		if a, ok := e.input.Get(f, idx); ok {
			actions[idx] = a
			e.lastConfirmedAction[idx] = a
			e.clearPrediction(f, idx)
			continue
		}
		predicted := e.lastConfirmedAction[idx] // zero value if never seen
		actions[idx] = predicted
		e.recordPrediction(f, idx, predicted)
	}
	return actions
}

func (e *Engine) recordPrediction(f frame.Number, idx frame.ParticipantIndex, a frame.Action) {
	row, ok := e.predictionLedger[f]
	if !ok {
		row = make(map[frame.ParticipantIndex]frame.Action)
		e.predictionLedger[f] = row
	}
	row[idx] = a
}

func (e *Engine) clearPrediction(f frame.Number, idx frame.ParticipantIndex) {
	row, ok := e.predictionLedger[f]
	if !ok {
		return
	}
	delete(row, idx)
	if len(row) == 0 {
		delete(e.predictionLedger, f)
	}
}

// rollbackTo discards everything from target forward and replays from the
// nearest snapshot at or before target, restepping with confirmed-or-
// predicted inputs up through (but not including) the current localFrame,
// mirroring netplay.Game's save/rollback/RunFrame cycle generalized to N
// participants.
func (e *Engine) rollbackTo(ctx context.Context, target frame.Number) error {
	defer func() {
		delete(e.flagged, target)
		for f := range e.flagged {
			if f < target {
				delete(e.flagged, f)
			}
		}
	}()

	snap, ok, err := e.snaps.NearestAtOrBefore(target)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	if !ok {
		// Nothing to roll back to: the divergence predates our oldest
		// snapshot. Record as a deep drift and proceed uncorrected; the
		// Hasher's desync log captures the resulting mismatch.
		e.deepDrifts = append(e.deepDrifts, DeepDriftEvent{Frame: target, OldestSnapshot: e.oldestRecoverableFrame()})
		return nil
	}

	if err := e.env.SetState(ctx, snap.EnvState); err != nil {
		return fmt.Errorf("restore env state: %w", err)
	}
	e.rng.Restore(snap.RNGState)

	e.snaps.InvalidateFrom(target)
	e.rec.InvalidateFrom(target)
	e.hash.InvalidateFrom(target)
	for f := range e.predictionLedger {
		if f >= target {
			delete(e.predictionLedger, f)
		}
	}

	replayUpTo := e.localFrame
	if e.onRollback != nil && replayUpTo > snap.Frame {
		e.onRollback(int(replayUpTo - snap.Frame))
	}
	for f := snap.Frame; f < replayUpTo; f++ {
		actions := e.predictFrame(f)
		res, err := e.env.Step(ctx, toInt64Actions(actions))
		if err != nil {
			return fmt.Errorf("replay step at frame %d: %w", f, err)
		}
		e.rec.Write(recorder.Record{
			Frame:          f,
			Actions:        actions,
			Rewards:        toFloatRewards(res.Rewards),
			Terminateds:    toBoolFlags(res.Terminateds),
			TerminatedAll:  allTrue(res.Terminateds),
			Truncateds:     toBoolFlags(res.Truncateds),
			Info:           res.Info,
			WasSpeculative: e.frameHasPrediction(f),
			RollbackEvents: []recorder.RollbackEvent{{Target: target, Reason: "contradicted prediction"}},
		})
		if e.snaps.ShouldSave(f) {
			if err := e.saveSnapshot(ctx, f); err != nil {
				return fmt.Errorf("resave snapshot during replay at frame %d: %w", f, err)
			}
		}
	}
	return nil
}

// sendOutbound gathers the local input for the last RedundancyCount frames
// and asks the transport to deliver them. Hash digests are not sent here.
func (e *Engine) sendOutbound(ctx context.Context) error {
	bundle := e.redundantLocalInputs()
	if err := e.transport.SendBundle(ctx, bundle); err != nil {
		return err
	}
	// Queued hash digests stay on the Hasher until Hasher.DrainOutbound is
	// called; neither this package nor internal/transport/p2p calls it.
	return nil
}

func (e *Engine) redundantLocalInputs() []InputEntry {
	count := e.cfg.RedundancyCount
	if count <= 0 {
		count = 1
	}
	var bundle []InputEntry
	start := frame.Number(0)
	if int(e.localFrame) >= count {
		start = e.localFrame - frame.Number(count) + 1
	}
	for f := start; f <= e.localFrame; f++ {
		if a, ok := e.input.Get(f, e.cfg.LocalIndex); ok {
			bundle = append(bundle, InputEntry{Frame: f, Index: e.cfg.LocalIndex, Action: a})
		}
	}
	return bundle
}

// advanceConfirmed recomputes the confirmed-frame watermark from the Input
// Buffer and promotes/hashes every newly confirmed frame in order.
func (e *Engine) advanceConfirmed(ctx context.Context) error {
	prevConfirmed, hadPrev := e.input.LatestConfirmed()
	newConfirmed, advanced := e.input.UpdateConfirmed(e.cfg.Indices)
	if !advanced {
		return nil
	}

	start := frame.Number(0)
	if hadPrev {
		start = prevConfirmed + 1
	}
	for f := start; f <= newConfirmed; f++ {
		delete(e.predictionLedger, f) // predictions for f are resolved
		if !e.rec.Promote(f, newConfirmed) {
			continue
		}
		rec, ok := e.rec.Canonical(f)
		if !ok {
			continue
		}
		state, rngState, err := e.canonicalStateForHash(ctx, f, rec)
		if err != nil {
			return err
		}
		e.hash.RecordLocal(f, hasher.CanonicalInput{EnvState: state, RNGState: rngState})
	}
	return nil
}

// canonicalStateForHash returns the env state and RNG state to hash for a
// newly confirmed frame. The live environment and RNG only reflect the
// frame just stepped (called from advanceConfirmed before localFrame is
// incremented), so for any earlier just-confirmed frame we use the
// snapshot ring if one lands exactly on it, otherwise we fall back to
// hashing the record's own action tuple (with the live RNG state, since we
// have no historical one) as a coarser desync check.
func (e *Engine) canonicalStateForHash(ctx context.Context, f frame.Number, rec recorder.Record) ([]byte, uint32, error) {
	if f == e.localFrame {
		state, err := e.env.GetState(ctx)
		return state, e.rng.State(), err
	}
	if snap, ok, err := e.snaps.NearestAtOrBefore(f); err == nil && ok && snap.Frame == f {
		return snap.EnvState, snap.RNGState, nil
	}
	return encodeRecordFallback(rec), e.rng.State(), nil
}

// encodeRecordFallback builds a deterministic byte representation of a
// Record's actions for frames where no exact snapshot landed — coarser than
// the real environment state, but stable and sufficient to flag divergence
// in the actions agreed upon for that frame.
func encodeRecordFallback(rec recorder.Record) []byte {
	indices := make([]frame.ParticipantIndex, 0, len(rec.Actions))
	for idx := range rec.Actions {
		indices = append(indices, idx)
	}
	sortParticipantIndices(indices)
	out := make([]byte, 0, len(indices)*10)
	for _, idx := range indices {
		out = appendUint16(out, uint16(idx))
		out = appendUint64(out, uint64(rec.Actions[idx]))
	}
	return out
}
