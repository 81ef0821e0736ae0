package rollback

import (
	"context"

	"github.com/gymsync/syncd/internal/recorder"
)

// FastForward steps num frames for a participant returning from the
// background, substituting cfg.DefaultAction for the local participant's
// own input. Every other input missing from the buffer, bot or human, is
// predicted from that index's last confirmed action exactly as in Tick;
// there is no bot policy hook. It restores no snapshot and sends nothing
// to the transport. num is chosen by the caller (the Focus Manager's
// FrameBudget bounds it).
func (e *Engine) FastForward(ctx context.Context, num int) error {
	for i := 0; i < num; i++ {
		localAction := e.cfg.DefaultAction
		if err := e.putInput(e.localFrame, e.cfg.LocalIndex, localAction); err != nil {
			return err
		}
		actions := e.predictFrame(e.localFrame)
		res, err := e.env.Step(ctx, toInt64Actions(actions))
		if err != nil {
			return err
		}
		e.rec.Write(recorder.Record{
			Frame:          e.localFrame,
			Actions:        actions,
			Rewards:        toFloatRewards(res.Rewards),
			Terminateds:    toBoolFlags(res.Terminateds),
			TerminatedAll:  allTrue(res.Terminateds),
			Truncateds:     toBoolFlags(res.Truncateds),
			Info:           res.Info,
			WasSpeculative: e.frameHasPrediction(e.localFrame),
		})
		if e.snaps.ShouldSave(e.localFrame) {
			if err := e.saveSnapshot(ctx, e.localFrame); err != nil {
				return err
			}
		}
		if err := e.advanceConfirmed(ctx); err != nil {
			return err
		}
		e.localFrame++
	}
	return nil
}
