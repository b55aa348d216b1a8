package worker

import (
	"time"

	"github.com/sneller-labs/vecenv/wire"
)

// runCommand dispatches one broadcast command per §4.5. The bool
// return reports whether the worker should terminate.
func (w *Worker) runCommand(cmd *wire.WorkerCommand) (bool, error) {
	switch cmd.Kind {
	case wire.CmdStep:
		return false, w.runStep(cmd)
	case wire.CmdReset:
		return false, w.runReset(cmd)
	case wire.CmdClose:
		return true, w.Close()
	case wire.CmdResetClient:
		return false, w.runResetClient(cmd)
	case wire.CmdWakeUp:
		if w.State() == StateIdle {
			w.setState(StateNamed)
		}
		return false, nil
	case wire.CmdNoCommand:
		return false, nil
	default:
		return false, nil
	}
}

func (w *Worker) runStep(cmd *wire.WorkerCommand) error {
	if cmd.Nonce < w.nonce {
		return nil // stale, §3 invariant 3
	}
	w.nonce = cmd.Nonce

	action := cmd.Actions
	if w.actionSelector != nil {
		action = w.actionSelector(cmd.Actions, w.envID)
	}
	frame, err := w.env.Step(action)
	if err != nil {
		return err
	}
	frame.Nonce = w.nonce

	return w.deliverStepFrame(frame)
}

// deliverStepFrame implements the two reset-compensation behaviours
// from §4.5's STEP dispatch.
func (w *Worker) deliverStepFrame(frame *wire.Frame) error {
	if !frame.Done {
		return w.sendFrame(frame)
	}
	if w.resetCompensationEnabled() {
		// Reset-compensation on: send the done-frame as-is; the
		// controller will unregister our slot and reply RESET, then
		// we reset locally after responding so the next step has a
		// fresh episode.
		if err := w.sendFrame(frame); err != nil {
			return err
		}
		_, err := w.env.Reset()
		return err
	}
	// Reset-compensation off: reset locally now and splice the real
	// reward/done/info onto the fresh observation, so the controller
	// sees a continuous stream instead of a dropped slot.
	resetFrame, err := w.env.Reset()
	if err != nil {
		return err
	}
	resetFrame.Reward = frame.Reward
	resetFrame.Done = frame.Done
	resetFrame.Info = frame.Info
	resetFrame.Nonce = w.nonce
	return w.sendFrame(resetFrame)
}

func (w *Worker) runReset(cmd *wire.WorkerCommand) error {
	if cmd.Nonce < w.nonce {
		return nil
	}
	w.nonce = cmd.Nonce
	frame, err := w.env.Reset()
	if err != nil {
		return err
	}
	frame.Nonce = w.nonce
	return w.sendFrame(frame)
}

// runResetClient handles RESET_CLIENT per §4.5: if bound and the
// command targets a different generation than the one we're attached
// to, tear down and re-handshake.
func (w *Worker) runResetClient(cmd *wire.WorkerCommand) error {
	if w.State() != StateBound {
		return nil
	}
	if cmd.InstanceID == w.serverInstanceID {
		return nil
	}
	w.teardownSockets()
	w.setState(StateUninitialised)
	return nil
}

// runCommandSimple handles a command encountered while draining the
// command socket before the worker has completed its handshake (§4.5
// "drain any already-buffered commands"). Per §9's Open Question
// resolution, RESET_CLIENT is a no-op here: an unbound worker has
// nothing to tear down.
func (w *Worker) runCommandSimple(cmd *wire.WorkerCommand) {
	switch cmd.Kind {
	case wire.CmdResetClient, wire.CmdNoCommand, wire.CmdWakeUp:
		// no-op while unbound
	default:
		// STEP/RESET/CLOSE broadcast before we're bound carry nothing
		// we can act on yet; the controller will re-address us once
		// CONNECT completes.
	}
}

// drainBufferedCommandsTimeout bounds how long drainBufferedCommands
// spends flushing a backlog before giving up and proceeding to the
// main loop; a pathological backlog shouldn't wedge start-up forever.
const drainBufferedCommandsTimeout = 50 * time.Millisecond

// drainBufferedCommands flushes any commands the pub/sub layer
// delivered while the worker was mid-handshake, so the first command
// seen by the main loop is fresh (§4.5).
func (w *Worker) drainBufferedCommands() {
	if w.cmdClient == nil {
		return
	}
	deadline := time.Now().Add(drainBufferedCommandsTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		raw, err := w.cmdClient.RecvTimeout(remaining)
		if err != nil {
			return
		}
		cmd, err := wire.DecodeWorkerCommand(wire.NewReader(raw))
		if err != nil {
			return
		}
		w.runCommandSimple(cmd)
	}
}

func (w *Worker) resetCompensationEnabled() bool {
	return w.resetCompensation
}
