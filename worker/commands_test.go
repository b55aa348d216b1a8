package worker

import (
	"testing"

	"github.com/sneller-labs/vecenv/wire"
)

func newTestWorker() *Worker {
	return New(DefaultConfig(), nil, nil, nil)
}

func TestRunResetClientNoopWhenUnbound(t *testing.T) {
	w := newTestWorker()
	w.setState(StateNamed)
	w.serverInstanceID = 7

	if err := w.runResetClient(&wire.WorkerCommand{Kind: wire.CmdResetClient, InstanceID: 9}); err != nil {
		t.Fatalf("runResetClient: %v", err)
	}
	if w.State() != StateNamed {
		t.Fatalf("state = %v, want unchanged StateNamed", w.State())
	}
}

func TestRunResetClientNoopSameGeneration(t *testing.T) {
	w := newTestWorker()
	w.setState(StateBound)
	w.serverInstanceID = 7

	if err := w.runResetClient(&wire.WorkerCommand{Kind: wire.CmdResetClient, InstanceID: 7}); err != nil {
		t.Fatalf("runResetClient: %v", err)
	}
	if w.State() != StateBound {
		t.Fatalf("state = %v, want unchanged StateBound", w.State())
	}
}

func TestRunResetClientTearsDownOnGenerationMismatch(t *testing.T) {
	w := newTestWorker()
	w.setState(StateBound)
	w.serverInstanceID = 7
	w.envID = 3
	w.nonce = 42

	if err := w.runResetClient(&wire.WorkerCommand{Kind: wire.CmdResetClient, InstanceID: 8}); err != nil {
		t.Fatalf("runResetClient: %v", err)
	}
	if w.State() != StateUninitialised {
		t.Fatalf("state = %v, want StateUninitialised", w.State())
	}
}

func TestRunCommandSimpleIsNoopWhileDraining(t *testing.T) {
	w := newTestWorker()
	w.setState(StateNamed)

	for _, cmd := range []*wire.WorkerCommand{
		{Kind: wire.CmdResetClient, InstanceID: 123},
		{Kind: wire.CmdNoCommand},
		{Kind: wire.CmdWakeUp},
		{Kind: wire.CmdStep},
		{Kind: wire.CmdReset},
	} {
		w.runCommandSimple(cmd)
		if w.State() != StateNamed {
			t.Fatalf("runCommandSimple(%v) changed state to %v", cmd.Kind, w.State())
		}
	}
}

func TestRunCommandWakeUpFromIdle(t *testing.T) {
	w := newTestWorker()
	w.setState(StateIdle)

	done, err := w.runCommand(&wire.WorkerCommand{Kind: wire.CmdWakeUp})
	if err != nil {
		t.Fatalf("runCommand: %v", err)
	}
	if done {
		t.Fatalf("WAKE_UP should never terminate the worker")
	}
	if w.State() != StateNamed {
		t.Fatalf("state = %v, want StateNamed after WAKE_UP from Idle", w.State())
	}
}
