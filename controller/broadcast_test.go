package controller

import (
	"log"
	"testing"

	"github.com/sneller-labs/vecenv/transport"
	"github.com/sneller-labs/vecenv/wire"
)

func newTestBroadcaster(t *testing.T) *broadcaster {
	t.Helper()
	srv, err := transport.ListenPubSub("tcp", "127.0.0.1:0", log.Default(), 0)
	if err != nil {
		t.Fatalf("ListenPubSub: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return newBroadcaster(srv)
}

func TestBroadcasterNoncesStrictlyIncreasing(t *testing.T) {
	b := newTestBroadcaster(t)
	var last int64 = -1
	for i := 0; i < 5; i++ {
		cmd := b.Publish(&wire.WorkerCommand{Kind: wire.CmdStep})
		if cmd.Nonce <= last {
			t.Fatalf("nonce did not strictly increase: %d <= %d", cmd.Nonce, last)
		}
		last = cmd.Nonce
	}
}

func TestBroadcasterWakeUpNotRecordedAsLastCommand(t *testing.T) {
	b := newTestBroadcaster(t)
	step := b.Publish(&wire.WorkerCommand{Kind: wire.CmdStep})
	b.Publish(&wire.WorkerCommand{Kind: wire.CmdWakeUp})
	if last := b.LastCommand(); last == nil || last.Kind != wire.CmdStep || last.Nonce != step.Nonce {
		t.Fatalf("WAKE_UP must not overwrite last_command, got %+v", last)
	}
}

func TestBroadcasterRebroadcastFreshNonce(t *testing.T) {
	b := newTestBroadcaster(t)
	first := b.Publish(&wire.WorkerCommand{Kind: wire.CmdReset})
	repeat := b.Rebroadcast()
	if repeat == nil {
		t.Fatalf("Rebroadcast returned nil with a last_command present")
	}
	if repeat.Kind != wire.CmdReset {
		t.Fatalf("Rebroadcast kind = %v, want CmdReset", repeat.Kind)
	}
	if repeat.Nonce <= first.Nonce {
		t.Fatalf("Rebroadcast nonce %d did not exceed original %d", repeat.Nonce, first.Nonce)
	}
}

func TestBroadcasterRebroadcastWithoutPriorCommand(t *testing.T) {
	b := newTestBroadcaster(t)
	if repeat := b.Rebroadcast(); repeat != nil {
		t.Fatalf("Rebroadcast with no last_command should return nil, got %+v", repeat)
	}
}
