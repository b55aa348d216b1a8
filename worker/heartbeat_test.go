package worker

import "testing"

// TestOnPollMissTriggersFullResetOnRefreshFailure confirms the
// socket-refresh heartbeat (§4.5) falls back to a full client reset
// once the command endpoint can't be re-dialed, rather than wedging
// the worker in place forever.
func TestOnPollMissTriggersFullResetOnRefreshFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollingLimit = 3
	// A port with no listener behind it fails to dial.
	cfg.ServerURL = "127.0.0.1"
	cfg.CommandPort = 1 // reserved port, nothing listens here in test sandboxes

	w := New(cfg, nil, nil, nil)
	w.setState(StateBound)
	w.serverInstanceID = 5

	for i := 0; i < cfg.PollingLimit; i++ {
		w.onPollMiss()
	}

	if w.State() != StateUninitialised {
		t.Fatalf("state = %v, want StateUninitialised after repeated poll misses", w.State())
	}
	if w.cmdClient != nil {
		t.Fatalf("cmdClient should have been torn down")
	}
}
