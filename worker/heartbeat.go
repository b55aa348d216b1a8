package worker

import (
	"github.com/sneller-labs/vecenv/transport"
	"github.com/sneller-labs/vecenv/wire"
)

// onPollMiss counts a consecutive empty poll of the command endpoint.
// After polling_limit misses it refreshes the command subscription
// socket and probes the controller with a HEARTBEAT, grounded on the
// teacher's peerCmd ticker-driven refresh-and-reprobe loop.
func (w *Worker) onPollMiss() {
	w.pollMisses++
	if w.pollMisses < w.cfg.PollingLimit {
		return
	}
	w.pollMisses = 0
	w.refreshCommandSocket()
}

// refreshCommandSocket closes and reopens the command subscription,
// then confirms the controller is still alive with a HEARTBEAT on the
// request endpoint. A missing or error reply triggers a full client
// reset (§4.5).
func (w *Worker) refreshCommandSocket() {
	if w.cmdClient != nil {
		w.cmdClient.Close()
		w.cmdClient = nil
	}
	cmdClient, err := transport.DialPubSub("tcp", w.cfg.CommandAddr(), w.cfg.SocketLinger)
	if err != nil {
		w.log.Printf("worker: command socket refresh failed: %v", err)
		w.triggerFullReset()
		return
	}
	w.cmdClient = cmdClient

	resp, err := w.call(&wire.MasterRequest{
		Command:    wire.ReqHeartbeat,
		ClientID:   w.clientID,
		InstanceID: w.serverInstanceID,
	})
	if err != nil || resp.Kind != wire.RespOK {
		w.log.Printf("worker: heartbeat after socket refresh failed: %v", err)
		w.triggerFullReset()
	}
}

func (w *Worker) triggerFullReset() {
	w.teardownSockets()
	w.setState(StateUninitialised)
}
