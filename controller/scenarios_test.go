package controller

import (
	"context"
	"testing"
	"time"

	"github.com/sneller-labs/vecenv/wire"
)

// TestMidStepJoinerGetsEncourage exercises §8 scenario 3: a worker
// that CONNECTs after a STEP is already in flight must be told to
// adopt the in-flight nonce (OK_ENCOURAGE) rather than OK, and its
// immediate frame under that nonce must be accepted.
func TestMidStepJoinerGetsEncourage(t *testing.T) {
	c, _ := newTestController(t, 2, false)

	w0 := dialFakeWorker(t, c)
	defer w0.close()
	w0.initAndConnect()

	// Issue the STEP with only the lone worker connected. StepAsync
	// records it as last_command, which is what the second worker's
	// CONNECT is answered with.
	if err := c.StepAsync(nil); err != nil {
		t.Fatalf("StepAsync: %v", err)
	}
	if last := c.bcast.LastCommand(); last == nil || last.Kind != wire.CmdStep {
		t.Fatalf("last_command after StepAsync = %+v, want STEP", last)
	}

	// A second worker connects while the step is outstanding.
	w1 := dialFakeWorker(t, c)
	defer w1.close()
	resp := w1.call(&wire.MasterRequest{Command: wire.ReqInitialize})
	if resp.Kind != wire.RespOK {
		t.Fatalf("INITIALIZE: %v", resp.Kind)
	}
	w1.clientID = resp.Name.ClientID
	w1.instanceID = resp.Name.InstanceID

	resp = w1.call(&wire.MasterRequest{Command: wire.ReqConnect, ClientID: w1.clientID, InstanceID: w1.instanceID})
	if resp.Kind != wire.RespOKEncourage {
		t.Fatalf("mid-step CONNECT should get OK_ENCOURAGE, got %v", resp.Kind)
	}
	if resp.Connect == nil || resp.Connect.LastCommand == nil {
		t.Fatalf("OK_ENCOURAGE reply missing last_command")
	}
	w1.envID = resp.Connect.EnvironmentID
	joinNonce := resp.Connect.LastCommand.Nonce

	// w0 answers the outstanding step so the batch can complete once
	// w1 also reports in.
	go func() {
		cmd := w0.recvCommand(2 * time.Second)
		w0.sendFrame(cmd.Nonce, 1, false)
	}()

	frameResp := w1.sendFrame(joinNonce, 0, false)
	if frameResp.Kind != wire.RespOK {
		t.Fatalf("encourage frame response = %v, want OK", frameResp.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := c.StepWait(ctx)
	if err != nil {
		t.Fatalf("StepWait: %v", err)
	}
	if len(batch.Rewards) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch.Rewards))
	}
}

// TestStepTimeoutFreesSlotForWaitingWorker exercises §8 scenario 5:
// with N=2 slots full, a third worker's CONNECT gets WAIT; one of the
// two bound workers then goes silent through a step, its slot is
// unregistered by the timeout-driven recovery round, and the waiting
// worker's retried CONNECT is mapped onto the slot that just opened up.
func TestStepTimeoutFreesSlotForWaitingWorker(t *testing.T) {
	c, _ := newTestController(t, 2, false)

	w0 := dialFakeWorker(t, c)
	defer w0.close()
	w1 := dialFakeWorker(t, c)
	defer w1.close()
	w0.initAndConnect()
	w1.initAndConnect()

	w2 := dialFakeWorker(t, c)
	defer w2.close()
	resp := w2.call(&wire.MasterRequest{Command: wire.ReqInitialize})
	if resp.Kind != wire.RespOK || resp.Name == nil {
		t.Fatalf("INITIALIZE: unexpected response %+v", resp)
	}
	w2.clientID = resp.Name.ClientID
	w2.instanceID = resp.Name.InstanceID

	resp = w2.call(&wire.MasterRequest{Command: wire.ReqConnect, ClientID: w2.clientID, InstanceID: w2.instanceID})
	if resp.Kind != wire.RespWait {
		t.Fatalf("third CONNECT with N=2 full should WAIT, got %v", resp.Kind)
	}

	// Get both bound workers through an initial RESET so the slot table
	// and frame buffer are in a normal running state before the
	// step-timeout round.
	workers := []*fakeWorker{nil, nil}
	workers[w0.envID] = w0
	workers[w1.envID] = w1
	go func() {
		for _, w := range workers {
			cmd := w.recvCommand(2 * time.Second)
			w.sendFrame(cmd.Nonce, 0, false)
		}
	}()
	if _, err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	vacatedEnvID := w1.envID

	if err := c.StepAsync(nil); err != nil {
		t.Fatalf("StepAsync: %v", err)
	}
	// w0 answers promptly; w1 goes silent, so the step-timeout recovery
	// round must unregister w1's slot to let the batch complete.
	go func() {
		cmd := w0.recvCommand(2 * time.Second)
		w0.sendFrame(cmd.Nonce, 1, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := c.StepWait(ctx)
	if err != nil {
		t.Fatalf("StepWait: %v", err)
	}
	if len(batch.Dones) != 2 || !batch.Dones[vacatedEnvID] {
		t.Fatalf("timed-out slot %d should be synthesized as done, got %+v", vacatedEnvID, batch.Dones)
	}
	if _, held := c.slots.EnvOf(w1.clientID); held {
		t.Fatalf("w1's slot should have been unregistered by the timeout round")
	}

	// The previously-waiting worker retries CONNECT and is mapped onto
	// the slot the timeout round just vacated.
	resp = w2.call(&wire.MasterRequest{Command: wire.ReqConnect, ClientID: w2.clientID, InstanceID: w2.instanceID})
	if resp.Kind != wire.RespOK && resp.Kind != wire.RespOKEncourage {
		t.Fatalf("retried CONNECT after slot freed = %v, want OK or OK_ENCOURAGE", resp.Kind)
	}
	if resp.Connect == nil || resp.Connect.EnvironmentID != vacatedEnvID {
		t.Fatalf("retried CONNECT env_id = %+v, want %d", resp.Connect, vacatedEnvID)
	}
}

// TestControllerRestartEvictsPriorGeneration exercises §8 scenario 4:
// a new controller generation broadcasts RESET_CLIENT for the prior
// instance_id, and any request still carrying that stale instance_id
// is rejected with ERROR.
func TestControllerRestartEvictsPriorGeneration(t *testing.T) {
	c, _ := newTestController(t, 1, false)
	w := dialFakeWorker(t, c)
	defer w.close()
	w.initAndConnect()

	// Simulate a prior controller generation's instance_id (distinct
	// from this controller's own), the way a fresh process restart
	// would see one in its on-disk or operator-supplied state.
	priorInstanceID := c.InstanceID() ^ 0x5a5a5a5a

	c.EvictPriorGeneration(priorInstanceID)

	cmd := w.recvCommand(2 * time.Second)
	if cmd.Kind != wire.CmdResetClient {
		t.Fatalf("expected RESET_CLIENT, got %v", cmd.Kind)
	}
	if cmd.InstanceID != priorInstanceID {
		t.Fatalf("RESET_CLIENT instance_id = %d, want %d", cmd.InstanceID, priorInstanceID)
	}

	// A worker still presenting the current generation's own
	// instance_id keeps working; one presenting any other is rejected.
	resp := w.call(&wire.MasterRequest{Command: wire.ReqHeartbeat, ClientID: w.clientID, InstanceID: w.instanceID})
	if resp.Kind != wire.RespOK {
		t.Fatalf("current-generation heartbeat = %v, want OK", resp.Kind)
	}
	resp = w.call(&wire.MasterRequest{Command: wire.ReqHeartbeat, ClientID: w.clientID, InstanceID: priorInstanceID})
	if resp.Kind != wire.RespError {
		t.Fatalf("prior-generation heartbeat = %v, want ERROR", resp.Kind)
	}
}
