// Package worker implements the client side of the coordination
// fabric: the state machine, command dispatch, and socket-refresh
// heartbeat described in SPEC_FULL.md §4.5.
package worker

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sneller-labs/vecenv/transport"
	"github.com/sneller-labs/vecenv/wire"
)

// State is one of the worker lifecycle states from §4.5.
type State int

const (
	StateUninitialised State = iota
	StateNamed
	StateBound
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateNamed:
		return "named"
	case StateBound:
		return "bound"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrVersionMismatch is fatal per §7: client and controller disagree
// on server_version.
var ErrVersionMismatch = fmt.Errorf("worker: server_version mismatch")

// Worker is the client-side half of one environment slot. It is not
// safe for concurrent use: Run's main loop is single-threaded and
// cooperative, exactly as the teacher's worker process loop is (§5).
type Worker struct {
	cfg            Config
	factory        Factory
	envName        string
	seed           int64
	actionSelector ActionSelector
	log            *log.Logger

	reqClient *transport.ReqRepClient
	cmdClient *transport.PubSubClient

	state             int32 // State, accessed via setState/State so Run's writer goroutine and a test/observer reader never race
	clientID          uint32
	serverInstanceID  int64
	envID             uint32
	nonce             int64
	idleSince         time.Time
	env               Env
	resetCompensation bool

	pollMisses int
}

// New constructs a Worker bound to no controller yet; call Run to
// dial in and start the main loop.
func New(cfg Config, factory Factory, selector ActionSelector, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{cfg: cfg, factory: factory, actionSelector: selector, log: logger}
}

// State returns the worker's current lifecycle state. Safe to call
// from any goroutine, e.g. a test waiting for the handshake to finish.
func (w *Worker) State() State {
	return State(atomic.LoadInt32(&w.state))
}

func (w *Worker) setState(s State) {
	atomic.StoreInt32(&w.state, int32(s))
}

// Run dials both endpoints and executes the main loop until the
// controller sends CLOSE or an unrecoverable error occurs (§4.5).
func (w *Worker) Run() error {
	for w.State() != StateClosed {
		switch w.State() {
		case StateUninitialised, StateNamed:
			if err := w.dialAndHandshake(); err != nil {
				return err
			}
			w.drainBufferedCommands()
			continue
		}

		cmd, err := w.fetchCommand()
		if err != nil {
			if w.State() == StateClosed {
				return nil
			}
			w.resetOnTransportError(err)
			continue
		}
		if cmd == nil {
			continue
		}
		done, err := w.runCommand(cmd)
		if err != nil {
			return err
		}
		if done {
			w.setState(StateClosed)
		}
	}
	return nil
}

// dialAndHandshake opens both sockets (if not already open) and
// performs INITIALIZE then CONNECT (§4.5 init()).
func (w *Worker) dialAndHandshake() error {
	if w.reqClient == nil {
		reqClient, err := transport.Dial("tcp", w.cfg.RequestAddr(), w.cfg.SocketLinger)
		if err != nil {
			return fmt.Errorf("worker: dialing request endpoint: %w", err)
		}
		w.reqClient = reqClient
	}
	if w.cmdClient == nil {
		cmdClient, err := transport.DialPubSub("tcp", w.cfg.CommandAddr(), w.cfg.SocketLinger)
		if err != nil {
			return fmt.Errorf("worker: dialing command endpoint: %w", err)
		}
		w.cmdClient = cmdClient
	}

	if err := w.initialize(); err != nil {
		return err
	}
	return w.connect()
}

func (w *Worker) initialize() error {
	req := &wire.MasterRequest{Command: wire.ReqInitialize}
	resp, err := w.call(req)
	if err != nil {
		return err
	}
	if resp.Kind != wire.RespOK || resp.Name == nil {
		return fmt.Errorf("worker: INITIALIZE failed: response kind %v", resp.Kind)
	}
	if resp.Name.ServerVersion != w.cfg.ServerVersion {
		return fmt.Errorf("%w: worker has %d, controller reports %d",
			ErrVersionMismatch, w.cfg.ServerVersion, resp.Name.ServerVersion)
	}

	env, err := w.factory(resp.Name.EnvName, resp.Name.Seed)
	if err != nil {
		return fmt.Errorf("worker: instantiating environment %q: %w", resp.Name.EnvName, err)
	}
	w.env = env
	w.envName = resp.Name.EnvName
	w.seed = resp.Name.Seed
	w.clientID = resp.Name.ClientID
	w.serverInstanceID = resp.Name.InstanceID
	w.resetCompensation = resp.Name.ResetCompensation
	w.setState(StateNamed)
	return nil
}

func (w *Worker) connect() error {
	req := &wire.MasterRequest{
		Command:       wire.ReqConnect,
		ClientID:      w.clientID,
		InstanceID:    w.serverInstanceID,
		ConnectSpaces: w.env.Spaces(),
	}
	resp, err := w.call(req)
	if err != nil {
		return err
	}
	switch resp.Kind {
	case wire.RespWait:
		w.setState(StateIdle)
		w.idleSince = time.Now()
		return nil
	case wire.RespOK:
		if resp.Connect == nil {
			return fmt.Errorf("worker: CONNECT OK reply missing connect_response")
		}
		w.envID = resp.Connect.EnvironmentID
		w.setState(StateBound)
		return nil
	case wire.RespOKEncourage:
		if resp.Connect == nil || resp.Connect.LastCommand == nil {
			return fmt.Errorf("worker: OK_ENCOURAGE reply missing last_command")
		}
		w.envID = resp.Connect.EnvironmentID
		w.nonce = resp.Connect.LastCommand.Nonce
		w.setState(StateBound)
		return w.pushEncourageFrame()
	default:
		return fmt.Errorf("worker: CONNECT failed: response kind %v", resp.Kind)
	}
}

// pushEncourageFrame implements the mid-step-joiner path (§4.5): the
// worker adopts the in-flight nonce and immediately resets locally so
// the controller can populate its slot without waiting for the next
// broadcast.
func (w *Worker) pushEncourageFrame() error {
	frame, err := w.env.Reset()
	if err != nil {
		return fmt.Errorf("worker: reset during OK_ENCOURAGE: %w", err)
	}
	frame.Nonce = w.nonce
	return w.sendFrame(frame)
}

func (w *Worker) sendFrame(frame *wire.Frame) error {
	resp, err := w.call(&wire.MasterRequest{
		Command:    wire.ReqFrame,
		ClientID:   w.clientID,
		InstanceID: w.serverInstanceID,
		Frame:      frame,
	})
	if err != nil {
		return err
	}
	switch resp.Kind {
	case wire.RespOK:
		return nil
	case wire.RespSoftError:
		return nil
	case wire.RespReset:
		// Reset-compensation: the controller has unregistered our
		// slot; re-handshake to get a new one.
		w.setState(StateNamed)
		return nil
	case wire.RespError:
		return w.resetOnTransportError(fmt.Errorf("worker: FRAME rejected with ERROR"))
	default:
		return fmt.Errorf("worker: unexpected FRAME response kind %v", resp.Kind)
	}
}

func (w *Worker) call(req *wire.MasterRequest) (*wire.MasterResponse, error) {
	var buf wire.Buffer
	req.Encode(&buf)
	raw, err := w.reqClient.CallTimeout(buf.Bytes(), w.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return wire.DecodeMasterResponse(wire.NewReader(raw))
}

// fetchCommand polls the command endpoint with the configured timeout
// (§5 "Suspension points"). A nil, nil return means a poll miss: the
// caller should loop and re-check idle/heartbeat bookkeeping.
func (w *Worker) fetchCommand() (*wire.WorkerCommand, error) {
	if w.State() == StateIdle {
		return w.fetchCommandIdle()
	}
	raw, err := w.cmdClient.RecvTimeout(w.cfg.Timeout)
	if err != nil {
		if isTimeout(err) {
			w.onPollMiss()
			return nil, nil
		}
		return nil, err
	}
	w.pollMisses = 0
	return wire.DecodeWorkerCommand(wire.NewReader(raw))
}

// fetchCommandIdle polls for WAKE_UP while idle, also leaving Idle
// once wait_period_seconds elapses (§4.5 CONNECT WAIT handling).
func (w *Worker) fetchCommandIdle() (*wire.WorkerCommand, error) {
	raw, err := w.cmdClient.RecvTimeout(w.cfg.WaitPeriod)
	if err != nil {
		if isTimeout(err) {
			w.setState(StateNamed) // retry CONNECT on the next loop iteration
			return nil, nil
		}
		return nil, err
	}
	cmd, err := wire.DecodeWorkerCommand(wire.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if cmd.Kind == wire.CmdWakeUp {
		w.setState(StateNamed)
		return nil, nil
	}
	return cmd, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// resetOnTransportError implements the worker's transport-timeout
// recovery policy (§7): close both sockets and re-enter the
// handshake on the next Run iteration, rather than treating a single
// dropped connection as fatal.
func (w *Worker) resetOnTransportError(cause error) error {
	w.log.Printf("worker: transport error, resetting: %v", cause)
	w.teardownSockets()
	w.setState(StateUninitialised)
	return nil
}

func (w *Worker) teardownSockets() {
	if w.reqClient != nil {
		w.reqClient.Close()
		w.reqClient = nil
	}
	if w.cmdClient != nil {
		w.cmdClient.Close()
		w.cmdClient = nil
	}
}

// Close tears down the environment and both sockets. Safe to call
// after Run has already returned.
func (w *Worker) Close() error {
	w.teardownSockets()
	w.setState(StateClosed)
	if w.env != nil {
		return w.env.Close()
	}
	return nil
}
