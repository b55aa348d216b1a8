// Package controller implements the server side of the coordination
// fabric: the authoritative slot table, command broadcaster, request
// handler, and step coordinator described in SPEC_FULL.md §4.1-4.4.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sneller-labs/vecenv/internal/idgen"
	"github.com/sneller-labs/vecenv/transport"
	"github.com/sneller-labs/vecenv/wire"
)

// ErrClosed is returned by Reset, StepAsync, StepWait and a second
// Close once Close has run, and by Init when Close ran before any
// worker reported its spaces.
var ErrClosed = errors.New("controller: closed")

// frameCell is one slot's entry in the per-step frame buffer (§3).
type frameCell struct {
	Observation *wire.Array
	Reward      float64
	Done        bool
	Info        []byte
	Filled      bool
}

// Batch is the stacked result returned by Reset/StepWait: one entry
// per slot, ordered by env_id.
type Batch struct {
	Observations []*wire.Array
	Rewards      []float64
	Dones        []bool
	Infos        [][]byte
}

// Controller is the authoritative process described in §2. It owns
// the slot table, the current command nonce, and the per-step frame
// buffer, and exposes the façade contract from §6 to its caller (the
// training loop).
type Controller struct {
	cfg        Config
	instanceID int64
	log        *log.Logger

	slots *slotAllocator
	bcast *broadcaster

	reqSrv *transport.ReqRepServer
	cmdSrv *transport.PubSubServer

	mu           sync.Mutex
	cells        []frameCell
	spaces       map[uint32][]byte // client_id -> cached CONNECT spaces payload
	firstSpaces  []byte            // first worker's spaces payload, returned by Init
	spacesClosed bool              // guards spacesReady against a double close
	closed       bool
	filled       chan struct{} // best-effort wake signal for gatherFrames
	spacesReady  chan struct{} // closed once firstSpaces is set (by a CONNECT or by Close)
}

// New starts a Controller listening on cfg's command and request
// ports. The returned Controller is ready to accept workers but has
// not yet issued a RESET_CLIENT for a prior generation; call
// EvictPriorGeneration for that (§4.2).
func New(cfg Config, logger *log.Logger) (*Controller, error) {
	if cfg.NumEnvironments <= 0 {
		return nil, fmt.Errorf("controller: number_of_environments must be positive, got %d", cfg.NumEnvironments)
	}
	if logger == nil {
		logger = log.Default()
	}
	instanceID, err := idgen.NewInstanceID()
	if err != nil {
		return nil, fmt.Errorf("controller: generating instance_id: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		instanceID:  instanceID,
		log:         logger,
		slots:       newSlotAllocator(cfg.NumEnvironments),
		cells:       make([]frameCell, cfg.NumEnvironments),
		spaces:      make(map[uint32][]byte),
		filled:      make(chan struct{}, 1),
		spacesReady: make(chan struct{}),
	}

	cmdSrv, err := transport.ListenPubSub("tcp", cfg.CommandAddr(), logger, cfg.SocketLinger)
	if err != nil {
		return nil, fmt.Errorf("controller: binding command endpoint: %w", err)
	}
	c.cmdSrv = cmdSrv
	c.bcast = newBroadcaster(cmdSrv)

	reqSrv, err := transport.Listen("tcp", cfg.RequestAddr(), c.handleRequest, logger, cfg.SocketLinger)
	if err != nil {
		cmdSrv.Close()
		return nil, fmt.Errorf("controller: binding request endpoint: %w", err)
	}
	c.reqSrv = reqSrv

	return c, nil
}

// InstanceID returns this controller generation's instance_id.
func (c *Controller) InstanceID() int64 { return c.instanceID }

// markSpacesLocked records spaces as the payload Init will return, the
// first time it's called, and wakes any blocked Init call. spaces is
// nil when Close calls this to unblock Init without ever having seen
// a CONNECT. Must be called with c.mu held.
func (c *Controller) markSpacesLocked(spaces []byte) {
	if c.spacesClosed {
		return
	}
	c.firstSpaces = spaces
	c.spacesClosed = true
	close(c.spacesReady)
}

// Init blocks until the first worker's CONNECT has reported its
// observation/action space descriptors and returns that payload,
// implementing the façade's init() → (observation_space, action_space)
// contract (§6). The payload is opaque to the core (§9 "the only
// numeric encoding the core owns is the Array dtype+shape record"): a
// caller splits it however its environment's Env.Spaces() encoded it.
func (c *Controller) Init(ctx context.Context) ([]byte, error) {
	select {
	case <-c.spacesReady:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstSpaces == nil {
		return nil, ErrClosed
	}
	return c.firstSpaces, nil
}

// Spaces returns the cached CONNECT spaces payload for one specific
// client_id, the low-level counterpart to Init for a caller that wants
// a given worker's descriptor rather than just the first one observed.
func (c *Controller) Spaces(clientID uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	spaces, ok := c.spaces[clientID]
	return spaces, ok
}

// RequestAddr returns the request endpoint's actual bound address,
// useful when Config.RequestPort is 0 (let the OS choose).
func (c *Controller) RequestAddr() string { return c.reqSrv.Addr().String() }

// CommandAddr returns the command endpoint's actual bound address.
func (c *Controller) CommandAddr() string { return c.cmdSrv.Addr().String() }

// Serve runs both endpoints' accept loops until ctx is done or Close
// is called. Intended to run in its own goroutine.
func (c *Controller) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.cmdSrv.Serve(ctx) }()
	go func() { errCh <- c.reqSrv.Serve(ctx) }()
	return <-errCh
}

// EvictPriorGeneration broadcasts RESET_CLIENT(targetInstanceID) so
// workers still attached to a previous controller generation discard
// their state and re-handshake (§4.2, scenario 4).
func (c *Controller) EvictPriorGeneration(targetInstanceID int64) {
	c.bcast.Publish(&wire.WorkerCommand{Kind: wire.CmdResetClient, InstanceID: targetInstanceID})
}

// Reset broadcasts RESET, clears the frame buffer, and blocks for a
// full batch of fresh frames (§4.4).
func (c *Controller) Reset(ctx context.Context) (*Batch, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.bcast.Publish(&wire.WorkerCommand{Kind: wire.CmdReset})
	c.clearCells()
	return c.gatherFrames(ctx)
}

// StepAsync broadcasts STEP(actions) and clears the frame buffer.
// Actions is an opaque blob the controller-facing façade indexes by
// env_id; the core never interprets it (§9).
func (c *Controller) StepAsync(actions []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.bcast.Publish(&wire.WorkerCommand{Kind: wire.CmdStep, Actions: actions})
	c.clearCells()
	return nil
}

// StepWait blocks for the batch issued by the most recent StepAsync
// (§4.4).
func (c *Controller) StepWait(ctx context.Context) (*Batch, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return c.gatherFrames(ctx)
}

// Close broadcasts CLOSE and tears down both endpoints. A second call
// returns ErrClosed and mutates no further state (§8).
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.markSpacesLocked(nil)
	c.mu.Unlock()

	c.bcast.Publish(&wire.WorkerCommand{Kind: wire.CmdClose})
	var firstErr error
	if err := c.cmdSrv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.reqSrv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// clearCells empties the frame buffer ahead of a new round, preserving
// each slot's last observation so a recovery substitution can reuse it
// to keep the vector's shape (§4.4).
func (c *Controller) clearCells() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cells {
		c.cells[i] = frameCell{Observation: c.cells[i].Observation, Filled: false}
	}
}

// gatherFrames is the step coordinator's core loop (§4.4). Requests
// are dispatched concurrently by handleRequest (one goroutine per
// connection); gatherFrames simply waits for every cell to fill,
// running a timeout-driven recovery round when the wall clock expires
// instead of blocking forever on a wedged worker.
func (c *Controller) gatherFrames(ctx context.Context) (*Batch, error) {
	deadline := time.Now().Add(c.cfg.StepTimeout)
	for {
		if c.allFilled() {
			return c.collectBatch(), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.filled:
			continue
		case <-time.After(time.Until(deadline)):
			unregisteredAny := c.recoverTimeoutRound()
			if !unregisteredAny {
				c.bcast.Rebroadcast()
			}
			deadline = time.Now().Add(c.cfg.StepTimeout)
		}
	}
}

func (c *Controller) allFilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cells {
		if !c.cells[i].Filled {
			return false
		}
	}
	return true
}

func (c *Controller) collectBatch() *Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &Batch{
		Observations: make([]*wire.Array, len(c.cells)),
		Rewards:      make([]float64, len(c.cells)),
		Dones:        make([]bool, len(c.cells)),
		Infos:        make([][]byte, len(c.cells)),
	}
	for i, cell := range c.cells {
		b.Observations[i] = cell.Observation
		b.Rewards[i] = cell.Reward
		b.Dones[i] = cell.Done
		b.Infos[i] = cell.Info
	}
	return b
}

// recoverTimeoutRound unregisters every occupied slot that hasn't
// delivered a frame this round and substitutes a synthetic cell
// (previous observation, reward 0, done true) so the gather loop can
// still make progress (§4.4, §7 step-timeout policy). Reports whether
// any slot was unregistered.
func (c *Controller) recoverTimeoutRound() bool {
	any := false
	for _, env := range c.slots.OccupiedEnvs() {
		c.mu.Lock()
		filled := c.cells[env].Filled
		c.mu.Unlock()
		if filled {
			continue
		}
		c.slots.Unregister(env)
		c.mu.Lock()
		c.cells[env] = frameCell{
			Observation: c.cells[env].Observation,
			Reward:      0,
			Done:        true,
			Filled:      true,
		}
		c.mu.Unlock()
		c.log.Printf("controller: step timeout, unregistered env %d", env)
		any = true
	}
	if any {
		c.wakeGather()
	}
	return any
}

// wakeGather nudges a blocked gatherFrames to re-check allFilled
// without waiting out the rest of its poll interval.
func (c *Controller) wakeGather() {
	select {
	case c.filled <- struct{}{}:
	default:
	}
}
