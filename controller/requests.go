package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sneller-labs/vecenv/wire"
)

var errUnknownRequest = errors.New("controller: unknown request kind")

// handleRequest decodes one MasterRequest, dispatches it per §4.3, and
// returns the encoded MasterResponse. It is the RequestHandler bound
// to the request endpoint's transport.ReqRepServer.
func (c *Controller) handleRequest(_ context.Context, payload []byte) ([]byte, error) {
	req, err := wire.DecodeMasterRequest(wire.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("controller: decoding request: %w", err)
	}

	if req.Command != wire.ReqInitialize && req.InstanceID != c.instanceID {
		return encodeResponse(&wire.MasterResponse{Kind: wire.RespError}), nil
	}

	switch req.Command {
	case wire.ReqInitialize:
		return encodeResponse(c.handleInitialize()), nil
	case wire.ReqConnect:
		return encodeResponse(c.handleConnect(req.ClientID, req.ConnectSpaces)), nil
	case wire.ReqFrame:
		return encodeResponse(c.handleFrame(req.ClientID, req.Frame)), nil
	case wire.ReqHeartbeat:
		return encodeResponse(&wire.MasterResponse{Kind: wire.RespOK}), nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownRequest, req.Command)
	}
}

func encodeResponse(resp *wire.MasterResponse) []byte {
	var buf wire.Buffer
	resp.Encode(&buf)
	return buf.Bytes()
}

// handleInitialize mints a client_id and returns the controller's
// identity; no slot is bound yet (§4.3 INITIALIZE).
func (c *Controller) handleInitialize() *wire.MasterResponse {
	clientID := c.slots.NextClientID()
	return &wire.MasterResponse{
		Kind: wire.RespOK,
		Name: &wire.NameResponse{
			EnvName:           c.cfg.EnvironmentName,
			Seed:              c.cfg.Seed,
			ServerVersion:     c.cfg.ServerVersion,
			ClientID:          clientID,
			InstanceID:        c.instanceID,
			ResetCompensation: c.cfg.ResetCompensation,
		},
	}
}

// handleConnect allocates a slot for clientID, caching spaces on first
// call, per §4.3 CONNECT.
func (c *Controller) handleConnect(clientID uint32, spaces []byte) *wire.MasterResponse {
	if spaces != nil {
		c.mu.Lock()
		if _, cached := c.spaces[clientID]; !cached {
			c.spaces[clientID] = spaces
		}
		c.markSpacesLocked(spaces)
		c.mu.Unlock()
	}

	envID, err := c.slots.Allocate(clientID)
	if err != nil {
		if errors.Is(err, ErrSlotsFull) {
			return &wire.MasterResponse{Kind: wire.RespWait}
		}
		c.log.Printf("controller: CONNECT(%d) failed: %v", clientID, err)
		return &wire.MasterResponse{Kind: wire.RespError}
	}

	if last := c.bcast.LastCommand(); last != nil {
		return &wire.MasterResponse{
			Kind: wire.RespOKEncourage,
			Connect: &wire.ConnectResponse{
				EnvironmentID: envID,
				LastCommand:   last,
			},
		}
	}
	return &wire.MasterResponse{
		Kind:    wire.RespOK,
		Connect: &wire.ConnectResponse{EnvironmentID: envID},
	}
}

// handleFrame accepts a worker's frame into the buffer per §4.3 FRAME.
func (c *Controller) handleFrame(clientID uint32, frame *wire.Frame) *wire.MasterResponse {
	envID, held := c.slots.EnvOf(clientID)
	if !held {
		return &wire.MasterResponse{Kind: wire.RespError}
	}
	if frame == nil {
		return &wire.MasterResponse{Kind: wire.RespError}
	}
	if frame.Nonce != c.bcast.CurrentNonce() {
		return &wire.MasterResponse{Kind: wire.RespSoftError}
	}

	c.mu.Lock()
	alreadyFilled := c.cells[envID].Filled
	if !alreadyFilled {
		c.cells[envID] = frameCell{
			Observation: frame.Observation,
			Reward:      frame.Reward,
			Done:        frame.Done,
			Info:        frame.Info,
			Filled:      true,
		}
	}
	c.mu.Unlock()
	if alreadyFilled {
		// Invariant #2 (§3): a later frame for an already-filled slot
		// at the same nonce is a soft error, not an overwrite.
		return &wire.MasterResponse{Kind: wire.RespSoftError}
	}
	c.wakeGather()

	if frame.Done && c.cfg.ResetCompensation {
		c.slots.Unregister(envID)
		c.bcast.Publish(&wire.WorkerCommand{Kind: wire.CmdWakeUp})
		return &wire.MasterResponse{Kind: wire.RespReset}
	}
	return &wire.MasterResponse{Kind: wire.RespOK}
}
