package worker

import "github.com/sneller-labs/vecenv/wire"

// Env is the small capability contract a concrete worker binary plugs
// a simulator into (§9 "duck-typed polymorphism over the environment").
// The core depends only on this interface; it never inspects actions
// or observations beyond the Array envelope.
type Env interface {
	// Spaces returns the opaque observation/action space descriptor
	// sent to the controller on first CONNECT.
	Spaces() []byte
	// Reset starts a new episode and returns its first frame. Reward
	// is conventionally 0 and Done false.
	Reset() (*wire.Frame, error)
	// Step applies action (already sliced to this worker's slot, see
	// ActionSelector) and returns the resulting frame.
	Step(action []byte) (*wire.Frame, error)
	Close() error
}

// Factory instantiates an Env for the name and seed the controller
// reports on INITIALIZE (§4.3 NameResponse).
type Factory func(envName string, seed int64) (Env, error)

// ActionSelector extracts one slot's action from the opaque STEP
// actions blob. The core never interprets the blob itself (§9); a
// worker binary that doesn't need per-slot slicing (e.g. a single
// fixed environment) can leave this nil, in which case the whole blob
// is passed to Env.Step unchanged.
type ActionSelector func(actions []byte, envID uint32) []byte
