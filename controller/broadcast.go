package controller

import (
	"sync"

	"github.com/sneller-labs/vecenv/transport"
	"github.com/sneller-labs/vecenv/wire"
)

// broadcaster owns the command endpoint's single piece of authoritative
// dispatch state: the current nonce and the last command issued (§4.2).
// Every mutation happens under the same lock that protects the fields,
// the same discipline the teacher's tenant manager uses for its live
// registry.
type broadcaster struct {
	mu   sync.Mutex
	next *transport.PubSubServer

	currentNonce int64
	lastCommand  *wire.WorkerCommand
}

func newBroadcaster(srv *transport.PubSubServer) *broadcaster {
	return &broadcaster{next: srv}
}

// Publish stamps cmd with the next nonce, records it as last_command
// (unless it's a WAKE_UP, which is fire-and-forget per §4.2), and
// broadcasts it on the command endpoint.
func (b *broadcaster) Publish(cmd *wire.WorkerCommand) *wire.WorkerCommand {
	b.mu.Lock()
	b.currentNonce++
	cmd.Nonce = b.currentNonce
	if cmd.Kind != wire.CmdWakeUp {
		b.lastCommand = cmd
	}
	b.mu.Unlock()

	var buf wire.Buffer
	cmd.Encode(&buf)
	b.next.Publish(buf.Bytes())
	return cmd
}

// Rebroadcast republishes last_command under a freshly minted nonce.
// This is the controller's only retry path (§4.4): used when a
// gather_frames timeout round could not unregister any slot, meaning
// every worker is still mapped but some missed the original broadcast.
func (b *broadcaster) Rebroadcast() *wire.WorkerCommand {
	b.mu.Lock()
	last := b.lastCommand
	b.mu.Unlock()
	if last == nil {
		return nil
	}
	repeat := &wire.WorkerCommand{Kind: last.Kind, Actions: last.Actions, InstanceID: last.InstanceID}
	return b.Publish(repeat)
}

// CurrentNonce returns the nonce of the most recently published
// command.
func (b *broadcaster) CurrentNonce() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentNonce
}

// LastCommand returns the most recently recorded non-WAKE_UP command,
// used to answer CONNECT with OK_ENCOURAGE for a mid-step joiner
// (§4.3).
func (b *broadcaster) LastCommand() *wire.WorkerCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCommand
}
