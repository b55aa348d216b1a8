package transport

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sneller-labs/vecenv/wire"
)

// PubSubServer is the controller's bound command endpoint: workers
// connect and are handed every subsequent broadcast, best-effort,
// until they disconnect (§4.2). Unlike the request endpoint this is a
// pure fan-out — a slow or wedged subscriber is dropped rather than
// allowed to back-pressure the broadcaster.
type PubSubServer struct {
	ln     net.Listener
	log    *log.Logger
	linger time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn net.Conn
	// outbox is buffered so Publish never blocks on a slow reader;
	// once full, the subscriber is dropped rather than stalling the
	// whole broadcast the way an unbuffered channel would.
	outbox chan []byte
}

const subscriberOutboxSize = 8

// ListenPubSub binds addr for the command endpoint. linger is applied
// to every accepted subscriber connection via SetLinger (0: leave the
// OS default in place).
func ListenPubSub(network, addr string, logger *log.Logger, linger time.Duration) (*PubSubServer, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PubSubServer{ln: ln, log: logger, linger: linger, subs: make(map[*subscriber]struct{})}, nil
}

func (s *PubSubServer) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts subscriber connections until Close is called or ctx is
// done.
func (s *PubSubServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		applyLinger(conn, s.linger)
		sub := &subscriber{conn: conn, outbox: make(chan []byte, subscriberOutboxSize)}
		s.mu.Lock()
		s.subs[sub] = struct{}{}
		s.mu.Unlock()
		go s.writeLoop(sub)
	}
}

func (s *PubSubServer) writeLoop(sub *subscriber) {
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.conn.Close()
	}()
	for payload := range sub.outbox {
		if err := wire.WriteFrame(sub.conn, payload); err != nil {
			return
		}
	}
}

// Publish fans payload out to every currently connected subscriber.
// Delivery is best-effort: a subscriber whose outbox is full is
// dropped immediately rather than slowing the broadcast for everyone
// else (§4.2's "best-effort delivery" — a worker that misses a
// broadcast recovers via the next one, or via gather_frames recovery).
func (s *PubSubServer) Publish(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.outbox <- payload:
		default:
			s.log.Printf("transport: dropping slow command subscriber %s", sub.conn.RemoteAddr())
			delete(s.subs, sub)
			close(sub.outbox)
		}
	}
}

// Close stops accepting subscribers and disconnects every current one.
func (s *PubSubServer) Close() error {
	s.mu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.outbox)
	}
	s.mu.Unlock()
	return s.ln.Close()
}

// PubSubClient is a worker's subscription to the command endpoint.
type PubSubClient struct {
	conn net.Conn
	fr   *wire.FrameReader
}

// DialPubSub connects to a command endpoint. linger is applied to the
// connection via SetLinger (0: leave the OS default in place).
func DialPubSub(network, addr string, linger time.Duration) (*PubSubClient, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	applyLinger(conn, linger)
	return &PubSubClient{conn: conn, fr: wire.NewFrameReader(conn)}, nil
}

// Recv blocks for the next broadcast command payload.
func (c *PubSubClient) Recv() ([]byte, error) {
	return c.fr.ReadFrame()
}

// RecvTimeout blocks for the next broadcast command payload for at
// most timeout, the worker's poll primitive on the command endpoint
// (§5 "Suspension points"). A net.Error satisfying Timeout() is
// returned verbatim so callers can distinguish a poll miss from a
// dead connection.
func (c *PubSubClient) RecvTimeout(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	return c.fr.ReadFrame()
}

func (c *PubSubClient) Close() error {
	return c.conn.Close()
}
