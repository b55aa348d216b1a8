// Package transport implements the two socket kinds the coordination
// fabric is built on: a request endpoint (one reply per request,
// lock-step) and a command endpoint (fan-out publish, best-effort
// delivery to every connected subscriber). See SPEC_FULL.md §0.
package transport

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sneller-labs/vecenv/wire"
)

// ErrClosed is returned by ReqRepServer.Serve once Close has been
// called.
var ErrClosed = errors.New("transport: closed")

// applyLinger sets SO_LINGER on conn if it's a TCP connection and
// linger is positive, so a controller or worker shutdown (§6
// socket_linger_seconds) gets a bounded window to flush a final
// in-flight reply/frame instead of either blocking forever or
// resetting the connection outright.
func applyLinger(conn net.Conn, linger time.Duration) {
	if linger <= 0 {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetLinger(int(linger.Seconds()))
	}
}

// RequestHandler answers one decoded request with exactly one reply
// payload, or an error to drop the connection.
type RequestHandler func(ctx context.Context, payload []byte) ([]byte, error)

// ReqRepServer is the controller's bound request endpoint: every worker
// dials in, sends one MasterRequest, and blocks for the matching
// MasterResponse before sending its next request (§4.3).
type ReqRepServer struct {
	ln      net.Listener
	handle  RequestHandler
	log     *log.Logger
	linger  time.Duration
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Listen binds addr and returns a server that will invoke handle once
// per request frame received on any accepted connection. Reuse of a
// just-vacated port (controller restart) is enabled the same way the
// teacher's worker listener does it: SO_REUSEADDR set before bind.
// linger is applied to every accepted connection via SetLinger (0:
// leave the OS default in place).
func Listen(network, addr string, handle RequestHandler, logger *log.Logger, linger time.Duration) (*ReqRepServer, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReqRepServer{ln: ln, handle: handle, log: logger, linger: linger}, nil
}

// Addr returns the bound local address.
func (s *ReqRepServer) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Close is called or ctx is done.
func (s *ReqRepServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			s.closeMu.Lock()
			closed := s.closed
			s.closeMu.Unlock()
			if closed {
				return ErrClosed
			}
			return err
		}
		applyLinger(conn, s.linger)
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *ReqRepServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	fr := wire.NewFrameReader(conn)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			return
		}
		reply, err := s.handle(ctx, payload)
		if err != nil {
			s.log.Printf("transport: request handler error from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if err := wire.WriteFrame(conn, reply); err != nil {
			s.log.Printf("transport: reply write error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Close stops accepting new connections. Connections already being
// served are allowed to finish their current request/reply.
func (s *ReqRepServer) Close() error {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	return s.ln.Close()
}

// ReqRepClient is a worker's single long-lived connection to the
// controller's request endpoint.
type ReqRepClient struct {
	conn net.Conn
	fr   *wire.FrameReader
}

// Dial opens a request-endpoint connection. linger is applied to the
// connection via SetLinger (0: leave the OS default in place).
func Dial(network, addr string, linger time.Duration) (*ReqRepClient, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	applyLinger(conn, linger)
	return &ReqRepClient{conn: conn, fr: wire.NewFrameReader(conn)}, nil
}

// Call sends one request frame and blocks for the matching reply
// frame. The request endpoint is strictly lock-step, so Call must
// never be invoked concurrently from two goroutines sharing the same
// client.
func (c *ReqRepClient) Call(payload []byte) ([]byte, error) {
	if err := wire.WriteFrame(c.conn, payload); err != nil {
		return nil, err
	}
	return c.fr.ReadFrame()
}

// CallTimeout is Call bounded by a wall-clock deadline, the worker's
// poll primitive on the request endpoint (§5 "Suspension points").
func (c *ReqRepClient) CallTimeout(payload []byte, timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetDeadline(time.Time{})
	return c.Call(payload)
}

func (c *ReqRepClient) Close() error {
	return c.conn.Close()
}
