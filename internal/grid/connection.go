package grid

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

// State is the Connection state machine, spec.md §4.6.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "Unconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

const (
	initialBackoff  = 1 * time.Second
	maxBackoff      = 30 * time.Second
	keepAliveTick   = 10 * time.Second
	keepAliveExpiry = 20 * time.Second
)

// ErrKeepaliveTimeout is handed to the mux table's failAll whenever a session
// ends; failAll closes every pending request channel without passing the
// error on. The keepalive watchdog ends a session when no Pong has arrived
// within keepAliveExpiry of the last one, spec.md §4.6.
var ErrKeepaliveTimeout = &timeoutError{"grid: keepalive timeout"}

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }

// Connection is one persistent, reconnecting session to a peer endpoint.
type Connection struct {
	Addr string
	log  *zap.Logger

	mu          sync.Mutex
	state       State
	conn        net.Conn
	lastPong    time.Time
	mux         *muxTable
	dialTimeout time.Duration
	server      *MuxServer
}

// SetServer attaches a MuxServer that handles inbound OpRequest frames on
// this connection -- the grid transport is bidirectional, so the same
// session that carries our outbound RPCs also carries the peer's, spec.md
// §4.6.
func (c *Connection) SetServer(s *MuxServer) {
	c.mu.Lock()
	c.server = s
	c.mu.Unlock()
}

// newServerSide wraps an already-upgraded inbound socket (from Listener)
// as a Connection in the Connected state, skipping the dial/backoff loop
// client sessions use.
func newServerSide(addr string, conn net.Conn, log *zap.Logger, server *MuxServer) *Connection {
	return &Connection{
		Addr:   addr,
		log:    log,
		state:  StateConnected,
		mux:    newMuxTable(),
		conn:   conn,
		server: server,
	}
}

// ServeInbound runs the read/keepalive loop for a server-accepted socket
// until it closes or ctx is cancelled.
func (c *Connection) ServeInbound(ctx context.Context) {
	c.mu.Lock()
	c.lastPong = time.Now()
	conn := c.conn
	c.mu.Unlock()
	c.serve(ctx, conn)
	c.setState(StateUnconnected)
	c.mux.failAll(ErrKeepaliveTimeout)
}

// NewConnection builds a Connection in the Unconnected state; call Run to
// drive its reconnect loop.
func NewConnection(addr string, log *zap.Logger) *Connection {
	return &Connection{
		Addr:        addr,
		log:         log,
		state:       StateUnconnected,
		mux:         newMuxTable(),
		dialTimeout: 10 * time.Second,
	}
}

// State reports the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the reconnect loop with exponential backoff until ctx is
// cancelled: Unconnected -> Connecting -> (Connected | Error) ->
// Unconnected -> ...
func (c *Connection) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("grid dial failed", zap.String("addr", c.Addr), zap.Error(err))
			c.setState(StateError)
			c.mux.failAll(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.setState(StateUnconnected)
			continue
		}

		backoff = initialBackoff
		c.mu.Lock()
		c.conn = conn
		c.lastPong = time.Now()
		c.mu.Unlock()
		c.setState(StateConnected)

		c.sendFrame(Frame{Op: OpConnect, Flags: FlagStateless})
		c.serve(ctx, conn)

		c.setState(StateUnconnected)
		c.mux.failAll(ErrKeepaliveTimeout)
	}
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, _, err := ws.Dial(dialCtx, "ws://"+c.Addr+"/maxio/grid")
	return conn, err
}

// serve reads frames until the connection breaks or a keepalive timeout
// fires, running the Ping/Pong watchdog concurrently.
func (c *Connection) serve(ctx context.Context, conn net.Conn) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.keepAlive(serveCtx, conn)

	for {
		msg, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			return
		}
		frame, err := Unmarshal(msg)
		if err != nil {
			c.log.Warn("grid: dropping malformed frame", zap.Error(err))
			continue
		}
		switch frame.Op {
		case OpPong:
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
		case OpPing:
			c.writeFrame(conn, Frame{Op: OpPong})
		case OpResponse:
			c.mux.deliver(frame)
		case OpRequest:
			c.mu.Lock()
			srv := c.server
			c.mu.Unlock()
			if srv == nil {
				continue
			}
			go srv.Dispatch(ctx, frame, func(resp Frame) error {
				return c.writeFrame(conn, resp)
			})
		}
	}
}

func (c *Connection) keepAlive(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(keepAliveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			sincePong := time.Since(c.lastPong)
			c.mu.Unlock()
			if sincePong > keepAliveExpiry {
				c.log.Warn("grid: keepalive expired, closing connection", zap.String("addr", c.Addr))
				conn.Close()
				return
			}
			if err := c.writeFrame(conn, Frame{Op: OpPing}); err != nil {
				return
			}
		}
	}
}

func (c *Connection) sendFrame(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &timeoutError{"grid: not connected"}
	}
	return c.writeFrame(conn, f)
}

func (c *Connection) writeFrame(conn net.Conn, f Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	return wsutil.WriteClientBinary(conn, b)
}
