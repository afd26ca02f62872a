package grid

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RequestTimeout bounds a single MuxClient.Request call, spec.md §4.6.
const RequestTimeout = 20 * time.Second

// muxTable tracks in-flight requests for one Connection, keyed by mux_id,
// so response frames read off the socket can be routed back to the
// goroutine awaiting them.
type muxTable struct {
	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]chan Frame
}

func newMuxTable() *muxTable {
	return &muxTable{pending: map[uint32]chan Frame{}}
}

func (t *muxTable) alloc() (uint32, chan Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	ch := make(chan Frame, 4)
	t.pending[id] = ch
	return id, ch
}

func (t *muxTable) forget(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

func (t *muxTable) deliver(f Frame) {
	t.mu.Lock()
	ch, ok := t.pending[f.MuxID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (t *muxTable) failAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = map[uint32]chan Frame{}
	t.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// MuxClient issues request/response and streaming RPCs over one
// Connection, spec.md §4.6.
type MuxClient struct {
	conn *Connection
}

// NewMuxClient wraps conn for request dispatch.
func NewMuxClient(conn *Connection) *MuxClient {
	return &MuxClient{conn: conn}
}

// Request sends a single request frame and waits for exactly one response
// frame, failing with a RequestTimeout error if none arrives within
// RequestTimeout or the underlying session drops mid-flight.
func (c *MuxClient) Request(ctx context.Context, handler HandlerID, payload []byte, flags Flags) ([]byte, error) {
	id, ch := c.conn.mux.alloc()
	defer c.conn.mux.forget(id)

	req := Frame{MuxID: id, Handler: handler, Op: OpRequest, Flags: flags, Payload: payload}
	if err := c.conn.sendFrame(req); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	select {
	case <-reqCtx.Done():
		return nil, fmt.Errorf("grid: RequestTimeout: mux=%d handler=%s", id, handler)
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("grid: session closed while awaiting mux=%d handler=%s", id, handler)
		}
		return resp.Payload, nil
	}
}

// Stream represents one open streaming RPC: a sequence of response frames
// terminated by a zero-payload frame carrying FlagEOF, spec.md §4.6.
type Stream struct {
	muxID uint32
	ch    chan Frame
	forget func()
}

// Recv blocks for the next chunk. ok is false once the stream has reached
// EOF or the session dropped.
func (s *Stream) Recv(ctx context.Context) (payload []byte, ok bool, err error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case f, open := <-s.ch:
		if !open {
			return nil, false, fmt.Errorf("grid: session closed mid-stream mux=%d", s.muxID)
		}
		if f.Flags.Has(FlagEOF) {
			s.forget()
			return nil, false, nil
		}
		return f.Payload, true, nil
	}
}

// OpenStream sends a streaming request and returns a handle to read its
// response frames as they arrive.
func (c *MuxClient) OpenStream(ctx context.Context, handler HandlerID, payload []byte, flags Flags) (*Stream, error) {
	id, ch := c.conn.mux.alloc()
	req := Frame{MuxID: id, Handler: handler, Op: OpRequest, Flags: flags, Payload: payload}
	if err := c.conn.sendFrame(req); err != nil {
		c.conn.mux.forget(id)
		return nil, err
	}
	return &Stream{muxID: id, ch: ch, forget: func() { c.conn.mux.forget(id) }}, nil
}

// HandlerFunc answers a single-response RPC.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// StreamHandlerFunc answers a streaming RPC, calling send for each chunk;
// the server emits the terminating EOF frame once it returns.
type StreamHandlerFunc func(ctx context.Context, payload []byte, send func([]byte) error) error

// MuxServer dispatches incoming request frames to registered handlers,
// including subroute dispatch for handlers that multiplex several RPCs
// behind one HandlerID (FlagSubroute, spec.md §4.6).
type MuxServer struct {
	mu             sync.RWMutex
	handlers       map[HandlerID]HandlerFunc
	streamHandlers map[HandlerID]StreamHandlerFunc
	subroutes      map[string]HandlerFunc

	inflight int64
}

// NewMuxServer builds an empty dispatch table.
func NewMuxServer() *MuxServer {
	return &MuxServer{
		handlers:       map[HandlerID]HandlerFunc{},
		streamHandlers: map[HandlerID]StreamHandlerFunc{},
		subroutes:      map[string]HandlerFunc{},
	}
}

// Handle registers a single-response handler for id.
func (s *MuxServer) Handle(id HandlerID, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = fn
}

// HandleStream registers a streaming handler for id.
func (s *MuxServer) HandleStream(id HandlerID, fn StreamHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamHandlers[id] = fn
}

// HandleSubroute registers a single-response handler addressed by a named
// route carried in the FlagSubroute payload envelope rather than a
// dedicated HandlerID.
func (s *MuxServer) HandleSubroute(route string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subroutes[route] = fn
}

// Inflight reports the number of requests currently being served.
func (s *MuxServer) Inflight() int64 { return atomic.LoadInt64(&s.inflight) }

// Dispatch handles one incoming OpRequest frame, invoking the matching
// handler and writing the response (or stream of responses) back via
// respond.
func (s *MuxServer) Dispatch(ctx context.Context, req Frame, respond func(Frame) error) {
	atomic.AddInt64(&s.inflight, 1)
	defer atomic.AddInt64(&s.inflight, -1)

	payload := req.Payload
	handler := req.Handler

	if req.Flags.Has(FlagSubroute) {
		route, body, err := DecodeSubroutePayload(payload)
		if err != nil {
			respond(errorResponse(req, err))
			return
		}
		s.mu.RLock()
		fn, ok := s.subroutes[route]
		s.mu.RUnlock()
		if !ok {
			respond(errorResponse(req, fmt.Errorf("grid: no subroute handler for %q", route)))
			return
		}
		out, err := fn(ctx, body)
		if err != nil {
			respond(errorResponse(req, err))
			return
		}
		respond(Frame{MuxID: req.MuxID, Op: OpResponse, Handler: handler, Payload: out})
		return
	}

	s.mu.RLock()
	streamFn, isStream := s.streamHandlers[handler]
	singleFn, isSingle := s.handlers[handler]
	s.mu.RUnlock()

	switch {
	case isStream:
		err := streamFn(ctx, payload, func(chunk []byte) error {
			return respond(Frame{MuxID: req.MuxID, Op: OpResponse, Handler: handler, Payload: chunk})
		})
		if err != nil {
			respond(errorResponse(req, err))
			return
		}
		respond(Frame{MuxID: req.MuxID, Op: OpResponse, Handler: handler, Flags: FlagEOF})
	case isSingle:
		out, err := singleFn(ctx, payload)
		if err != nil {
			respond(errorResponse(req, err))
			return
		}
		respond(Frame{MuxID: req.MuxID, Op: OpResponse, Handler: handler, Payload: out})
	default:
		respond(errorResponse(req, fmt.Errorf("grid: no handler registered for %s", handler)))
	}
}

func errorResponse(req Frame, err error) Frame {
	return Frame{
		MuxID:   req.MuxID,
		Op:      OpResponse,
		Handler: req.Handler,
		Flags:   FlagEOF,
		Payload: []byte(err.Error()),
	}
}
