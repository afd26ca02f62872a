package grid

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

// Listener accepts inbound grid sessions over plain HTTP-upgraded
// WebSocket connections, spec.md §4.6. It is mounted on the node's grid
// path; the S3/admin HTTP surfaces described in spec.md §1 are separate,
// out-of-scope collaborators.
type Listener struct {
	log    *zap.Logger
	server *MuxServer

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewListener builds a Listener dispatching inbound requests to server.
func NewListener(log *zap.Logger, server *MuxServer) *Listener {
	return &Listener{log: log, server: server, conns: map[*Connection]struct{}{}}
}

// ServeHTTP implements http.Handler, upgrading the request to a grid
// session and running it until the peer disconnects or the request
// context is cancelled.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		l.log.Warn("grid: upgrade failed", zap.Error(err))
		return
	}
	l.serve(r.Context(), r.RemoteAddr, conn)
}

func (l *Listener) serve(ctx context.Context, addr string, conn net.Conn) {
	sess := newServerSide(addr, conn, l.log, l.server)
	l.mu.Lock()
	l.conns[sess] = struct{}{}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.conns, sess)
		l.mu.Unlock()
		conn.Close()
	}()
	sess.ServeInbound(ctx)
}

// Connections reports the number of live inbound sessions.
func (l *Listener) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}
