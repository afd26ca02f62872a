// Package discovery implements the cluster peer tracker of SPEC_FULL.md
// §4.11: a fixed, operator-supplied set of nodes classified online/offline
// by periodic grid pings, consumed by dsync (which lockers to dial), grid
// (which connections to keep warm) and replication (which targets are
// reachable).
//
// Grounded on the admin heartbeat / peer health loop pattern, generalized
// from a full membership+admin RPC surface onto a plain reachability
// tracker backed by this module's own grid transport.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/miekg/dns"
	"github.com/minio/dnscache"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/grid"
)

// PeerState is a node's classified reachability, SPEC_FULL.md §4.11.
type PeerState int

const (
	StateUnknown PeerState = iota
	StateOnline
	StateOffline
)

func (s PeerState) String() string {
	switch s {
	case StateOnline:
		return "Online"
	case StateOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// NodeConfig is one cluster peer, addressed by the grid transport.
type NodeConfig struct {
	ID   string
	Addr string
}

// Config tunes the tracker's check cadence, SPEC_FULL.md §4.11.
type Config struct {
	HealthCheckInterval   time.Duration
	ClockSkewCheckInterval time.Duration
	FailureThreshold      int
	ClockSkewThreshold    time.Duration
	NTPServer             string
	DiskRoot              string
}

// DefaultConfig matches SPEC_FULL.md §4.11's stated defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:    5 * time.Second,
		ClockSkewCheckInterval: 5 * time.Minute,
		FailureThreshold:       3,
		ClockSkewThreshold:     5 * time.Second,
		NTPServer:              "pool.ntp.org",
	}
}

type peer struct {
	node       NodeConfig
	state      PeerState
	failures   int
	conn       *grid.Connection
	connCancel context.CancelFunc
}

// Tracker maintains the online/offline/unknown classification for a fixed
// peer set.
type Tracker struct {
	log      *zap.Logger
	cfg      Config
	resolver *dnscache.Resolver

	mu    sync.RWMutex
	peers map[string]*peer
}

// New builds a Tracker for the given peers. Every peer starts Unknown;
// call Run to begin the health-check loop.
func New(log *zap.Logger, cfg Config, nodes []NodeConfig) *Tracker {
	t := &Tracker{
		log:      log,
		cfg:      cfg,
		resolver: dnscache.New(cfg.HealthCheckInterval),
		peers:    map[string]*peer{},
	}
	for _, n := range nodes {
		t.peers[n.ID] = &peer{node: n, state: StateUnknown}
	}
	return t
}

// Run drives the health-check and clock-skew loops until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	healthTicker := time.NewTicker(t.cfg.HealthCheckInterval)
	defer healthTicker.Stop()
	var skewTicker *time.Ticker
	if t.cfg.ClockSkewCheckInterval > 0 {
		skewTicker = time.NewTicker(t.cfg.ClockSkewCheckInterval)
		defer skewTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			t.stopAll()
			return
		case <-healthTicker.C:
			t.checkAll(ctx)
		case <-tickerC(skewTicker):
			t.checkClockSkew()
		}
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (t *Tracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.peers {
		if p.connCancel != nil {
			p.connCancel()
		}
	}
}

func (t *Tracker) checkAll(ctx context.Context) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		t.checkOne(ctx, id)
	}
	t.sampleHostHealth()
}

func (t *Tracker) checkOne(ctx context.Context, id string) {
	t.mu.Lock()
	p, ok := t.peers[id]
	t.mu.Unlock()
	if !ok {
		return
	}

	host, _, err := net.SplitHostPort(p.node.Addr)
	if err != nil {
		host = p.node.Addr
	}
	if _, err := t.resolver.Fetch(host); err != nil {
		t.recordFailure(p)
		return
	}
	probeDNS(host)

	t.mu.Lock()
	if p.conn == nil {
		connCtx, cancel := context.WithCancel(context.Background())
		p.conn = grid.NewConnection(p.node.Addr, t.log)
		p.connCancel = cancel
		go p.conn.Run(connCtx)
	}
	conn := p.conn
	t.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, t.cfg.HealthCheckInterval)
	defer cancel()
	client := grid.NewMuxClient(conn)
	if _, err := client.Request(pingCtx, grid.HandlerPing, nil, 0); err != nil {
		t.recordFailure(p)
		return
	}
	t.recordSuccess(p)
}

// probeDNS performs a direct A-record lookup against the host's resolver,
// independent of dnscache's own cache, so a DNS-layer outage is visible
// even when the cache still holds a stale but valid entry. Best-effort:
// its result is not (yet) folded into peer classification.
func probeDNS(host string) {
	if net.ParseIP(host) != nil {
		return
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := new(dns.Client)
	c.Timeout = 2 * time.Second
	_, _, _ = c.Exchange(m, "127.0.0.1:53")
}

func (t *Tracker) recordFailure(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.failures++
	if p.failures >= t.cfg.FailureThreshold && p.state != StateOffline {
		p.state = StateOffline
		t.log.Info("discovery: peer marked offline", zap.String("peer", p.node.ID), zap.Int("failures", p.failures))
	}
}

func (t *Tracker) recordSuccess(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.failures = 0
	if p.state != StateOnline {
		p.state = StateOnline
		t.log.Info("discovery: peer marked online", zap.String("peer", p.node.ID))
	}
}

// checkClockSkew cross-checks the local clock against an NTP source, per
// SPEC_FULL.md §4.11: logs but never fails, since dsync lease timing only
// assumes roughly synchronized clocks.
func (t *Tracker) checkClockSkew() {
	remote, err := ntp.Time(t.cfg.NTPServer)
	if err != nil {
		t.log.Error("discovery: NTP query failed", zap.String("server", t.cfg.NTPServer), zap.Error(err))
		return
	}
	skew := time.Since(remote)
	if skew < 0 {
		skew = -skew
	}
	if skew > t.cfg.ClockSkewThreshold {
		t.log.Error("discovery: clock skew exceeds threshold", zap.Duration("skew", skew), zap.Duration("threshold", t.cfg.ClockSkewThreshold))
	}
}

// sampleHostHealth records local disk free space and load average for the
// metrics surface, SPEC_FULL.md §4.11.
func (t *Tracker) sampleHostHealth() {
	if t.cfg.DiskRoot != "" {
		if usage, err := disk.Usage(t.cfg.DiskRoot); err != nil {
			t.log.Error("discovery: disk usage sample failed", zap.Error(err))
		} else {
			t.log.Debug("discovery: disk usage", zap.Float64("used_percent", usage.UsedPercent), zap.Uint64("free_bytes", usage.Free))
		}
	}
	if avg, err := load.Avg(); err != nil {
		t.log.Debug("discovery: load average unavailable", zap.Error(err))
	} else {
		t.log.Debug("discovery: load average", zap.Float64("load1", avg.Load1))
	}
}

// OnlinePeers returns a snapshot of every peer currently classified
// Online, safe to call concurrently with Run.
func (t *Tracker) OnlinePeers() []NodeConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeConfig, 0, len(t.peers))
	for _, p := range t.peers {
		if p.state == StateOnline {
			out = append(out, p.node)
		}
	}
	return out
}

// PeerState reports one peer's current classification.
func (t *Tracker) PeerState(id string) PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return StateUnknown
	}
	return p.state
}
