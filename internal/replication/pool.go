// Package replication implements the tiered asynchronous replication pool
// of spec.md §4.8: per-object per-target status tracking, SigV4-signed PUTs
// to remote targets, and a most-recently-failed retry tier backed by
// internal/heal's MrfQueue.
//
// Grounded on bucket replication worker pools (fixed-size channel-per-worker
// dispatch, live resize by growing/shrinking the channel set) generalized
// onto a plain target list instead of a bucket-target configuration store.
package replication

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/maxio/maxio/internal/heal"
	"github.com/maxio/maxio/internal/maxioerr"
)

// Status is a single (object, target) replication outcome, spec.md §4.8.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusReplica   Status = "Replica"
)

// Target is one replication destination, config.ReplicationTarget's
// in-process counterpart (plain strings rather than a YAML tag set).
type Target struct {
	ARN       string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Job is one object submitted for replication to every configured target.
type Job struct {
	Bucket    string
	Key       string
	VersionID string
	Body      []byte
}

func (j Job) statusKey() string {
	if j.VersionID == "" {
		return j.Bucket + "/" + j.Key
	}
	return j.Bucket + "/" + j.Key + "/" + j.VersionID
}

// Config is the replication pool's tuning surface, spec.md §4.8.
type Config struct {
	NormalWorkers         int
	LargeWorkers          int
	MrfWorkers            int
	LargeObjectThreshold  int64
	QueueCapacity         int
	MrfQueueCapacity      int
	MrfRetryLimit         int
	MrfPersistenceInterval time.Duration
	MrfPersistenceDir     string
}

// DefaultConfig matches spec.md §4.8's stated defaults.
func DefaultConfig() Config {
	return Config{
		NormalWorkers:          100,
		LargeWorkers:           10,
		MrfWorkers:             4,
		LargeObjectThreshold:   128 << 20,
		QueueCapacity:          4096,
		MrfQueueCapacity:       100_000,
		MrfRetryLimit:          10,
		MrfPersistenceInterval: 30 * time.Second,
	}
}

type tier struct {
	mu      sync.Mutex
	queues  []chan Job
	cancels []context.CancelFunc
	next    int
	cap     int
}

func newTier(workers, capacity int, run func(context.Context, chan Job)) *tier {
	t := &tier{cap: capacity}
	for i := 0; i < workers; i++ {
		t.grow(run)
	}
	return t
}

func (t *tier) grow(run func(context.Context, chan Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	q := make(chan Job, t.cap)
	t.queues = append(t.queues, q)
	t.cancels = append(t.cancels, cancel)
	go run(ctx, q)
}

// shrink pops the last worker, cancelling its context. Any job already
// pulled off its channel and in flight is abandoned, spec.md §4.8: "shrink
// ... aborts their tasks (in-flight jobs on shrunk workers are lost)".
func (t *tier) shrink() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queues) == 0 {
		return
	}
	last := len(t.queues) - 1
	t.cancels[last]()
	t.queues = t.queues[:last]
	t.cancels = t.cancels[:last]
	if t.next >= len(t.queues) && len(t.queues) > 0 {
		t.next = 0
	}
}

func (t *tier) dispatch(j Job) error {
	t.mu.Lock()
	if len(t.queues) == 0 {
		t.mu.Unlock()
		return maxioerr.New(maxioerr.CodeInternal, "replication tier has no workers")
	}
	q := t.queues[t.next%len(t.queues)]
	t.next++
	t.mu.Unlock()

	select {
	case q <- j:
		return nil
	default:
		return maxioerr.New(maxioerr.CodeInternal, "replication queue is full")
	}
}

func (t *tier) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues)
}

// Pool is the process-wide replication engine: normal/large/mrf tiers plus
// the per-object status map spec.md §4.8 names.
type Pool struct {
	log     *zap.Logger
	cfg     Config
	targets []Target
	client  *http.Client

	normal *tier
	large  *tier
	mrf    *heal.MrfQueue

	statusMu sync.Mutex
	status   map[string]map[string]Status

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	retryMu sync.Mutex
	retry   RetryFunc

	throughput gometrics.Registry
}

// New builds a Pool and starts its worker tiers. Targets is the fixed set
// of replication destinations; per-target rate limits, if any, are set
// later via SetRateLimit.
func New(log *zap.Logger, cfg Config, targets []Target) *Pool {
	p := &Pool{
		log:        log,
		cfg:        cfg,
		targets:    targets,
		client:     &http.Client{Timeout: 30 * time.Second},
		status:     map[string]map[string]Status{},
		limiters:   map[string]*rate.Limiter{},
		throughput: gometrics.NewRegistry(),
	}
	if cfg.MrfPersistenceDir != "" {
		p.mrf = heal.NewMrfQueue(cfg.MrfQueueCapacity, cfg.MrfRetryLimit, cfg.MrfPersistenceDir+"/mrf-queue.json")
		_ = p.mrf.Load()
	} else {
		p.mrf = heal.NewMrfQueue(cfg.MrfQueueCapacity, cfg.MrfRetryLimit, "")
	}

	p.normal = newTier(cfg.NormalWorkers, cfg.QueueCapacity, p.runWorker)
	p.large = newTier(cfg.LargeWorkers, cfg.QueueCapacity, p.runWorker)
	for i := 0; i < cfg.MrfWorkers; i++ {
		go p.runMrfWorker()
	}
	return p
}

// SetRateLimit installs a token-bucket limiter for a target ARN, spec.md
// SPEC_FULL §4.8 expansion: "shaping only, never causes a job to be
// dropped -- it only delays dispatch".
func (p *Pool) SetRateLimit(arn string, bytesPerSec float64, burst int) {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	p.limiters[arn] = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func (p *Pool) limiterFor(arn string) *rate.Limiter {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	return p.limiters[arn]
}

func (p *Pool) meterFor(arn string) gometrics.Meter {
	name := "replication.throughput." + arn
	return p.throughput.GetOrRegister(name, gometrics.NewMeter).(gometrics.Meter)
}

// Throughput returns the exponentially-weighted bytes/sec rate recorded for
// a target, spec.md SPEC_FULL §4.8 expansion.
func (p *Pool) Throughput(arn string) float64 {
	return p.meterFor(arn).Rate1()
}

// Submit enqueues j for replication to every configured target, recording
// Pending status for each, spec.md §4.8.
func (p *Pool) Submit(j Job) error {
	key := j.statusKey()
	p.statusMu.Lock()
	m := make(map[string]Status, len(p.targets))
	for _, t := range p.targets {
		m[t.ARN] = StatusPending
	}
	p.status[key] = m
	p.statusMu.Unlock()

	t := p.normal
	if int64(len(j.Body)) >= p.cfg.LargeObjectThreshold {
		t = p.large
	}
	return t.dispatch(j)
}

// OverallStatus implements spec.md §4.8's get_overall_status collapsing
// rule.
func (p *Pool) OverallStatus(bucket, key, versionID string) Status {
	statusKey := bucket + "/" + key
	if versionID != "" {
		statusKey += "/" + versionID
	}
	p.statusMu.Lock()
	m := p.status[statusKey]
	p.statusMu.Unlock()
	if len(m) == 0 {
		return StatusPending
	}
	allDone := true
	for _, s := range m {
		if s == StatusFailed {
			return StatusFailed
		}
		if s != StatusCompleted && s != StatusReplica {
			allDone = false
		}
	}
	if allDone {
		return StatusCompleted
	}
	return StatusPending
}

func (p *Pool) setStatus(key, arn string, s Status) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	m := p.status[key]
	if m == nil {
		m = map[string]Status{}
		p.status[key] = m
	}
	m[arn] = s
}

func (p *Pool) runWorker(ctx context.Context, q chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			p.replicate(ctx, j)
		}
	}
}

// RetryFunc re-reads an object's body so an MRF entry can be retried
// against its single failed target.
type RetryFunc func(bucket, key, versionID string) ([]byte, error)

// SetRetryFunc installs the read-back callback the MRF tier uses to refill
// a Job's body before replaying it, since MrfEntry itself carries no body
// (spec.md §4.7/§4.8).
func (p *Pool) SetRetryFunc(f RetryFunc) {
	p.retryMu.Lock()
	p.retry = f
	p.retryMu.Unlock()
}

func (p *Pool) runMrfWorker() {
	for {
		entry, ok := p.mrf.Dequeue()
		if !ok {
			time.Sleep(time.Second)
			continue
		}
		p.retryMu.Lock()
		retry := p.retry
		p.retryMu.Unlock()
		if retry == nil {
			continue
		}
		body, err := retry(entry.Bucket, entry.Key, entry.VersionID)
		if err != nil {
			p.log.Error("replication: MRF retry read failed", zap.String("bucket", entry.Bucket), zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		key := entry.Bucket + "/" + entry.Key
		if entry.VersionID != "" {
			key += "/" + entry.VersionID
		}
		ctx := context.Background()
		var target *Target
		for i := range p.targets {
			if p.targets[i].ARN == entry.Target {
				target = &p.targets[i]
				break
			}
		}
		if target == nil {
			continue
		}
		j := Job{Bucket: entry.Bucket, Key: entry.Key, VersionID: entry.VersionID, Body: body}
		if err := p.putOne(ctx, *target, j); err != nil {
			p.setStatus(key, target.ARN, StatusFailed)
			if enqueueErr := p.mrf.Enqueue(heal.MrfEntry{Bucket: entry.Bucket, Key: entry.Key, VersionID: entry.VersionID, Target: target.ARN, RetryCount: entry.RetryCount + 1}); enqueueErr != nil {
				p.log.Error("replication: MRF re-enqueue failed", zap.Error(enqueueErr))
			}
			continue
		}
		p.setStatus(key, target.ARN, StatusCompleted)
		p.meterFor(target.ARN).Mark(int64(len(body)))
	}
}

func (p *Pool) replicate(ctx context.Context, j Job) {
	key := j.statusKey()
	for _, t := range p.targets {
		if lim := p.limiterFor(t.ARN); lim != nil {
			_ = lim.WaitN(ctx, len(j.Body))
		}
		err := p.putOne(ctx, t, j)
		if err != nil {
			p.setStatus(key, t.ARN, StatusFailed)
			p.log.Error("replication: put failed", zap.String("target", t.ARN), zap.String("bucket", j.Bucket), zap.String("key", j.Key), zap.Error(err))
			enqueueErr := p.mrf.Enqueue(heal.MrfEntry{Bucket: j.Bucket, Key: j.Key, VersionID: j.VersionID, Target: t.ARN, RetryCount: 1})
			if enqueueErr != nil {
				p.log.Error("replication: MRF enqueue failed", zap.Error(enqueueErr))
			}
			continue
		}
		p.setStatus(key, t.ARN, StatusCompleted)
		p.meterFor(t.ARN).Mark(int64(len(j.Body)))
	}
}

func (p *Pool) putOne(ctx context.Context, t Target, j Job) error {
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "parse replication endpoint %s", t.Endpoint)
	}
	u.Path = fmt.Sprintf("/%s/%s", t.Bucket, j.Key)
	if j.VersionID != "" {
		u.RawQuery = "versionId=" + j.VersionID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(j.Body))
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "build replication request")
	}
	req.Host = u.Host
	signV4(req, t.AccessKey, t.SecretKey, t.Region, j.Body)

	resp, err := p.client.Do(req)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "replication PUT to %s", t.ARN)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return maxioerr.New(maxioerr.CodeInternal, "replication PUT to %s: status %d", t.ARN, resp.StatusCode)
	}
	return nil
}

// Resize implements spec.md §4.8's live resize: delta > 0 grows the named
// tier by that many workers, delta < 0 shrinks it, aborting in-flight jobs
// on the removed workers.
func (p *Pool) Resize(tierName string, delta int) error {
	var t *tier
	switch tierName {
	case "normal":
		t = p.normal
	case "large":
		t = p.large
	default:
		return maxioerr.New(maxioerr.CodeInvalidArgument, "unknown replication tier %q", tierName)
	}
	if delta > 0 {
		for i := 0; i < delta; i++ {
			t.grow(p.runWorker)
		}
		return nil
	}
	for i := 0; i < -delta; i++ {
		t.shrink()
	}
	return nil
}

// TierSize reports a tier's current worker count, for observability.
func (p *Pool) TierSize(tierName string) int {
	switch tierName {
	case "normal":
		return p.normal.size()
	case "large":
		return p.large.size()
	}
	return 0
}

// PersistMrf snapshots the MRF queue to disk. The pool does not call it on
// a timer; Config.MrfPersistenceInterval is not read anywhere.
func (p *Pool) PersistMrf() error {
	return p.mrf.Persist()
}
