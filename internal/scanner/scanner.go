// Package scanner implements the background scanning cycle of spec.md
// §4.9: a single elected leader walks every bucket, diffs a per-object
// cache to find what changed, samples objects for integrity verification
// in deep-scan mode, and marks each changed object with whether the
// lifecycle evaluator finds it actionable. The scanner does not run
// expiration itself and does not pass its items to any other component.
//
// Grounded on the data-usage-cache/crawler (cache rotation, per-object
// cache keys, compaction of long-tail branches) generalized from a global
// crawler state onto a single ObjectLayer.
package scanner

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/lifecycle"
	"github.com/maxio/maxio/internal/maxioerr"
	"github.com/maxio/maxio/internal/objectlayer"
	"github.com/maxio/maxio/internal/xlstorage"
)

var scanJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	leaderLockFile = ".scanner-leader.lock"
	stateFile      = ".scanner-state.json"

	// gzipThreshold is the plain-vs-gzip cutover for a partial snapshot,
	// SPEC_FULL.md §4.9's expansion of cache persistence.
	gzipThreshold = 64 * 1024

	// compactBranchThreshold is spec.md §4.9 step 7's "fewer than 500
	// items" collapse threshold.
	compactBranchThreshold = 500
)

// CacheEntry is one object's cached fingerprint, spec.md §4.9 step 6.
type CacheEntry struct {
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"last_modified_ns"`
}

// ScannerItem is one object discovered changed this cycle, spec.md §4.9
// step 6.
type ScannerItem struct {
	Bucket            string `json:"bucket"`
	Key               string `json:"key"`
	LifecycleActionable bool `json:"lifecycle_actionable"`
	HealSelected      bool   `json:"heal_selected,omitempty"`
	HealVerified      bool   `json:"heal_verified,omitempty"`
}

// Cycle is the scanner's persisted cycle counter, spec.md §4.9 step 2/3.
type Cycle struct {
	Next           int64      `json:"next"`
	Current        int64      `json:"current"`
	Started        time.Time  `json:"started"`
	CycleCompleted *time.Time `json:"cycle_completed"`
}

// State is .scanner-state.json's full document.
type State struct {
	Cycle         Cycle                         `json:"cycle"`
	DataUsageCache map[string]CacheEntry        `json:"data_usage_cache"`
}

// Config tunes the scanner, spec.md §4.9.
type Config struct {
	CycleInterval        time.Duration
	DeepScanCycleInterval int64 // 0 disables periodic deep scans
	DeepScanSampleRate    uint64
	HealVerify            func(bucket, key string) error
}

// DefaultConfig matches spec.md §4.9's stated 30-minute default.
func DefaultConfig() Config {
	return Config{
		CycleInterval:      30 * time.Minute,
		DeepScanSampleRate: 100,
	}
}

// Scanner drives one node's scan cycles against a single bucket root disk.
type Scanner struct {
	log *zap.Logger
	d   *xlstorage.Disk
	ol  objectlayer.ObjectLayer
	cfg Config

	old, new map[string]CacheEntry
	update   []ScannerItem
}

// New builds a Scanner. d is the root disk whose top level holds the
// leader lock and state files; ol is used to list object versions. In deep
// scan mode, integrity verification goes through cfg.HealVerify.
func New(log *zap.Logger, d *xlstorage.Disk, ol objectlayer.ObjectLayer, cfg Config) *Scanner {
	return &Scanner{log: log, d: d, ol: ol, cfg: cfg}
}

// acquireLeader implements spec.md §4.9 step 1: exclusive-create, skip
// this tick if the lock already exists.
func (s *Scanner) acquireLeader() (release func(), ok bool) {
	path := filepath.Join(s.d.Root, leaderLockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false
	}
	f.Close()
	return func() { os.Remove(path) }, true
}

func (s *Scanner) loadState() (State, error) {
	b, err := s.d.ReadAll([]string{stateFile})
	if err != nil {
		return State{Cycle: Cycle{}, DataUsageCache: map[string]CacheEntry{}}, nil
	}
	raw := b
	if looksGzip(raw) {
		var derr error
		raw, derr = gunzip(raw)
		if derr != nil {
			return State{}, maxioerr.Wrap(maxioerr.CodeInternal, derr, "decompress scanner state")
		}
	}
	var st State
	if err := scanJSON.Unmarshal(raw, &st); err != nil {
		return State{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "parse scanner state")
	}
	if st.DataUsageCache == nil {
		st.DataUsageCache = map[string]CacheEntry{}
	}
	return st, nil
}

func (s *Scanner) saveState(st State) error {
	b, err := scanJSON.Marshal(st)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal scanner state")
	}
	if len(b) >= gzipThreshold {
		b, err = gzipBytes(b)
		if err != nil {
			return maxioerr.Wrap(maxioerr.CodeInternal, err, "compress scanner state")
		}
	}
	return s.d.WriteAll([]string{stateFile}, b)
}

// RunCycle executes one full tick of spec.md §4.9's numbered algorithm. It
// returns immediately, uneventfully, if another node currently holds the
// leader lock.
func (s *Scanner) RunCycle(ctx context.Context, deepRequested bool) error {
	release, ok := s.acquireLeader()
	if !ok {
		return nil
	}
	defer release()

	st, err := s.loadState()
	if err != nil {
		return err
	}

	st.Cycle.Current = st.Cycle.Next
	st.Cycle.Next = st.Cycle.Current + 1
	st.Cycle.Started = time.Now().UTC()
	st.Cycle.CycleCompleted = nil

	deep := deepRequested
	if s.cfg.DeepScanCycleInterval > 0 && st.Cycle.Current%s.cfg.DeepScanCycleInterval == 0 {
		deep = true
	}

	s.old, s.new = st.DataUsageCache, map[string]CacheEntry{}
	s.update = nil

	buckets, err := s.d.ListDir()
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "list buckets")
	}
	for _, bucket := range buckets {
		if strings.HasPrefix(bucket, ".") {
			continue
		}
		if err := s.scanBucket(ctx, bucket, st.Cycle.Current, deep); err != nil {
			s.log.Error("scanner: bucket scan failed", zap.String("bucket", bucket), zap.Error(err))
			continue
		}
		st.DataUsageCache = s.new
		if err := s.saveState(st); err != nil {
			s.log.Error("scanner: partial snapshot failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	s.compact()
	st.DataUsageCache = s.new

	completed := time.Now().UTC()
	st.Cycle.CycleCompleted = &completed
	if err := s.saveState(st); err != nil {
		return err
	}
	return nil
}

func (s *Scanner) scanBucket(ctx context.Context, bucket string, cycle int64, deep bool) error {
	versions, err := s.ol.ListObjectVersions(ctx, bucket, "", 0)
	if err != nil {
		return err
	}
	lcCfg, err := lifecycle.Load(s.d, bucket)
	if err != nil {
		return err
	}

	latest := map[string]bool{}
	for _, v := range versions {
		cacheKey := bucket + "/" + v.Key
		entry := CacheEntry{ETag: v.ETag, Size: v.Size, LastModified: v.ModTime.UnixNano()}
		s.new[cacheKey] = entry
		if old, ok := s.old[cacheKey]; ok && old == entry {
			continue
		}

		isLatest := !latest[v.Key]
		latest[v.Key] = true
		item := ScannerItem{
			Bucket:              bucket,
			Key:                 v.Key,
			LifecycleActionable: lcCfg.Actionable(v.Key, v, isLatest, time.Now().UTC()),
		}
		if deep && s.cfg.DeepScanSampleRate > 0 {
			if hashKey(cycle, bucket, v.Key)%s.cfg.DeepScanSampleRate == 0 {
				item.HealSelected = true
				if s.cfg.HealVerify != nil {
					if verr := s.cfg.HealVerify(bucket, v.Key); verr == nil {
						item.HealVerified = true
					}
				}
			}
		}
		s.update = append(s.update, item)
	}
	return nil
}

// compact implements spec.md §4.9 step 7: collapse any (bucket,
// first-path-component) branch with fewer than 500 items into a single
// synthetic entry.
func (s *Scanner) compact() {
	branchCount := map[string]int{}
	for _, it := range s.update {
		branchCount[branchKey(it.Bucket, it.Key)]++
	}
	var compacted []ScannerItem
	seenBranch := map[string]bool{}
	for _, it := range s.update {
		bk := branchKey(it.Bucket, it.Key)
		if branchCount[bk] < compactBranchThreshold {
			if seenBranch[bk] {
				continue
			}
			seenBranch[bk] = true
			compacted = append(compacted, ScannerItem{Bucket: it.Bucket, Key: bk + "/*"})
			continue
		}
		compacted = append(compacted, it)
	}
	s.update = compacted
}

func branchKey(bucket, key string) string {
	branch := key
	if i := strings.Index(key, "/"); i >= 0 {
		branch = key[:i]
	}
	return bucket + "/" + branch
}

func hashKey(cycle int64, bucket, key string) uint64 {
	h := xxhash.New()
	h.WriteString(itoa64(cycle))
	h.WriteString(bucket)
	h.WriteString(key)
	return h.Sum64()
}

func itoa64(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func looksGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := pgzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(b []byte) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
