package heal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/maxio/maxio/internal/maxioerr"
)

var trackerJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Tracker accumulates progress counters for a running heal pass, spec.md
// §4.7: "atomic counters {items_healed, bytes_done, items_failed} plus a
// lock-guarded {current_bucket, current_object}". Snapshot every 60s.
type Tracker struct {
	ItemsHealed atomic.Int64
	BytesDone   atomic.Int64
	ItemsFailed atomic.Int64

	mu            sync.Mutex
	currentBucket string
	currentObject string

	path string
}

// NewTracker builds a tracker snapshotting to path.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// SetCurrent records which object the tracker is presently healing.
func (t *Tracker) SetCurrent(bucket, key string) {
	t.mu.Lock()
	t.currentBucket, t.currentObject = bucket, key
	t.mu.Unlock()
}

// Current returns the object last recorded via SetCurrent.
func (t *Tracker) Current() (bucket, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentBucket, t.currentObject
}

type trackerSnapshot struct {
	ItemsHealed   int64  `json:"items_healed"`
	BytesDone     int64  `json:"bytes_done"`
	ItemsFailed   int64  `json:"items_failed"`
	CurrentBucket string `json:"current_bucket"`
	CurrentObject string `json:"current_object"`
}

// Snapshot writes the tracker's current state to path via a temp file plus
// atomic rename, spec.md §4.7: "written every 60s to disk using temp-file
// and rename."
func (t *Tracker) Snapshot() error {
	bucket, key := t.Current()
	s := trackerSnapshot{
		ItemsHealed:   t.ItemsHealed.Load(),
		BytesDone:     t.BytesDone.Load(),
		ItemsFailed:   t.ItemsFailed.Load(),
		CurrentBucket: bucket,
		CurrentObject: key,
	}
	b, err := trackerJSON.Marshal(s)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal heal tracker snapshot")
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o777); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "create heal tracker dir")
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "write heal tracker snapshot")
	}
	return os.Rename(tmp, t.path)
}

// SnapshotInterval is the default periodic snapshot cadence, spec.md §4.7.
const SnapshotInterval = 60 * time.Second

// Record applies a completed Report to the tracker's counters.
func (t *Tracker) Record(rep Report) {
	for _, d := range rep.Disks {
		t.BytesDone.Add(d.BytesRepaired)
		if d.After == StateFailed {
			t.ItemsFailed.Inc()
		}
	}
	if rep.Healed {
		t.ItemsHealed.Inc()
	}
}
