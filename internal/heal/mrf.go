package heal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/maxio/maxio/internal/maxioerr"
)

var mrfJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// MrfEntry is one queued heal retry, spec.md §4.7/§4.8: "enqueue an
// MrfEntry with retry_count+1 and the single failed target".
type MrfEntry struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	VersionID  string `json:"version_id,omitempty"`
	Target     string `json:"target,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// MrfQueue is a bounded FIFO of MrfEntry. Persist writes a snapshot to disk
// and Load replays one; the queue has no timer of its own, so it is
// snapshotted only when a caller invokes Persist.
// Grounded on the MRF channel (background-newdisks-heal-ops) generalized
// into a plain mutex-guarded slice since this package has no dependency
// on a global request router.
type MrfQueue struct {
	mu         sync.Mutex
	capacity   int
	retryLimit int
	entries    []MrfEntry
	path       string
}

// NewMrfQueue builds an empty queue. persistPath is where Persist/Load read
// and write the snapshot (<dir>/mrf-queue.json per spec.md §4.7).
func NewMrfQueue(capacity, retryLimit int, persistPath string) *MrfQueue {
	return &MrfQueue{capacity: capacity, retryLimit: retryLimit, path: persistPath}
}

// Enqueue implements spec.md §4.7: full queue fails with "MRF queue is
// full"; an entry at or past the retry limit is dropped silently (it has
// exhausted its retries, not failed to enqueue).
func (q *MrfQueue) Enqueue(e MrfEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.RetryCount >= q.retryLimit {
		return nil
	}
	if len(q.entries) >= q.capacity {
		return maxioerr.New(maxioerr.CodeInternal, "MRF queue is full")
	}
	q.entries = append(q.entries, e)
	return nil
}

// Dequeue pops the oldest entry, FIFO order. ok is false on an empty queue.
func (q *MrfQueue) Dequeue() (MrfEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return MrfEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Len reports the current queue depth, for the maxio_mrf_queue_depth gauge.
func (q *MrfQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Persist writes the queue to disk via a temp file + atomic rename, spec.md
// §4.7: "Periodic ... snapshot ... using write-temp + atomic rename."
func (q *MrfQueue) Persist() error {
	q.mu.Lock()
	b, err := mrfJSON.Marshal(q.entries)
	q.mu.Unlock()
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal MRF queue")
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o777); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "create MRF queue dir")
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "write MRF queue snapshot")
	}
	return os.Rename(tmp, q.path)
}

// Load replays a persisted queue back into memory, spec.md §4.7: "On
// startup, replay the persisted queue back into the in-memory channel."
// A missing file is not an error -- there is simply nothing to replay yet.
func (q *MrfQueue) Load() error {
	b, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "read MRF queue snapshot")
	}
	var entries []MrfEntry
	if err := mrfJSON.Unmarshal(b, &entries); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "unmarshal MRF queue snapshot")
	}
	q.mu.Lock()
	q.entries = entries
	q.mu.Unlock()
	return nil
}

// PersistInterval is the default mrf_persistence_interval, spec.md §4.8.
const PersistInterval = 30 * time.Second
