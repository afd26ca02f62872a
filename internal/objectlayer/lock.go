package objectlayer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maxio/maxio/internal/dsync"
	"github.com/maxio/maxio/internal/maxioerr"
)

// lockTimeout bounds how long a mutation waits to acquire the object's
// DRWMutex before giving up, spec.md §5: "a mutation requires the caller to
// hold the object's DRWMutex".
const lockTimeout = 30 * time.Second

// withObjectLock runs fn while holding a DRWMutex on "bucket/key", write or
// read according to write. A nil locks client means no cluster-wide
// coordination is configured (single-node deployment) and fn runs
// unguarded, matching spec.md §5's "single-node-serial equivalent" escape
// hatch.
func withObjectLock(ctx context.Context, locks *dsync.Dsync, bucket, key string, write bool, fn func() error) error {
	if locks == nil {
		return fn()
	}
	m := dsync.NewDRWMutex(locks, bucket+"/"+key)
	lockCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	owner := uuid.NewString()
	var acquired bool
	if write {
		acquired = m.GetLock(lockCtx, cancel, owner, "objectlayer", dsync.Options{Timeout: lockTimeout})
	} else {
		acquired = m.GetRLock(lockCtx, cancel, owner, "objectlayer", dsync.Options{Timeout: lockTimeout})
	}
	if !acquired {
		return maxioerr.New(maxioerr.CodeInternal, "failed to acquire lock on %s/%s", bucket, key)
	}
	defer func() {
		if write {
			m.Unlock(context.Background())
		} else {
			m.RUnlock(context.Background())
		}
	}()
	return fn()
}
