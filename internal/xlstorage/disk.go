package xlstorage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/readahead"
	"github.com/ncw/directio"
	"github.com/pkg/xattr"
)

// ErrNotFound is returned by disk reads when the requested volume, object
// or version directory does not exist on this disk. Object-engine callers
// treat it as a per-disk failure to tolerate, not necessarily a global
// ObjectNotFound (spec.md §4.3 GET path: "missing reads passed as absent").
var ErrNotFound = errors.New("xlstorage: not found")

// formatFingerprintXattr is the extended attribute SPEC_FULL.md §4.2 adds:
// a cheap pre-flight check that a bucket directory belongs to the erasure
// generation this process expects, before trusting anything it lists.
const formatFingerprintXattr = "user.maxio.format"

// Disk is one erasure-set member: a single directory root on local or
// mounted storage. It has no knowledge of which shard index it holds --
// that routing lives in the erasure object engine (spec.md §4.3).
type Disk struct {
	Root string
}

// NewDisk validates that root exists (or can be created) and returns a Disk
// bound to it.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o777); err != nil {
		return nil, fmt.Errorf("xlstorage: init disk root %s: %w", root, err)
	}
	return &Disk{Root: root}, nil
}

func (d *Disk) path(parts ...string) string {
	return filepath.Join(append([]string{d.Root}, parts...)...)
}

// StampFingerprint writes the format fingerprint xattr on a bucket
// directory. Best-effort: filesystems without xattr support (e.g. some
// overlay mounts) simply don't get the pre-flight check.
func (d *Disk) StampFingerprint(bucket, fingerprint string) {
	_ = xattr.Set(d.path(bucket), formatFingerprintXattr, []byte(fingerprint))
}

// CheckFingerprint reports whether bucket's stamped fingerprint matches, or
// true if the disk has none recorded (first access, or xattrs unsupported).
func (d *Disk) CheckFingerprint(bucket, fingerprint string) bool {
	got, err := xattr.Get(d.path(bucket), formatFingerprintXattr)
	if err != nil {
		return true
	}
	return string(got) == fingerprint
}

// MakeVol creates a bucket root directory.
func (d *Disk) MakeVol(bucket string) error {
	err := os.Mkdir(d.path(bucket), 0o777)
	if errors.Is(err, os.ErrExist) {
		return os.ErrExist
	}
	return err
}

// StatVol reports whether a bucket directory exists on this disk.
func (d *Disk) StatVol(bucket string) error {
	_, err := os.Stat(d.path(bucket))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// DeleteVol removes an (expected empty) bucket directory.
func (d *Disk) DeleteVol(bucket string) error {
	err := os.Remove(d.path(bucket))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// WriteAll writes the full contents of a small file (xl.meta, versions
// index, multipart staging json) atomically via a temp file + rename, the
// safe-write idiom generalized from pkg/safe in an older object-api.go
// import list.
func (d *Disk) WriteAll(parts []string, data []byte) error {
	full := d.path(parts...)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return err
	}
	tmp := full + ".tmp-" + randSuffix()
	if err := os.WriteFile(tmp, data, 0o666); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

// ReadAll reads a small file fully.
func (d *Disk) ReadAll(parts []string) ([]byte, error) {
	b, err := os.ReadFile(d.path(parts...))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Remove deletes a file, tolerating it already being gone.
func (d *Disk) Remove(parts []string) error {
	err := os.Remove(d.path(parts...))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveAll recursively deletes a directory.
func (d *Disk) RemoveAll(parts []string) error {
	return os.RemoveAll(d.path(parts...))
}

// RemoveEmptyParents walks upward from dir, removing directories as long as
// they are empty, stopping at (and never removing) the bucket root -
// spec.md §4.2 "walk empty parents up to the bucket root and remove them".
func (d *Disk) RemoveEmptyParents(bucket string, dirParts ...string) {
	cur := d.path(append([]string{bucket}, dirParts...)...)
	bucketRoot := d.path(bucket)
	for cur != bucketRoot && len(cur) > len(bucketRoot) {
		entries, err := os.ReadDir(cur)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(cur); err != nil {
			return
		}
		cur = filepath.Dir(cur)
	}
}

// ShardWriter opens a shard/part file for sequential writing. It attempts
// O_DIRECT to bypass double-buffering through the page cache (production
// deployments run with directio'd XL storage); when the underlying
// filesystem doesn't support it the write falls back to a regular buffered
// file, since O_DIRECT support is a property of the mount, not of this
// process.
func (d *Disk) ShardWriter(parts ...string) (io.WriteCloser, error) {
	full := d.path(parts...)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return nil, err
	}
	f, err := directio.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	}
	return f, nil
}

// ShardReader opens a shard/part file wrapped in a read-ahead reader, for
// reading a shard sequentially and fully. The erasure GET path (spec.md
// §4.3) does not use it; it reads shards with ReadAll.
func (d *Disk) ShardReader(parts ...string) (io.ReadCloser, error) {
	full := d.path(parts...)
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return readahead.NewReadCloser(f), nil
}

// StatFile returns the size of a file on this disk.
func (d *Disk) StatFile(parts ...string) (int64, error) {
	fi, err := os.Stat(d.path(parts...))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return fi.Size(), nil
}

// ListDir lists direct children of a directory.
func (d *Disk) ListDir(parts ...string) ([]string, error) {
	entries, err := os.ReadDir(d.path(parts...))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
