package xlstorage

import (
	"github.com/maxio/maxio/internal/maxioerr"
)

// VersioningState is spec.md §3's bucket versioning state.
type VersioningState string

const (
	VersioningUnversioned VersioningState = "Unversioned"
	VersioningEnabled     VersioningState = "Enabled"
	VersioningSuspended   VersioningState = "Suspended"
)

// MakeBucket creates bucket on this disk with Unversioned state, per
// spec.md §4.2. Grounded on xl-v1-bucket.go's MakeBucket, split here to a
// single-disk operation the erasure object engine fans out.
func (d *Disk) MakeBucket(bucket string) error {
	if !IsValidBucketName(bucket) {
		return maxioerr.New(maxioerr.CodeInvalidBucketName, "invalid bucket name %q", bucket)
	}
	if err := d.MakeVol(bucket); err != nil {
		return err
	}
	// Invariant I3: a bucket's versioning state file exists iff the bucket
	// exists -- write it as part of bucket creation, not lazily.
	return d.WriteAll([]string{bucket, versioningFile}, []byte(VersioningUnversioned))
}

// BucketExists reports whether bucket exists on this disk.
func (d *Disk) BucketExists(bucket string) bool {
	return d.StatVol(bucket) == nil
}

// GetVersioning reads the bucket's versioning state (I3: must exist iff the
// bucket exists).
func (d *Disk) GetVersioning(bucket string) (VersioningState, error) {
	b, err := d.ReadAll([]string{bucket, versioningFile})
	if err != nil {
		return "", err
	}
	return VersioningState(b), nil
}

// SetVersioning transitions the bucket's versioning state, enforcing
// spec.md §3's invariant: Enabled can only move to Suspended, never back to
// Unversioned.
func (d *Disk) SetVersioning(bucket string, next VersioningState) error {
	cur, err := d.GetVersioning(bucket)
	if err != nil {
		return err
	}
	if cur == VersioningEnabled && next == VersioningUnversioned {
		return maxioerr.New(maxioerr.CodeInvalidArgument, "cannot transition bucket %q from Enabled back to Unversioned", bucket)
	}
	return d.WriteAll([]string{bucket, versioningFile}, []byte(next))
}

// DeleteBucket removes an empty bucket directory. The caller is expected to
// have already verified the bucket holds no objects (spec.md §3: "deleting
// a non-empty bucket fails" -- enforced one layer up where object listing
// is available).
func (d *Disk) DeleteBucket(bucket string) error {
	if err := d.Remove([]string{bucket, versioningFile}); err != nil {
		return err
	}
	return d.DeleteVol(bucket)
}
