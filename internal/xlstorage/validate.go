// Package xlstorage implements the XL on-disk layout described in
// spec.md §4.2: bucket/object directories, xl.meta, the versions index and
// multipart staging paths. The object engines themselves (single-disk and
// erasure) live in internal/objectlayer and build on this package's Disk.
//
// Grounded on xl-v1-bucket.go (bucket operations) and xl-v1-common.go
// (name validation, path joins), generalized from an unversioned-only
// layout to the three versioning states spec.md §3 defines.
package xlstorage

import "strings"

// Reserved top-level names spec.md §4.2 carves out of the bucket namespace.
const (
	maxioSysDir     = ".maxio.sys"
	cryptoDir       = ".crypto"
	multipartDir    = ".multipart"
	lifecycleFile   = ".lifecycle.json"
	notificationCfg = ".notification.json"
	versioningFile  = ".versioning.json"
	versionsFile    = ".versions.json"
	xlMetaFile      = "xl.meta"
)

var reservedBucketNames = map[string]bool{
	maxioSysDir: true,
}

// IsValidBucketName checks spec.md §4.2: non-empty, no '/' or '\', not a
// reserved name.
func IsValidBucketName(bucket string) bool {
	if bucket == "" {
		return false
	}
	if strings.ContainsAny(bucket, `/\`) {
		return false
	}
	if reservedBucketNames[bucket] {
		return false
	}
	return true
}

// IsValidObjectName checks spec.md §4.2: non-empty, no '\', no absolute
// paths or '.'/'..' path components.
func IsValidObjectName(object string) bool {
	if object == "" {
		return false
	}
	if strings.Contains(object, `\`) {
		return false
	}
	if strings.HasPrefix(object, "/") {
		return false
	}
	for _, part := range strings.Split(object, "/") {
		if part == "." || part == ".." {
			return false
		}
	}
	return true
}
