package objectlayer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"time"

	"github.com/maxio/maxio/internal/crypto"
	"github.com/maxio/maxio/internal/dsync"
	"github.com/maxio/maxio/internal/maxioerr"
	"github.com/maxio/maxio/internal/xlstorage"
)

// SingleDiskLayer implements ObjectLayer over one xlstorage.Disk, spec.md
// §4.2. ErasureLayer does not use it: the erasure engine reads and writes
// its shards and xl.meta through xlstorage.Disk directly.
type SingleDiskLayer struct {
	disk      *xlstorage.Disk
	locks     *dsync.Dsync
	masterKey *crypto.MasterKey
}

// NewSingleDiskLayer builds a SingleDiskLayer. locks may be nil for a
// single-node deployment with no cluster-wide coordination; masterKey may
// be nil if SSE-S3 is never requested.
func NewSingleDiskLayer(disk *xlstorage.Disk, locks *dsync.Dsync, masterKey *crypto.MasterKey) *SingleDiskLayer {
	return &SingleDiskLayer{disk: disk, locks: locks, masterKey: masterKey}
}

func (s *SingleDiskLayer) MakeBucket(ctx context.Context, bucket string) error {
	if s.disk.BucketExists(bucket) {
		return maxioerr.New(maxioerr.CodeBucketAlreadyExists, "bucket %q already exists", bucket)
	}
	return s.disk.MakeBucket(bucket)
}

func (s *SingleDiskLayer) BucketExists(ctx context.Context, bucket string) bool {
	return s.disk.BucketExists(bucket)
}

func (s *SingleDiskLayer) DeleteBucket(ctx context.Context, bucket string) error {
	names, err := s.disk.ListDir(bucket)
	if err != nil {
		if err == xlstorage.ErrNotFound {
			return maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
		}
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "list bucket %q", bucket)
	}
	for _, n := range names {
		if n == ".versioning.json" {
			continue
		}
		return maxioerr.New(maxioerr.CodeInvalidArgument, "bucket %q is not empty", bucket)
	}
	return s.disk.DeleteBucket(bucket)
}

func (s *SingleDiskLayer) GetVersioning(ctx context.Context, bucket string) (string, error) {
	v, err := s.disk.GetVersioning(bucket)
	if err != nil {
		if err == xlstorage.ErrNotFound {
			return "", maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
		}
		return "", maxioerr.Wrap(maxioerr.CodeInternal, err, "read versioning state for %q", bucket)
	}
	return string(v), nil
}

func (s *SingleDiskLayer) SetVersioning(ctx context.Context, bucket string, enabled, suspend bool) error {
	next := xlstorage.VersioningUnversioned
	switch {
	case suspend:
		next = xlstorage.VersioningSuspended
	case enabled:
		next = xlstorage.VersioningEnabled
	}
	if err := s.disk.SetVersioning(bucket, next); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "set versioning on %q", bucket)
	}
	return nil
}

// sealForWrite applies the requested SSE mode to plaintext, returning the
// bytes to store plus the EncryptionDescriptor to record in xl.meta, per
// spec.md §4.2.
func (s *SingleDiskLayer) sealForWrite(bucket, key, versionID string, plaintext []byte, sse *SSEParams) ([]byte, *xlstorage.EncryptionDescriptor, error) {
	if sse == nil {
		return plaintext, nil, nil
	}
	switch sse.Type {
	case xlstorage.SSETypeS3:
		if s.masterKey == nil {
			return nil, nil, maxioerr.New(maxioerr.CodeNotImplemented, "SSE-S3 requested but no master key is configured")
		}
		objKey, err := s.masterKey.DeriveObjectKey(bucket, key, versionID)
		if err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "derive SSE-S3 key")
		}
		ct, err := crypto.Seal(objKey, plaintext)
		if err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "seal object")
		}
		return ct, &xlstorage.EncryptionDescriptor{Algorithm: "AES256", SSEType: xlstorage.SSETypeS3}, nil
	case xlstorage.SSETypeC:
		ssecKey := crypto.SSECKey{Key: sse.Key, KeyMD5: sse.KeyMD5}
		if err := ssecKey.VerifyMD5(); err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInvalidArgument, err, "SSE-C key")
		}
		ct, err := crypto.Seal(sse.Key, plaintext)
		if err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "seal object")
		}
		return ct, &xlstorage.EncryptionDescriptor{Algorithm: "AES256", SSEType: xlstorage.SSETypeC, KeyMD5: sse.KeyMD5}, nil
	default:
		return nil, nil, maxioerr.New(maxioerr.CodeInvalidArgument, "unknown SSE type %q", sse.Type)
	}
}

func (s *SingleDiskLayer) openForRead(bucket, key, versionID string, ciphertext []byte, enc *xlstorage.EncryptionDescriptor, sse *SSEParams) ([]byte, error) {
	if enc == nil {
		return ciphertext, nil
	}
	switch enc.SSEType {
	case xlstorage.SSETypeS3:
		if s.masterKey == nil {
			return nil, maxioerr.New(maxioerr.CodeInternal, "object is SSE-S3 encrypted but no master key is configured")
		}
		objKey, err := s.masterKey.DeriveObjectKey(bucket, key, versionID)
		if err != nil {
			return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "derive SSE-S3 key")
		}
		pt, err := crypto.Open(objKey, ciphertext)
		if err != nil {
			return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "open sealed object")
		}
		return pt, nil
	case xlstorage.SSETypeC:
		if sse == nil {
			return nil, maxioerr.New(maxioerr.CodeAccessDenied, "object requires an SSE-C key")
		}
		if err := crypto.CheckSSECAccess(enc.KeyMD5, sse.KeyMD5); err != nil {
			return nil, err
		}
		pt, err := crypto.Open(sse.Key, ciphertext)
		if err != nil {
			return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "open sealed object")
		}
		return pt, nil
	default:
		return nil, maxioerr.New(maxioerr.CodeInternal, "unknown encryption descriptor %q", enc.SSEType)
	}
}

func (s *SingleDiskLayer) PutObject(ctx context.Context, bucket, key string, in PutObjectInput) (ObjectInfo, error) {
	plaintext, err := io.ReadAll(in.Reader)
	if err != nil {
		return ObjectInfo{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "read request body")
	}
	return s.putObject(ctx, bucket, key, plaintext, in.ContentType, in.Metadata, in.SSE, "")
}

// putObject is PutObject's core, parameterised over an optional etagOverride
// so CompleteMultipart can write the composite etag directly into the new
// version's meta instead of overwriting it after the fact, per the Open
// Question resolution in SPEC_FULL.md §9.
func (s *SingleDiskLayer) putObject(ctx context.Context, bucket, key string, plaintext []byte, contentType string, metadata map[string]string, sse *SSEParams, etagOverride string) (out ObjectInfo, err error) {
	if !xlstorage.IsValidObjectName(key) {
		return ObjectInfo{}, maxioerr.New(maxioerr.CodeInvalidObjectName, "invalid object name %q", key)
	}
	etag := etagOverride
	if etag == "" {
		sum := md5.Sum(plaintext)
		etag = hex.EncodeToString(sum[:])
	}
	in := PutObjectInput{ContentType: contentType, Metadata: metadata, SSE: sse}

	err = withObjectLock(ctx, s.locks, bucket, key, true, func() error {
		vstate, verr := s.disk.GetVersioning(bucket)
		if verr != nil {
			if verr == xlstorage.ErrNotFound {
				return maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
			}
			return maxioerr.Wrap(maxioerr.CodeInternal, verr, "read versioning state")
		}

		versionID := ""
		if vstate == xlstorage.VersioningEnabled {
			versionID = xlstorage.NewUUID()
		} else if vstate == xlstorage.VersioningSuspended {
			versionID = xlstorage.NullVersionID
		}

		ciphertext, encDesc, serr := s.sealForWrite(bucket, key, versionID, plaintext, in.SSE)
		if serr != nil {
			return serr
		}

		meta := xlstorage.NewMeta()
		meta.DataDir = xlstorage.NewUUID()
		meta.Size = int64(len(plaintext))
		meta.ETag = etag
		meta.ContentType = in.ContentType
		meta.ModTime = time.Now().UTC().Format(time.RFC3339Nano)
		meta.Encryption = encDesc
		if in.Metadata != nil {
			meta.Metadata = in.Metadata
		}

		switch vstate {
		case xlstorage.VersioningUnversioned:
			if err := s.disk.RemoveAll(xlstorage.ObjectDirPath(bucket, key)); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "remove prior object")
			}
			if err := s.disk.WriteAll(xlstorage.LegacyDataPath(bucket, key, meta.DataDir), ciphertext); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write object data")
			}
			mb, merr := meta.Marshal()
			if merr != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, merr, "marshal xl.meta")
			}
			if err := s.disk.WriteAll(xlstorage.LegacyMetaPath(bucket, key), mb); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write xl.meta")
			}

		case xlstorage.VersioningEnabled:
			meta.VersionID = versionID
			if err := s.disk.WriteAll(xlstorage.VersionDataPath(bucket, key, versionID, meta.DataDir), ciphertext); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write object data")
			}
			mb, merr := meta.Marshal()
			if merr != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, merr, "marshal xl.meta")
			}
			if err := s.disk.WriteAll(xlstorage.VersionMetaPath(bucket, key, versionID), mb); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write xl.meta")
			}
			entries, _ := s.disk.LoadVersions(bucket, key)
			entries = xlstorage.PrependVersion(entries, xlstorage.VersionEntry{
				VersionID: versionID, LastModified: meta.ModTime, ETag: etag, Size: meta.Size,
			})
			if err := s.disk.SaveVersions(bucket, key, entries); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "save versions index")
			}

		case xlstorage.VersioningSuspended:
			meta.VersionID = xlstorage.NullVersionID
			if err := s.disk.RemoveAll(xlstorage.VersionDirPath(bucket, key, xlstorage.NullVersionID)); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "remove prior null version")
			}
			if err := s.disk.WriteAll(xlstorage.VersionDataPath(bucket, key, xlstorage.NullVersionID, meta.DataDir), ciphertext); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write object data")
			}
			mb, merr := meta.Marshal()
			if merr != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, merr, "marshal xl.meta")
			}
			if err := s.disk.WriteAll(xlstorage.VersionMetaPath(bucket, key, xlstorage.NullVersionID), mb); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "write xl.meta")
			}
			entries, _ := s.disk.LoadVersions(bucket, key)
			entries = xlstorage.ReplaceOrPrependNull(entries, xlstorage.VersionEntry{
				VersionID: xlstorage.NullVersionID, LastModified: meta.ModTime, ETag: etag, Size: meta.Size,
			})
			if err := s.disk.SaveVersions(bucket, key, entries); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "save versions index")
			}
		}

		out = ObjectInfo{
			Bucket: bucket, Key: key, VersionID: meta.VersionID, Size: meta.Size,
			ETag: etag, ContentType: meta.ContentType, ModTime: mustParseTime(meta.ModTime), Metadata: meta.Metadata,
		}
		return nil
	})
	return out, err
}

// resolveMeta implements spec.md §4.2's GET resolution: read the versions
// index if present, falling back to the legacy unversioned xl.meta. The
// migration of a legacy object into version "null" under a now-versioned
// bucket is done beforehand by migrateLegacyIfVersioned, not here.
func (s *SingleDiskLayer) resolveMeta(bucket, key, versionID string) (xlstorage.Meta, string, error) {
	entries, verr := s.disk.LoadVersions(bucket, key)
	if verr == nil {
		if versionID != "" {
			entry, ok := xlstorage.FindVersion(entries, versionID)
			if !ok {
				return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "version %q not found", versionID)
			}
			if entry.IsDeleteMarker {
				return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "version %q is a delete marker", versionID)
			}
			mb, err := s.disk.ReadAll(xlstorage.VersionMetaPath(bucket, key, versionID))
			if err != nil {
				return xlstorage.Meta{}, "", maxioerr.Wrap(maxioerr.CodeInternal, err, "read xl.meta")
			}
			m, err := xlstorage.UnmarshalMeta(mb)
			return m, versionID, err
		}
		latest, ok := xlstorage.LatestNonDeleteMarker(entries)
		if !ok {
			return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "object %q not found", key)
		}
		mb, err := s.disk.ReadAll(xlstorage.VersionMetaPath(bucket, key, latest.VersionID))
		if err != nil {
			return xlstorage.Meta{}, "", maxioerr.Wrap(maxioerr.CodeInternal, err, "read xl.meta")
		}
		m, err := xlstorage.UnmarshalMeta(mb)
		return m, latest.VersionID, err
	}

	if versionID != "" && versionID != xlstorage.NullVersionID {
		return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "version %q not found", versionID)
	}
	mb, err := s.disk.ReadAll(xlstorage.LegacyMetaPath(bucket, key))
	if err != nil {
		if err == xlstorage.ErrNotFound {
			return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "object %q not found", key)
		}
		return xlstorage.Meta{}, "", maxioerr.Wrap(maxioerr.CodeInternal, err, "read xl.meta")
	}
	m, err := xlstorage.UnmarshalMeta(mb)
	return m, "", err
}

// migrateLegacyIfVersioned implements spec.md §4.2's crash-safe migration:
// write the new "null" subtree fully, write .versions.json, delete legacy
// files last.
func (s *SingleDiskLayer) migrateLegacyIfVersioned(bucket, key string) error {
	vstate, err := s.disk.GetVersioning(bucket)
	if err != nil || vstate == xlstorage.VersioningUnversioned {
		return nil
	}
	mb, err := s.disk.ReadAll(xlstorage.LegacyMetaPath(bucket, key))
	if err != nil {
		return nil // nothing legacy to migrate
	}
	m, err := xlstorage.UnmarshalMeta(mb)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "unmarshal legacy xl.meta")
	}
	data, err := s.disk.ReadAll(xlstorage.LegacyDataPath(bucket, key, m.DataDir))
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "read legacy data")
	}
	if err := s.disk.WriteAll(xlstorage.VersionDataPath(bucket, key, xlstorage.NullVersionID, m.DataDir), data); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "write migrated data")
	}
	m.VersionID = xlstorage.NullVersionID
	nb, err := m.Marshal()
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal migrated xl.meta")
	}
	if err := s.disk.WriteAll(xlstorage.VersionMetaPath(bucket, key, xlstorage.NullVersionID), nb); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "write migrated xl.meta")
	}
	entries, _ := s.disk.LoadVersions(bucket, key)
	entries = xlstorage.ReplaceOrPrependNull(entries, xlstorage.VersionEntry{
		VersionID: xlstorage.NullVersionID, LastModified: m.ModTime, ETag: m.ETag, Size: m.Size,
	})
	if err := s.disk.SaveVersions(bucket, key, entries); err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "save versions index")
	}
	_ = s.disk.Remove(xlstorage.LegacyMetaPath(bucket, key))
	_ = s.disk.Remove(xlstorage.LegacyDataPath(bucket, key, m.DataDir))
	return nil
}

func (s *SingleDiskLayer) GetObject(ctx context.Context, bucket, key string, in GetObjectInput) (GetObjectOutput, error) {
	var out GetObjectOutput
	err := withObjectLock(ctx, s.locks, bucket, key, false, func() error {
		if err := s.migrateLegacyIfVersioned(bucket, key); err != nil {
			return err
		}
		m, resolvedVersion, err := s.resolveMeta(bucket, key, in.VersionID)
		if err != nil {
			return err
		}
		var dataPath []string
		if resolvedVersion != "" {
			dataPath = xlstorage.VersionDataPath(bucket, key, resolvedVersion, m.DataDir)
		} else {
			dataPath = xlstorage.LegacyDataPath(bucket, key, m.DataDir)
		}
		ciphertext, err := s.disk.ReadAll(dataPath)
		if err != nil {
			return maxioerr.Wrap(maxioerr.CodeInternal, err, "read object data")
		}
		plaintext, err := s.openForRead(bucket, key, resolvedVersion, ciphertext, m.Encryption, in.SSE)
		if err != nil {
			return err
		}
		out = GetObjectOutput{
			Reader: io.NopCloser(bytes.NewReader(plaintext)),
			Info: ObjectInfo{
				Bucket: bucket, Key: key, VersionID: resolvedVersion, Size: m.Size,
				ETag: m.ETag, ContentType: m.ContentType, ModTime: mustParseTime(m.ModTime), Metadata: m.Metadata,
			},
		}
		return nil
	})
	return out, err
}

func (s *SingleDiskLayer) HeadObject(ctx context.Context, bucket, key string, in GetObjectInput) (ObjectInfo, error) {
	var info ObjectInfo
	err := withObjectLock(ctx, s.locks, bucket, key, false, func() error {
		if err := s.migrateLegacyIfVersioned(bucket, key); err != nil {
			return err
		}
		m, resolvedVersion, err := s.resolveMeta(bucket, key, in.VersionID)
		if err != nil {
			return err
		}
		info = ObjectInfo{
			Bucket: bucket, Key: key, VersionID: resolvedVersion, Size: m.Size,
			ETag: m.ETag, ContentType: m.ContentType, ModTime: mustParseTime(m.ModTime), Metadata: m.Metadata,
		}
		return nil
	})
	return info, err
}

func (s *SingleDiskLayer) DeleteObject(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error) {
	var out ObjectInfo
	err := withObjectLock(ctx, s.locks, bucket, key, true, func() error {
		vstate, verr := s.disk.GetVersioning(bucket)
		if verr != nil {
			return maxioerr.Wrap(maxioerr.CodeInternal, verr, "read versioning state")
		}

		if versionID != "" {
			entries, err := s.disk.LoadVersions(bucket, key)
			if err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "load versions index")
			}
			entries = xlstorage.RemoveVersion(entries, versionID)
			if err := s.disk.RemoveAll(xlstorage.VersionDirPath(bucket, key, versionID)); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "remove version dir")
			}
			if len(entries) == 0 {
				_ = s.disk.Remove(xlstorage.VersionsIndexPath(bucket, key))
				s.disk.RemoveEmptyParents(bucket, key)
			} else if err := s.disk.SaveVersions(bucket, key, entries); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "save versions index")
			}
			out = ObjectInfo{Bucket: bucket, Key: key, VersionID: versionID}
			return nil
		}

		switch vstate {
		case xlstorage.VersioningUnversioned, xlstorage.VersioningSuspended:
			if err := s.disk.RemoveAll(xlstorage.ObjectDirPath(bucket, key)); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "remove object")
			}
			s.disk.RemoveEmptyParents(bucket, key)
			out = ObjectInfo{Bucket: bucket, Key: key}

		case xlstorage.VersioningEnabled:
			marker := xlstorage.NewUUID()
			entries, _ := s.disk.LoadVersions(bucket, key)
			entries = xlstorage.PrependVersion(entries, xlstorage.VersionEntry{
				VersionID: marker, IsDeleteMarker: true, LastModified: time.Now().UTC().Format(time.RFC3339Nano),
			})
			if err := s.disk.SaveVersions(bucket, key, entries); err != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, err, "save versions index")
			}
			out = ObjectInfo{Bucket: bucket, Key: key, VersionID: marker, IsDeleteMarker: true}
		}
		return nil
	})
	return out, err
}

func (s *SingleDiskLayer) ListObjectVersions(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error) {
	names, err := s.disk.ListDir(bucket)
	if err != nil {
		if err == xlstorage.ErrNotFound {
			return nil, maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
		}
		return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "list bucket")
	}
	sort.Strings(names)

	var out []ObjectInfo
	for _, key := range names {
		if len(key) > 0 && key[0] == '.' {
			continue
		}
		if prefix != "" && !hasPrefix(key, prefix) {
			continue
		}
		entries, err := s.disk.LoadVersions(bucket, key)
		if err != nil {
			mb, merr := s.disk.ReadAll(xlstorage.LegacyMetaPath(bucket, key))
			if merr != nil {
				continue
			}
			m, merr := xlstorage.UnmarshalMeta(mb)
			if merr != nil {
				continue
			}
			out = append(out, ObjectInfo{
				Bucket: bucket, Key: key, Size: m.Size, ETag: m.ETag, ModTime: mustParseTime(m.ModTime),
			})
			if maxKeys > 0 && len(out) >= maxKeys {
				return out, nil
			}
			continue
		}
		for _, e := range entries {
			out = append(out, ObjectInfo{
				Bucket: bucket, Key: key, VersionID: e.VersionID, IsDeleteMarker: e.IsDeleteMarker,
				Size: e.Size, ETag: e.ETag, ModTime: mustParseTime(e.LastModified),
			})
			if maxKeys > 0 && len(out) >= maxKeys {
				return out, nil
			}
		}
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func mustParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
