package objectlayer

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maxio/maxio/internal/crypto"
	"github.com/maxio/maxio/internal/dsync"
	"github.com/maxio/maxio/internal/erasure"
	"github.com/maxio/maxio/internal/maxioerr"
	"github.com/maxio/maxio/internal/xlstorage"
)

// ErasureLayer implements ObjectLayer across N disks, spec.md §4.3: disk i
// always holds shard i of every block, via a deterministic, fixed routing.
//
// Grounded on erasure-coding.go (EncodeData/DecodeDataBlocks driving a
// fan-out over disks) and erasure-healing.go (shard absence
// tolerance), generalized onto internal/erasure's pure codec and
// internal/xlstorage's per-disk layout.
type ErasureLayer struct {
	disks     []*xlstorage.Disk
	codec     *erasure.Codec
	cfg       erasure.Config
	locks     *dsync.Dsync
	masterKey *crypto.MasterKey
}

// NewErasureLayer builds an ErasureLayer over disks, one per shard index.
// len(disks) must equal cfg.Total().
func NewErasureLayer(disks []*xlstorage.Disk, cfg erasure.Config, locks *dsync.Dsync, masterKey *crypto.MasterKey) (*ErasureLayer, error) {
	if len(disks) != cfg.Total() {
		return nil, maxioerr.New(maxioerr.CodeInvalidArgument, "expected %d disks for (%d,%d) geometry, got %d", cfg.Total(), cfg.DataShards, cfg.ParityShards, len(disks))
	}
	codec, err := erasure.New(cfg)
	if err != nil {
		return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "build erasure codec")
	}
	return &ErasureLayer{disks: disks, codec: codec, cfg: cfg, locks: locks, masterKey: masterKey}, nil
}

func (e *ErasureLayer) quorum() int { return e.cfg.DataShards }

// Config exposes the set's erasure geometry, for callers outside this
// package that need to drive the same codec directly -- background
// healing, in particular.
func (e *ErasureLayer) Config() erasure.Config { return e.cfg }

// Codec exposes the set's shared encode/decode codec, see Config.
func (e *ErasureLayer) Codec() *erasure.Codec { return e.codec }

// Disks exposes the set's underlying disk slice, in shard order.
func (e *ErasureLayer) Disks() []*xlstorage.Disk { return e.disks }

// MakeBucket requires at least DataShards successful creates, spec.md §4.3
// "require bucket dir present on at least d disks".
func (e *ErasureLayer) MakeBucket(ctx context.Context, bucket string) error {
	ok := 0
	for _, d := range e.disks {
		if err := d.MakeBucket(bucket); err == nil {
			ok++
		} else if d.BucketExists(bucket) {
			return maxioerr.New(maxioerr.CodeBucketAlreadyExists, "bucket %q already exists", bucket)
		}
	}
	if ok < e.quorum() {
		return maxioerr.New(maxioerr.CodeInternal, "only %d/%d disks accepted bucket creation, need %d", ok, len(e.disks), e.quorum())
	}
	return nil
}

func (e *ErasureLayer) BucketExists(ctx context.Context, bucket string) bool {
	ok := 0
	for _, d := range e.disks {
		if d.BucketExists(bucket) {
			ok++
		}
	}
	return ok >= e.quorum()
}

func (e *ErasureLayer) DeleteBucket(ctx context.Context, bucket string) error {
	// First success wins for the emptiness check -- listing is idempotent
	// metadata-level work, spec.md §4.3 LIST rule.
	for _, d := range e.disks {
		names, err := d.ListDir(bucket)
		if err != nil {
			continue
		}
		for _, n := range names {
			if n == ".versioning.json" {
				continue
			}
			return maxioerr.New(maxioerr.CodeInvalidArgument, "bucket %q is not empty", bucket)
		}
		break
	}
	ok := 0
	for _, d := range e.disks {
		if err := d.DeleteBucket(bucket); err == nil {
			ok++
		}
	}
	if ok < e.quorum() {
		return maxioerr.New(maxioerr.CodeInternal, "only %d/%d disks deleted bucket, need %d", ok, len(e.disks), e.quorum())
	}
	return nil
}

func (e *ErasureLayer) GetVersioning(ctx context.Context, bucket string) (string, error) {
	for _, d := range e.disks {
		v, err := d.GetVersioning(bucket)
		if err == nil {
			return string(v), nil
		}
	}
	return "", maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
}

func (e *ErasureLayer) SetVersioning(ctx context.Context, bucket string, enabled, suspend bool) error {
	next := xlstorage.VersioningUnversioned
	switch {
	case suspend:
		next = xlstorage.VersioningSuspended
	case enabled:
		next = xlstorage.VersioningEnabled
	}
	ok := 0
	for _, d := range e.disks {
		if err := d.SetVersioning(bucket, next); err == nil {
			ok++
		}
	}
	if ok < e.quorum() {
		return maxioerr.New(maxioerr.CodeInternal, "only %d/%d disks updated versioning, need %d", ok, len(e.disks), e.quorum())
	}
	return nil
}

func (e *ErasureLayer) sealForWrite(bucket, key, versionID string, plaintext []byte, sse *SSEParams) ([]byte, *xlstorage.EncryptionDescriptor, error) {
	if sse == nil {
		return plaintext, nil, nil
	}
	switch sse.Type {
	case xlstorage.SSETypeS3:
		if e.masterKey == nil {
			return nil, nil, maxioerr.New(maxioerr.CodeNotImplemented, "SSE-S3 requested but no master key is configured")
		}
		objKey, err := e.masterKey.DeriveObjectKey(bucket, key, versionID)
		if err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "derive SSE-S3 key")
		}
		ct, err := crypto.Seal(objKey, plaintext)
		if err != nil {
			return nil, nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "seal object")
		}
		return ct, &xlstorage.EncryptionDescriptor{Algorithm: "AES256", SSEType: xlstorage.SSETypeS3}, nil
	case xlstorage.SSETypeC:
		k := crypto.SSECKey{Key: sse.Key, KeyMD5: sse.KeyMD5}
		if err := k.VerifyMD5(); err != nil {
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

func (e *ErasureLayer) openForRead(bucket, key, versionID string, ciphertext []byte, enc *xlstorage.EncryptionDescriptor, sse *SSEParams) ([]byte, error) {
	if enc == nil {
		return ciphertext, nil
	}
	switch enc.SSEType {
	case xlstorage.SSETypeS3:
		if e.masterKey == nil {
			return nil, maxioerr.New(maxioerr.CodeInternal, "object is SSE-S3 encrypted but no master key is configured")
		}
		objKey, err := e.masterKey.DeriveObjectKey(bucket, key, versionID)
		if err != nil {
			return nil, maxioerr.Wrap(maxioerr.CodeInternal, err, "derive SSE-S3 key")
		}
		return crypto.Open(objKey, ciphertext)
	case xlstorage.SSETypeC:
		if sse == nil {
			return nil, maxioerr.New(maxioerr.CodeAccessDenied, "object requires an SSE-C key")
		}
		if err := crypto.CheckSSECAccess(enc.KeyMD5, sse.KeyMD5); err != nil {
			return nil, err
		}
		return crypto.Open(sse.Key, ciphertext)
	default:
		return nil, maxioerr.New(maxioerr.CodeInternal, "unknown encryption descriptor %q", enc.SSEType)
	}
}

// PutObject implements spec.md §4.3's PUT path.
func (e *ErasureLayer) PutObject(ctx context.Context, bucket, key string, in PutObjectInput) (ObjectInfo, error) {
	plaintext, err := io.ReadAll(in.Reader)
	if err != nil {
		return ObjectInfo{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "read request body")
	}
	return e.putObjectWithETag(ctx, bucket, key, plaintext, in.ContentType, in.Metadata, in.SSE, "")
}

// putObjectWithETag is PutObject's core, parameterised over an optional
// etagOverride so CompleteMultipart can write the composite etag directly
// into the new version's meta instead of overwriting it after the fact,
// per the Open Question resolution in SPEC_FULL.md §9.
func (e *ErasureLayer) putObjectWithETag(ctx context.Context, bucket, key string, plaintext []byte, contentType string, metadata map[string]string, sse *SSEParams, etagOverride string) (ObjectInfo, error) {
	if !xlstorage.IsValidObjectName(key) {
		return ObjectInfo{}, maxioerr.New(maxioerr.CodeInvalidObjectName, "invalid object name %q", key)
	}
	in := PutObjectInput{ContentType: contentType, Metadata: metadata, SSE: sse}

	var out ObjectInfo
	putErr := withObjectLock(ctx, e.locks, bucket, key, true, func() error {
		vstate, err := e.GetVersioning(ctx, bucket)
		if err != nil {
			return err
		}

		// versionID always names the on-disk directory a write lands in,
		// even under Unversioned bucket state, where it plays the role
		// single-disk's meta.DataDir plays: a fresh directory per write,
		// with no entry recorded in .versions.json.
		versionID := xlstorage.NewUUID()
		recordedVersionID := ""
		switch xlstorage.VersioningState(vstate) {
		case xlstorage.VersioningEnabled:
			recordedVersionID = versionID
		case xlstorage.VersioningSuspended:
			versionID = xlstorage.NullVersionID
			recordedVersionID = versionID
		}

		etag := etagOverride
		if etag == "" {
			sum := md5.Sum(plaintext)
			etag = hex.EncodeToString(sum[:])
		}

		ciphertext, encDesc, serr := e.sealForWrite(bucket, key, recordedVersionID, plaintext, in.SSE)
		if serr != nil {
			return serr
		}

		// Step 2: best-effort remove the prior object/version on every
		// disk before writing the new one.
		var g errgroup.Group
		for _, d := range e.disks {
			d := d
			g.Go(func() error {
				switch xlstorage.VersioningState(vstate) {
				case xlstorage.VersioningSuspended:
					_ = d.RemoveAll(xlstorage.VersionDirPath(bucket, key, xlstorage.NullVersionID))
				case xlstorage.VersioningUnversioned:
					_ = d.RemoveAll(xlstorage.ObjectDirPath(bucket, key))
				}
				return nil
			})
		}
		_ = g.Wait()

		blockCount := e.cfg.BlockCount(int64(len(ciphertext)))
		checksums := make([]string, blockCount)
		for i := int64(0); i < blockCount; i++ {
			start := i * e.cfg.BlockSize
			end := start + e.cfg.BlockSize
			if end > int64(len(ciphertext)) {
				end = int64(len(ciphertext))
			}
			block := ciphertext[start:end]
			sum := sha256.Sum256(block)
			checksums[i] = hex.EncodeToString(sum[:])

			shards, eerr := e.codec.Encode(block)
			if eerr != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, eerr, "encode block %d", i)
			}

			written := 0
			var wg errgroup.Group
			var mu countMutex
			for disk, shard := range shards {
				disk, shard := disk, shard
				wg.Go(func() error {
					path := xlstorage.BlockPartPath(bucket, key, versionID, int(i))
					if werr := e.disks[disk].WriteAll(path, shard); werr == nil {
						mu.inc()
					}
					return nil
				})
			}
			_ = wg.Wait()
			written = mu.n
			if written < e.cfg.DataShards {
				return maxioerr.New(maxioerr.CodeInternal, "block %d: only %d/%d shard writes succeeded, need %d", i, written, e.cfg.Total(), e.cfg.DataShards)
			}
		}

		meta := xlstorage.NewMeta()
		meta.DataDir = versionID
		meta.Size = int64(len(ciphertext))
		meta.ETag = etag
		meta.ContentType = in.ContentType
		meta.ModTime = time.Now().UTC().Format(time.RFC3339Nano)
		meta.Encryption = encDesc
		meta.VersionID = recordedVersionID
		if in.Metadata != nil {
			meta.Metadata = in.Metadata
		}
		meta.Erasure = &xlstorage.ErasureInfo{
			DataShards: e.cfg.DataShards, ParityShards: e.cfg.ParityShards,
			BlockSize: e.cfg.BlockSize, TotalSize: int64(len(ciphertext)), BlockChecksums: checksums,
		}
		mb, merr := meta.Marshal()
		if merr != nil {
			return maxioerr.Wrap(maxioerr.CodeInternal, merr, "marshal xl.meta")
		}

		metaPath := xlstorage.VersionMetaPath(bucket, key, versionID)
		if xlstorage.VersioningState(vstate) == xlstorage.VersioningUnversioned {
			metaPath = xlstorage.LegacyMetaPath(bucket, key)
		}
		metaWritten := 0
		var mwg errgroup.Group
		var mmu countMutex
		for _, disk := range e.disks {
			disk := disk
			mwg.Go(func() error {
				if werr := disk.WriteAll(metaPath, mb); werr == nil {
					mmu.inc()
				}
				return nil
			})
		}
		_ = mwg.Wait()
		metaWritten = mmu.n
		if metaWritten < e.cfg.DataShards {
			return maxioerr.New(maxioerr.CodeInternal, "only %d/%d disks accepted xl.meta, need %d", metaWritten, e.cfg.Total(), e.cfg.DataShards)
		}

		if err := e.updateVersionsIndex(bucket, key, recordedVersionID, xlstorage.VersioningState(vstate), etag, meta.Size, meta.ModTime); err != nil {
			return err
		}

		out = ObjectInfo{Bucket: bucket, Key: key, VersionID: recordedVersionID, Size: meta.Size, ETag: etag, ContentType: meta.ContentType, ModTime: mustParseTime(meta.ModTime), Metadata: meta.Metadata}
		return nil
	})
	return out, putErr
}

func (e *ErasureLayer) updateVersionsIndex(bucket, key, versionID string, vstate xlstorage.VersioningState, etag string, size int64, modTime string) error {
	if vstate == xlstorage.VersioningUnversioned {
		return nil
	}
	var entries []xlstorage.VersionEntry
	for _, d := range e.disks {
		if es, err := d.LoadVersions(bucket, key); err == nil {
			entries = es
			break
		}
	}
	entry := xlstorage.VersionEntry{VersionID: versionID, LastModified: modTime, ETag: etag, Size: size}
	if vstate == xlstorage.VersioningSuspended {
		entries = xlstorage.ReplaceOrPrependNull(entries, entry)
	} else {
		entries = xlstorage.PrependVersion(entries, entry)
	}
	written := 0
	for _, d := range e.disks {
		if d.SaveVersions(bucket, key, entries) == nil {
			written++
		}
	}
	if written < e.quorum() {
		return maxioerr.New(maxioerr.CodeInternal, "only %d/%d disks accepted versions index, need %d", written, e.cfg.Total(), e.quorum())
	}
	return nil
}

// countMutex is a tiny concurrency-safe counter for errgroup fan-out
// results over per-shard/per-disk write outcomes.
type countMutex struct {
	mu sync.Mutex
	n  int
}

func (c *countMutex) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// resolveMeta mirrors the single-disk engine's GET resolution (spec.md
// §4.2/§4.3): read xl.meta from any disk that has it, first success wins.
func (e *ErasureLayer) resolveMeta(bucket, key, versionID string) (xlstorage.Meta, string, error) {
	var entries []xlstorage.VersionEntry
	haveIndex := false
	for _, d := range e.disks {
		if es, err := d.LoadVersions(bucket, key); err == nil {
			entries = es
			haveIndex = true
			break
		}
	}
	if haveIndex {
		resolved := versionID
		if resolved == "" {
			latest, ok := xlstorage.LatestNonDeleteMarker(entries)
			if !ok {
				return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "object %q not found", key)
			}
			resolved = latest.VersionID
		} else if entry, ok := xlstorage.FindVersion(entries, versionID); ok && entry.IsDeleteMarker {
			return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "version %q is a delete marker", versionID)
		}
		for _, d := range e.disks {
			if mb, err := d.ReadAll(xlstorage.VersionMetaPath(bucket, key, resolved)); err == nil {
				m, err := xlstorage.UnmarshalMeta(mb)
				return m, resolved, err
			}
		}
		return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "xl.meta for version %q not found on any disk", resolved)
	}

	for _, d := range e.disks {
		if mb, err := d.ReadAll(xlstorage.LegacyMetaPath(bucket, key)); err == nil {
			m, err := xlstorage.UnmarshalMeta(mb)
			return m, "", err
		}
	}
	return xlstorage.Meta{}, "", maxioerr.New(maxioerr.CodeObjectNotFound, "object %q not found", key)
}

// GetObject implements spec.md §4.3's GET path: per-block >=d shard reads,
// reconstruction, and bitrot verification against the stored checksum.
func (e *ErasureLayer) GetObject(ctx context.Context, bucket, key string, in GetObjectInput) (GetObjectOutput, error) {
	var out GetObjectOutput
	err := withObjectLock(ctx, e.locks, bucket, key, false, func() error {
		m, resolvedVersion, err := e.resolveMeta(bucket, key, in.VersionID)
		if err != nil {
			return err
		}
		if m.Erasure == nil {
			return maxioerr.New(maxioerr.CodeInternal, "object %q has no erasure metadata", key)
		}
		// Block paths are always rooted at meta.DataDir -- the same
		// directory name set at PutObject time, whether that name also
		// appears in .versions.json (resolvedVersion != "") or not
		// (Unversioned bucket state).
		blockVersion := resolvedVersion
		if blockVersion == "" {
			blockVersion = m.DataDir
		}
		blockCount := m.Erasure.BlockCount()
		ciphertext := make([]byte, 0, m.Erasure.TotalSize)

		for i := int64(0); i < blockCount; i++ {
			shards := make([][]byte, e.cfg.Total())
			present := 0
			for disk := range e.disks {
				path := xlstorage.BlockPartPath(bucket, key, blockVersion, int(i))
				b, rerr := e.disks[disk].ReadAll(path)
				if rerr != nil {
					continue
				}
				shards[disk] = b
				present++
			}
			if present < e.cfg.DataShards {
				return maxioerr.New(maxioerr.CodeInternal, "block %d: only %d/%d shards readable, need %d", i, present, e.cfg.Total(), e.cfg.DataShards)
			}
			block, derr := e.codec.Decode(shards)
			if derr != nil {
				return maxioerr.Wrap(maxioerr.CodeInternal, derr, "decode block %d", i)
			}
			expected := e.cfg.BlockSize
			if i == blockCount-1 {
				expected = m.Erasure.TotalSize - i*e.cfg.BlockSize
				if expected < 0 {
					expected = 0
				}
				if expected > e.cfg.BlockSize {
					expected = e.cfg.BlockSize
				}
			}
			if int64(len(block)) < expected {
				return maxioerr.New(maxioerr.CodeInternal, "block %d reconstructed short: got %d want >= %d", i, len(block), expected)
			}
			block = block[:expected]

			sum := sha256.Sum256(block)
			got := hex.EncodeToString(sum[:])
			if int(i) >= len(m.Erasure.BlockChecksums) || got != m.Erasure.BlockChecksums[i] {
				return maxioerr.New(maxioerr.CodeInternal, "bitrot detected in block %d of %s/%s", i, bucket, key)
			}
			ciphertext = append(ciphertext, block...)
		}

		plaintext, perr := e.openForRead(bucket, key, resolvedVersion, ciphertext, m.Encryption, in.SSE)
		if perr != nil {
			return perr
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

func (e *ErasureLayer) HeadObject(ctx context.Context, bucket, key string, in GetObjectInput) (ObjectInfo, error) {
	var info ObjectInfo
	err := withObjectLock(ctx, e.locks, bucket, key, false, func() error {
		m, resolvedVersion, err := e.resolveMeta(bucket, key, in.VersionID)
		if err != nil {
			return err
		}
		info = ObjectInfo{Bucket: bucket, Key: key, VersionID: resolvedVersion, Size: m.Size, ETag: m.ETag, ContentType: m.ContentType, ModTime: mustParseTime(m.ModTime), Metadata: m.Metadata}
		return nil
	})
	return info, err
}

func (e *ErasureLayer) DeleteObject(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error) {
	var out ObjectInfo
	err := withObjectLock(ctx, e.locks, bucket, key, true, func() error {
		vstate, _ := e.GetVersioning(ctx, bucket)

		if versionID != "" {
			var entries []xlstorage.VersionEntry
			for _, d := range e.disks {
				if es, err := d.LoadVersions(bucket, key); err == nil {
					entries = es
					break
				}
			}
			entries = xlstorage.RemoveVersion(entries, versionID)
			for _, d := range e.disks {
				_ = d.RemoveAll(xlstorage.VersionDirPath(bucket, key, versionID))
			}
			if len(entries) == 0 {
				for _, d := range e.disks {
					_ = d.Remove(xlstorage.VersionsIndexPath(bucket, key))
					d.RemoveEmptyParents(bucket, key)
				}
			} else {
				for _, d := range e.disks {
					_ = d.SaveVersions(bucket, key, entries)
				}
			}
			out = ObjectInfo{Bucket: bucket, Key: key, VersionID: versionID}
			return nil
		}

		switch xlstorage.VersioningState(vstate) {
		case xlstorage.VersioningUnversioned, xlstorage.VersioningSuspended:
			for _, d := range e.disks {
				_ = d.RemoveAll(xlstorage.ObjectDirPath(bucket, key))
				d.RemoveEmptyParents(bucket, key)
			}
			out = ObjectInfo{Bucket: bucket, Key: key}
		case xlstorage.VersioningEnabled:
			marker := xlstorage.NewUUID()
			var entries []xlstorage.VersionEntry
			for _, d := range e.disks {
				if es, err := d.LoadVersions(bucket, key); err == nil {
					entries = es
					break
				}
			}
			entries = xlstorage.PrependVersion(entries, xlstorage.VersionEntry{VersionID: marker, IsDeleteMarker: true, LastModified: time.Now().UTC().Format(time.RFC3339Nano)})
			for _, d := range e.disks {
				_ = d.SaveVersions(bucket, key, entries)
			}
			out = ObjectInfo{Bucket: bucket, Key: key, VersionID: marker, IsDeleteMarker: true}
		}
		return nil
	})
	return out, err
}

func (e *ErasureLayer) ListObjectVersions(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error) {
	var names []string
	for _, d := range e.disks {
		if ns, err := d.ListDir(bucket); err == nil {
			names = ns
			break
		}
	}
	if names == nil {
		return nil, maxioerr.New(maxioerr.CodeBucketNotFound, "bucket %q does not exist", bucket)
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
		var entries []xlstorage.VersionEntry
		haveIndex := false
		for _, d := range e.disks {
			if es, err := d.LoadVersions(bucket, key); err == nil {
				entries = es
				haveIndex = true
				break
			}
		}
		if !haveIndex {
			for _, d := range e.disks {
				mb, err := d.ReadAll(xlstorage.LegacyMetaPath(bucket, key))
				if err != nil {
					continue
				}
				m, err := xlstorage.UnmarshalMeta(mb)
				if err != nil {
					continue
				}
				out = append(out, ObjectInfo{Bucket: bucket, Key: key, Size: m.Size, ETag: m.ETag, ModTime: mustParseTime(m.ModTime)})
				break
			}
			if maxKeys > 0 && len(out) >= maxKeys {
				return out, nil
			}
			continue
		}
		for _, ve := range entries {
			out = append(out, ObjectInfo{Bucket: bucket, Key: key, VersionID: ve.VersionID, IsDeleteMarker: ve.IsDeleteMarker, Size: ve.Size, ETag: ve.ETag, ModTime: mustParseTime(ve.LastModified)})
			if maxKeys > 0 && len(out) >= maxKeys {
				return out, nil
			}
		}
	}
	return out, nil
}
