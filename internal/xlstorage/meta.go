package xlstorage

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in, faster encoding/json used throughout this package for
// xl.meta, the versions index and multipart staging metadata — all are
// small, high-frequency JSON documents on the hot path.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncryptionDescriptor records which key derivation produced the ciphertext
// in part.1, per spec.md §4.2. The raw key is never stored — only the
// algorithm, the SSE type and, for SSE-C, the caller-supplied key's MD5.
type EncryptionDescriptor struct {
	Algorithm string `json:"algorithm"`
	SSEType   string `json:"sse_type"`
	KeyMD5    string `json:"key_md5,omitempty"`
}

const (
	SSETypeS3 = "SSE-S3"
	SSETypeC  = "SSE-C"
)

// ErasureInfo is the erasure block descriptor spec.md §3/§6 defines,
// present only in erasure mode.
type ErasureInfo struct {
	DataShards      int      `json:"data_shards"`
	ParityShards    int      `json:"parity_shards"`
	BlockSize       int64    `json:"block_size"`
	TotalSize       int64    `json:"total_size"`
	BlockChecksums  []string `json:"block_checksums"`
}

// Meta is xl.meta, spec.md §3/§6.
type Meta struct {
	Version     string            `json:"version"`
	DataDir     string            `json:"data_dir"`
	Size        int64             `json:"size"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"content_type"`
	ModTime     string            `json:"mod_time"` // RFC3339
	Metadata    map[string]string `json:"metadata"`

	VersionID      string `json:"version_id,omitempty"`
	IsDeleteMarker bool   `json:"is_delete_marker"`

	Encryption *EncryptionDescriptor `json:"encryption,omitempty"`
	Erasure    *ErasureInfo          `json:"erasure,omitempty"`
}

const metaSchemaVersion = "1.0"

// NewMeta builds a Meta with the schema version stamped, as every writer in
// this package must.
func NewMeta() Meta {
	return Meta{Version: metaSchemaVersion, Metadata: map[string]string{}}
}

func (m Meta) Marshal() ([]byte, error) { return json.Marshal(m) }

func UnmarshalMeta(b []byte) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Signature computes the per-disk observation signature the healing engine
// elects a canonical meta from (spec.md §4.7): "version:size:etag:d:p:b:
// csum1,csum2,...". Two disks' xl.meta produce the same signature iff they
// are healable-equivalent, i.e. there is nothing to repair between them.
func (m Meta) Signature() string {
	d, p, b := 0, 0, int64(0)
	var csums string
	if m.Erasure != nil {
		d, p, b = m.Erasure.DataShards, m.Erasure.ParityShards, m.Erasure.BlockSize
		csums = strings.Join(m.Erasure.BlockChecksums, ",")
	}
	return fmt.Sprintf("%s:%d:%s:%d:%d:%d:%s", m.Version, m.Size, m.ETag, d, p, b, csums)
}

// BlockCount returns the number of erasure blocks this version was written
// with, per spec.md §4.7: "from block_checksums.len() if present;
// otherwise max(1, ceil(total_size/b))".
func (ei ErasureInfo) BlockCount() int64 {
	if len(ei.BlockChecksums) > 0 {
		return int64(len(ei.BlockChecksums))
	}
	if ei.BlockSize <= 0 {
		return 1
	}
	n := (ei.TotalSize + ei.BlockSize - 1) / ei.BlockSize
	if n < 1 {
		n = 1
	}
	return n
}

// VersionEntry is one row of <key>/.versions.json, spec.md §3/§6, kept
// newest-first.
type VersionEntry struct {
	VersionID      string `json:"version_id"`
	IsDeleteMarker bool   `json:"is_delete_marker"`
	LastModified   string `json:"last_modified"`
	ETag           string `json:"etag,omitempty"`
	Size           int64  `json:"size"`
}

// NullVersionID is the reserved version id used under Suspended versioning
// (spec.md §3).
const NullVersionID = "null"
