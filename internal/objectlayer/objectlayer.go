// Package objectlayer implements the PUT/GET/DELETE/multipart contract of
// spec.md §4.2 and §4.3: a single-disk object engine and an erasure object
// engine that expose the identical ObjectLayer capability interface spec.md
// §9 calls for ("Single-disk and erasure object engines expose identical
// contracts; everything above the engine is blind to which backend is in
// use").
//
// Grounded on object-api.go (the ObjectLayer interface shape) and
// xl-v1-common.go/xl-v1-bucket.go (bucket/object operation naming),
// generalized to the versioning states and encryption modes spec.md §3/§4.2
// define.
package objectlayer

import (
	"context"
	"io"
	"time"
)

// SSEParams carries either an SSE-S3 request (Type only) or an SSE-C
// request (Type, Key, KeyMD5), spec.md §4.2.
type SSEParams struct {
	Type   string // xlstorage.SSETypeS3 or xlstorage.SSETypeC
	Key    []byte // SSE-C only
	KeyMD5 string // SSE-C only, base64
}

// ObjectInfo is what callers of this package see back from a mutation or
// a GET/HEAD/list call.
type ObjectInfo struct {
	Bucket         string
	Key            string
	VersionID      string
	IsDeleteMarker bool
	Size           int64
	ETag           string
	ContentType    string
	ModTime        time.Time
	Metadata       map[string]string
}

// PutObjectInput is the PUT request body plus its S3-level attributes.
type PutObjectInput struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
	SSE         *SSEParams
}

// GetObjectInput selects which version to read and, for SSE-C objects, the
// caller-supplied key.
type GetObjectInput struct {
	VersionID string
	SSE       *SSEParams
}

// GetObjectOutput is a GET response: the caller must Close Reader.
type GetObjectOutput struct {
	Reader io.ReadCloser
	Info   ObjectInfo
}

// CompletedPart is one entry of a CompleteMultipart request, spec.md §4.2.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MultipartInfo describes an in-progress multipart upload.
type MultipartInfo struct {
	UploadID    string
	Bucket      string
	Key         string
	ContentType string
	Metadata    map[string]string
	Initiated   time.Time
}

// ObjectLayer is the capability interface spec.md §9 names: implementations
// are substitutable, and every caller above this layer is blind to whether
// it is talking to a single-disk or an erasure-coded backend.
type ObjectLayer interface {
	MakeBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) bool
	SetVersioning(ctx context.Context, bucket string, enabled bool, suspend bool) error
	GetVersioning(ctx context.Context, bucket string) (string, error)

	PutObject(ctx context.Context, bucket, key string, in PutObjectInput) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string, in GetObjectInput) (GetObjectOutput, error)
	HeadObject(ctx context.Context, bucket, key string, in GetObjectInput) (ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error)
	ListObjectVersions(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error)

	CreateMultipart(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (MultipartInfo, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader) (etag string, err error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (ObjectInfo, error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
}
