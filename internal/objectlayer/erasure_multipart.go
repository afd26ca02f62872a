package objectlayer

import (
	"context"
	"io"
)

// Multipart staging for the erasure engine reuses the disk-level free
// functions in multipart.go, parking parts on the erasure set's first
// member disk rather than striping them -- a part is re-read in full on
// CompleteMultipart anyway, so staging it unstriped costs nothing extra
// and avoids inventing a second, lower-durability erasure geometry just
// for upload staging.
func (e *ErasureLayer) CreateMultipart(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (MultipartInfo, error) {
	return createMultipart(e.disks[0], bucket, key, contentType, metadata)
}

func (e *ErasureLayer) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader) (string, error) {
	return uploadPart(e.disks[0], bucket, key, uploadID, partNumber, r)
}

func (e *ErasureLayer) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (ObjectInfo, error) {
	resolvedKey, data, etag, err := completeMultipart(e.disks[0], bucket, uploadID, parts)
	if err != nil {
		return ObjectInfo{}, err
	}
	if resolvedKey == "" {
		resolvedKey = key
	}
	info, err := e.putObjectWithETag(ctx, bucket, resolvedKey, data, "", nil, nil, etag)
	if err != nil {
		return ObjectInfo{}, err
	}
	_ = abortMultipart(e.disks[0], bucket, uploadID)
	return info, nil
}

func (e *ErasureLayer) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	return abortMultipart(e.disks[0], bucket, uploadID)
}
