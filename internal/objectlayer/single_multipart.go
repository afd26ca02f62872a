package objectlayer

import (
	"context"
	"io"
)

func (s *SingleDiskLayer) CreateMultipart(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (MultipartInfo, error) {
	return createMultipart(s.disk, bucket, key, contentType, metadata)
}

func (s *SingleDiskLayer) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader) (string, error) {
	return uploadPart(s.disk, bucket, key, uploadID, partNumber, r)
}

func (s *SingleDiskLayer) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (ObjectInfo, error) {
	resolvedKey, data, etag, err := completeMultipart(s.disk, bucket, uploadID, parts)
	if err != nil {
		return ObjectInfo{}, err
	}
	if resolvedKey == "" {
		resolvedKey = key
	}
	info, err := s.putObject(ctx, bucket, resolvedKey, data, "", nil, nil, etag)
	if err != nil {
		return ObjectInfo{}, err
	}
	_ = abortMultipart(s.disk, bucket, uploadID)
	return info, nil
}

func (s *SingleDiskLayer) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	return abortMultipart(s.disk, bucket, uploadID)
}
