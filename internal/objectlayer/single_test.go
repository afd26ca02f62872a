package objectlayer

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/maxio/maxio/internal/xlstorage"
)

func newSingleLayer(t *testing.T) *SingleDiskLayer {
	t.Helper()
	disk, err := xlstorage.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return NewSingleDiskLayer(disk, nil, nil)
}

func TestSingleDiskPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSingleLayer(t)
	if err := s.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	body := []byte("hello world")
	info, err := s.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader(body), ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if info.Size != int64(len(body)) {
		t.Fatalf("expected size %d, got %d", len(body), info.Size)
	}

	out, err := s.GetObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, err := io.ReadAll(out.Reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("expected %q, got %q", body, got)
	}
	if out.Info.ETag != info.ETag {
		t.Fatalf("etag mismatch: put %q get %q", info.ETag, out.Info.ETag)
	}
}

func TestSingleDiskVersioningLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSingleLayer(t)
	if err := s.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if err := s.SetVersioning(ctx, "b", true, false); err != nil {
		t.Fatalf("SetVersioning: %v", err)
	}

	v1, err := s.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader([]byte("v1"))})
	if err != nil {
		t.Fatalf("PutObject v1: %v", err)
	}
	v2, err := s.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader([]byte("v2"))})
	if err != nil {
		t.Fatalf("PutObject v2: %v", err)
	}
	if v1.VersionID == "" || v2.VersionID == "" || v1.VersionID == v2.VersionID {
		t.Fatalf("expected distinct version ids, got %q and %q", v1.VersionID, v2.VersionID)
	}

	head, err := s.HeadObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("HeadObject: %v", err)
	}
	if head.VersionID != v2.VersionID {
		t.Fatalf("expected latest version %q, got %q", v2.VersionID, head.VersionID)
	}

	old, err := s.HeadObject(ctx, "b", "k", GetObjectInput{VersionID: v1.VersionID})
	if err != nil {
		t.Fatalf("HeadObject old version: %v", err)
	}
	if old.ETag != v1.ETag {
		t.Fatalf("old version etag mismatch")
	}

	deleted, err := s.DeleteObject(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if !deleted.IsDeleteMarker {
		t.Fatal("expected a delete marker")
	}
	if _, err := s.HeadObject(ctx, "b", "k", GetObjectInput{}); err == nil {
		t.Fatal("expected HeadObject to fail after delete marker")
	}
	if _, err := s.HeadObject(ctx, "b", "k", GetObjectInput{VersionID: v1.VersionID}); err != nil {
		t.Fatalf("expected old version to still be readable: %v", err)
	}
}

func TestSingleDiskMultipartCompositeETag(t *testing.T) {
	ctx := context.Background()
	s := newSingleLayer(t)
	if err := s.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	mp, err := s.CreateMultipart(ctx, "b", "k", "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("CreateMultipart: %v", err)
	}
	etag1, err := s.UploadPart(ctx, "b", "k", mp.UploadID, 1, bytes.NewReader([]byte("part-one-")))
	if err != nil {
		t.Fatalf("UploadPart 1: %v", err)
	}
	etag2, err := s.UploadPart(ctx, "b", "k", mp.UploadID, 2, bytes.NewReader([]byte("part-two")))
	if err != nil {
		t.Fatalf("UploadPart 2: %v", err)
	}

	info, err := s.CompleteMultipart(ctx, "b", "k", mp.UploadID, []CompletedPart{
		{PartNumber: 1, ETag: etag1},
		{PartNumber: 2, ETag: etag2},
	})
	if err != nil {
		t.Fatalf("CompleteMultipart: %v", err)
	}
	if info.ETag == etag1 || info.ETag == etag2 {
		t.Fatalf("expected a composite etag distinct from either part, got %q", info.ETag)
	}

	out, err := s.GetObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, _ := io.ReadAll(out.Reader)
	if string(got) != "part-one-part-two" {
		t.Fatalf("expected concatenated body, got %q", got)
	}
	if out.Info.ETag != info.ETag {
		t.Fatalf("expected composite etag persisted directly, got put=%q get=%q", info.ETag, out.Info.ETag)
	}
}

func TestSingleDiskDeleteBucketRejectsNonEmpty(t *testing.T) {
	ctx := context.Background()
	s := newSingleLayer(t)
	if err := s.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if _, err := s.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader([]byte("x"))}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := s.DeleteBucket(ctx, "b"); err == nil {
		t.Fatal("expected DeleteBucket to fail on a non-empty bucket")
	}
}
