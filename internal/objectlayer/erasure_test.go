package objectlayer

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/maxio/maxio/internal/erasure"
	"github.com/maxio/maxio/internal/xlstorage"
)

func newErasureLayer(t *testing.T, d, p int, blockSize int64) (*ErasureLayer, []*xlstorage.Disk) {
	t.Helper()
	disks := make([]*xlstorage.Disk, d+p)
	for i := range disks {
		disk, err := xlstorage.NewDisk(t.TempDir())
		if err != nil {
			t.Fatalf("NewDisk: %v", err)
		}
		disks[i] = disk
	}
	e, err := NewErasureLayer(disks, erasure.Config{DataShards: d, ParityShards: p, BlockSize: blockSize}, nil, nil)
	if err != nil {
		t.Fatalf("NewErasureLayer: %v", err)
	}
	return e, disks
}

func TestErasurePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := newErasureLayer(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	body := bytes.Repeat([]byte("erasure-data-"), 200) // spans multiple blocks
	info, err := e.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader(body)})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	out, err := e.GetObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, err := io.ReadAll(out.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(body))
	}
	if out.Info.ETag != info.ETag {
		t.Fatalf("etag mismatch")
	}
}

func TestErasureTolersSingleDiskLoss(t *testing.T) {
	ctx := context.Background()
	e, disks := newErasureLayer(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	body := []byte("tolerate one missing shard")
	if _, err := e.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader(body)}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	// Simulate one disk going missing by removing the object's directory from it.
	if err := disks[0].RemoveAll(xlstorage.ObjectDirPath("b", "k")); err != nil {
		t.Fatalf("simulate disk loss: %v", err)
	}

	out, err := e.GetObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject after one disk loss: %v", err)
	}
	got, _ := io.ReadAll(out.Reader)
	if !bytes.Equal(got, body) {
		t.Fatalf("expected reconstructed body to match, got %q", got)
	}
}

func TestErasureBitrotDetected(t *testing.T) {
	ctx := context.Background()
	e, disks := newErasureLayer(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	body := []byte("bitrot detection body")
	if _, err := e.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader(body)}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	// Overwrite block 0's shard (block_0/part.1) on every disk with bytes of
	// the wrong size, so reconstruction cannot silently recover a valid
	// block: no disk holds an intact shard of it.
	for _, d := range disks {
		path := xlstorage.BlockPartPath("b", "k", disks0VersionDir(t, d), 0)
		_ = d.WriteAll(path, []byte("corrupted-shard-bytes-of-the-wrong-size"))
	}

	if _, err := e.GetObject(ctx, "b", "k", GetObjectInput{}); err == nil {
		t.Fatal("expected bitrot or shard-size failure to surface as an error")
	}
}

// disks0VersionDir recovers the data_dir a legacy (Unversioned) erasure
// write used, by reading xl.meta back from disk d.
func disks0VersionDir(t *testing.T, d *xlstorage.Disk) string {
	t.Helper()
	mb, err := d.ReadAll(xlstorage.LegacyMetaPath("b", "k"))
	if err != nil {
		t.Fatalf("read xl.meta: %v", err)
	}
	m, err := xlstorage.UnmarshalMeta(mb)
	if err != nil {
		t.Fatalf("unmarshal xl.meta: %v", err)
	}
	return m.DataDir
}

func TestErasureVersioningLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newErasureLayer(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if err := e.SetVersioning(ctx, "b", true, false); err != nil {
		t.Fatalf("SetVersioning: %v", err)
	}
	v1, err := e.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader([]byte("v1"))})
	if err != nil {
		t.Fatalf("PutObject v1: %v", err)
	}
	v2, err := e.PutObject(ctx, "b", "k", PutObjectInput{Reader: bytes.NewReader([]byte("v2"))})
	if err != nil {
		t.Fatalf("PutObject v2: %v", err)
	}
	versions, err := e.ListObjectVersions(ctx, "b", "", 0)
	if err != nil {
		t.Fatalf("ListObjectVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].VersionID != v2.VersionID || versions[1].VersionID != v1.VersionID {
		t.Fatalf("expected newest-first [%s,%s], got %+v", v2.VersionID, v1.VersionID, versions)
	}
}

func TestErasureMultipartComposite(t *testing.T) {
	ctx := context.Background()
	e, _ := newErasureLayer(t, 2, 1, 4096)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	mp, err := e.CreateMultipart(ctx, "b", "k", "", nil)
	if err != nil {
		t.Fatalf("CreateMultipart: %v", err)
	}
	etag1, err := e.UploadPart(ctx, "b", "k", mp.UploadID, 1, bytes.NewReader([]byte("alpha-")))
	if err != nil {
		t.Fatalf("UploadPart 1: %v", err)
	}
	etag2, err := e.UploadPart(ctx, "b", "k", mp.UploadID, 2, bytes.NewReader([]byte("beta")))
	if err != nil {
		t.Fatalf("UploadPart 2: %v", err)
	}
	info, err := e.CompleteMultipart(ctx, "b", "k", mp.UploadID, []CompletedPart{
		{PartNumber: 1, ETag: etag1}, {PartNumber: 2, ETag: etag2},
	})
	if err != nil {
		t.Fatalf("CompleteMultipart: %v", err)
	}
	out, err := e.GetObject(ctx, "b", "k", GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, _ := io.ReadAll(out.Reader)
	if string(got) != "alpha-beta" {
		t.Fatalf("expected concatenated body, got %q", got)
	}
	if out.Info.ETag != info.ETag {
		t.Fatalf("composite etag not persisted directly")
	}
}
