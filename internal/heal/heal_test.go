package heal

import (
	"bytes"
	"context"
	"io"
	"testing"

	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/erasure"
	"github.com/maxio/maxio/internal/objectlayer"
	"github.com/maxio/maxio/internal/xlstorage"
)

func newHealSet(t *testing.T, d, p int, blockSize int64) (*objectlayer.ErasureLayer, []*xlstorage.Disk, erasure.Config, *erasure.Codec) {
	t.Helper()
	disks := make([]*xlstorage.Disk, d+p)
	for i := range disks {
		disk, err := xlstorage.NewDisk(t.TempDir())
		if err != nil {
			t.Fatalf("NewDisk: %v", err)
		}
		disks[i] = disk
	}
	cfg := erasure.Config{DataShards: d, ParityShards: p, BlockSize: blockSize}
	codec, err := erasure.New(cfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	e, err := objectlayer.NewErasureLayer(disks, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewErasureLayer: %v", err)
	}
	return e, disks, cfg, codec
}

func TestElectCanonicalPicksLexFirstOnTie(t *testing.T) {
	obs := []observation{
		{diskIndex: 0, signature: "bbb", present: true},
		{diskIndex: 1, signature: "aaa", present: true},
		{diskIndex: 2, signature: "bbb", present: true},
		{diskIndex: 3, signature: "aaa", present: true},
	}
	sig, count := electCanonical(obs)
	if sig != "aaa" || count != 2 {
		t.Fatalf("expected tie-break to pick lexicographically first signature \"aaa\", got %q count %d", sig, count)
	}
}

func TestElectCanonicalIgnoresAbsent(t *testing.T) {
	obs := []observation{
		{diskIndex: 0, signature: "x", present: true},
		{diskIndex: 1, present: false},
		{diskIndex: 2, signature: "x", present: true},
	}
	sig, count := electCanonical(obs)
	if sig != "x" || count != 2 {
		t.Fatalf("expected \"x\" with count 2, got %q %d", sig, count)
	}
}

func TestObjectHealsMissingDisk(t *testing.T) {
	ctx := context.Background()
	e, disks, cfg, codec := newHealSet(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	body := []byte("heal this object back onto the missing disk")
	if _, err := e.PutObject(ctx, "b", "k", objectlayer.PutObjectInput{Reader: bytes.NewReader(body)}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	if err := disks[0].RemoveAll(xlstorage.ObjectDirPath("b", "k")); err != nil {
		t.Fatalf("simulate disk loss: %v", err)
	}

	log := zap.NewNop()
	rep, err := Object(ctx, log, disks, cfg, codec, "b", "k", "")
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if !rep.Healed {
		t.Fatal("expected Healed to be true")
	}
	if rep.Disks[0].Before != StateAbsent || rep.Disks[0].After != StateRepaired {
		t.Fatalf("expected disk 0 to go Absent->Repaired, got %+v", rep.Disks[0])
	}

	// Disk 0 must now have the xl.meta back.
	if _, err := disks[0].ReadAll(xlstorage.LegacyMetaPath("b", "k")); err != nil {
		t.Fatalf("expected xl.meta restored on disk 0: %v", err)
	}

	out, err := e.GetObject(ctx, "b", "k", objectlayer.GetObjectInput{})
	if err != nil {
		t.Fatalf("GetObject after heal: %v", err)
	}
	got, err := io.ReadAll(out.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("expected healed body to round-trip, got %q", got)
	}
}

func TestObjectNoopWhenAllHealthy(t *testing.T) {
	ctx := context.Background()
	e, disks, cfg, codec := newHealSet(t, 2, 1, 1024)
	if err := e.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if _, err := e.PutObject(ctx, "b", "k", objectlayer.PutObjectInput{Reader: bytes.NewReader([]byte("already healthy"))}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rep, err := Object(ctx, zap.NewNop(), disks, cfg, codec, "b", "k", "")
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if rep.Healed {
		t.Fatal("expected Healed to be false when every disk already agrees")
	}
	for _, d := range rep.Disks {
		if d.Before != StateHealthy || d.After != StateHealthy {
			t.Fatalf("expected every disk Healthy, got %+v", d)
		}
	}
}
