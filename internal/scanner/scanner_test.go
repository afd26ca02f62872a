package scanner

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/objectlayer"
	"github.com/maxio/maxio/internal/xlstorage"
)

func newTestScanner(t *testing.T, cfg Config) (*Scanner, *xlstorage.Disk, *objectlayer.SingleDiskLayer) {
	t.Helper()
	disk, err := xlstorage.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ol := objectlayer.NewSingleDiskLayer(disk, nil, nil)
	return New(zap.NewNop(), disk, ol, cfg), disk, ol
}

func TestRunCycleAcquiresLeaderAndAdvances(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	s, _, ol := newTestScanner(t, cfg)
	if err := ol.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if _, err := ol.PutObject(ctx, "b", "k", objectlayer.PutObjectInput{Reader: bytes.NewReader([]byte("v"))}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	if err := s.RunCycle(ctx, false); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	st, err := s.loadState()
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if st.Cycle.Current != 0 || st.Cycle.Next != 1 {
		t.Fatalf("expected cycle 0 completed and next=1, got %+v", st.Cycle)
	}
	if st.Cycle.CycleCompleted == nil {
		t.Fatal("expected CycleCompleted to be set")
	}
	if _, ok := st.DataUsageCache["b/k"]; !ok {
		t.Fatalf("expected cache entry for b/k, got %+v", st.DataUsageCache)
	}

	if err := s.RunCycle(ctx, false); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	st2, _ := s.loadState()
	if st2.Cycle.Current != 1 {
		t.Fatalf("expected cycle to advance to 1, got %d", st2.Cycle.Current)
	}
}

func TestRunCycleSkipsWhenLeaderLockHeld(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	s, disk, _ := newTestScanner(t, cfg)
	release, ok := s.acquireLeader()
	if !ok {
		t.Fatal("expected to acquire leader lock")
	}
	defer release()

	if err := s.RunCycle(ctx, false); err != nil {
		t.Fatalf("RunCycle should no-op, not error: %v", err)
	}
	if _, err := disk.ReadAll([]string{stateFile}); err == nil {
		t.Fatal("expected no state file to be written while lock is held elsewhere")
	}
}

func TestDeepScanSamplesAndVerifies(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DeepScanSampleRate = 1 // sample every object
	var verified []string
	cfg.HealVerify = func(bucket, key string) error {
		verified = append(verified, bucket+"/"+key)
		return nil
	}
	s, _, ol := newTestScanner(t, cfg)
	if err := ol.MakeBucket(ctx, "b"); err != nil {
		t.Fatalf("MakeBucket: %v", err)
	}
	if _, err := ol.PutObject(ctx, "b", "k", objectlayer.PutObjectInput{Reader: bytes.NewReader([]byte("v"))}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	if err := s.RunCycle(ctx, true); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(verified) != 1 || verified[0] != "b/k" {
		t.Fatalf("expected deep scan to verify b/k, got %v", verified)
	}
}

func TestCompactCollapsesSmallBranches(t *testing.T) {
	s := &Scanner{}
	for i := 0; i < 10; i++ {
		s.update = append(s.update, ScannerItem{Bucket: "b", Key: "branch/obj" + string(rune('a'+i))})
	}
	s.compact()
	if len(s.update) != 1 {
		t.Fatalf("expected branch collapsed to a single synthetic entry, got %d: %+v", len(s.update), s.update)
	}
	if s.update[0].Key != "b/branch/*" {
		t.Fatalf("expected synthetic key \"b/branch/*\", got %q", s.update[0].Key)
	}
}

func TestHashKeyIsDeterministic(t *testing.T) {
	a := hashKey(5, "bucket", "key")
	b := hashKey(5, "bucket", "key")
	c := hashKey(6, "bucket", "key")
	if a != b {
		t.Fatal("expected identical inputs to hash identically")
	}
	if a == c {
		t.Fatal("expected different cycles to usually hash differently")
	}
}
