package replication

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolReplicatesToCompletedStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") == "" {
			t.Error("expected a signed request")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.NormalWorkers = 2
	cfg.LargeWorkers = 1
	cfg.MrfWorkers = 1
	p := New(zap.NewNop(), cfg, []Target{
		{ARN: "arn:1", Endpoint: srv.URL, Bucket: "mirror", AccessKey: "ak", SecretKey: "sk", Region: "us-east-1"},
	})

	if err := p.Submit(Job{Bucket: "b", Key: "k", Body: []byte("payload")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.OverallStatus("b", "k", "") == StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.OverallStatus("b", "k", ""); got != StatusCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one PUT, got %d", hits)
	}
}

func TestPoolFailureEnqueuesMrf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.NormalWorkers = 1
	cfg.LargeWorkers = 1
	cfg.MrfWorkers = 1
	p := New(zap.NewNop(), cfg, []Target{
		{ARN: "arn:1", Endpoint: srv.URL, Bucket: "mirror", AccessKey: "ak", SecretKey: "sk"},
	})

	if err := p.Submit(Job{Bucket: "b", Key: "k", Body: []byte("x")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.OverallStatus("b", "k", "") == StatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.OverallStatus("b", "k", ""); got != StatusFailed {
		t.Fatalf("expected Failed, got %s", got)
	}
	if p.mrf.Len() != 1 {
		t.Fatalf("expected one MRF entry queued, got %d", p.mrf.Len())
	}
}

func TestTierResizeGrowsAndShrinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NormalWorkers = 1
	cfg.LargeWorkers = 1
	cfg.MrfWorkers = 0
	p := New(zap.NewNop(), cfg, nil)

	if got := p.TierSize("normal"); got != 1 {
		t.Fatalf("expected 1 worker, got %d", got)
	}
	if err := p.Resize("normal", 3); err != nil {
		t.Fatalf("Resize grow: %v", err)
	}
	if got := p.TierSize("normal"); got != 4 {
		t.Fatalf("expected 4 workers after growing, got %d", got)
	}
	if err := p.Resize("normal", -2); err != nil {
		t.Fatalf("Resize shrink: %v", err)
	}
	if got := p.TierSize("normal"); got != 2 {
		t.Fatalf("expected 2 workers after shrinking, got %d", got)
	}
}

func TestOverallStatusCollapsing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NormalWorkers = 0
	cfg.LargeWorkers = 0
	cfg.MrfWorkers = 0
	p := New(zap.NewNop(), cfg, []Target{{ARN: "a"}, {ARN: "b"}})
	p.status["bucket/key"] = map[string]Status{"a": StatusCompleted, "b": StatusReplica}
	if got := p.OverallStatus("bucket", "key", ""); got != StatusCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
	p.status["bucket/key"]["b"] = StatusFailed
	if got := p.OverallStatus("bucket", "key", ""); got != StatusFailed {
		t.Fatalf("expected Failed, got %s", got)
	}
	p.status["bucket/key"]["b"] = StatusPending
	if got := p.OverallStatus("bucket", "key", ""); got != StatusPending {
		t.Fatalf("expected Pending, got %s", got)
	}
}
