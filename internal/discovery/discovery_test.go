package discovery

import (
	"testing"

	"go.uber.org/zap"
)

func TestPeerStartsUnknown(t *testing.T) {
	tr := New(zap.NewNop(), DefaultConfig(), []NodeConfig{{ID: "n1", Addr: "127.0.0.1:9000"}})
	if got := tr.PeerState("n1"); got != StateUnknown {
		t.Fatalf("expected Unknown, got %s", got)
	}
	if len(tr.OnlinePeers()) != 0 {
		t.Fatal("expected no online peers initially")
	}
}

func TestThreeStrikesMarksOffline(t *testing.T) {
	tr := New(zap.NewNop(), DefaultConfig(), []NodeConfig{{ID: "n1", Addr: "127.0.0.1:9000"}})
	p := tr.peers["n1"]

	tr.recordFailure(p)
	if tr.PeerState("n1") != StateUnknown {
		t.Fatalf("expected still Unknown after 1 failure, got %s", tr.PeerState("n1"))
	}
	tr.recordFailure(p)
	if tr.PeerState("n1") != StateUnknown {
		t.Fatalf("expected still Unknown after 2 failures, got %s", tr.PeerState("n1"))
	}
	tr.recordFailure(p)
	if tr.PeerState("n1") != StateOffline {
		t.Fatalf("expected Offline after 3 failures, got %s", tr.PeerState("n1"))
	}
}

func TestSingleSuccessRestoresOnline(t *testing.T) {
	tr := New(zap.NewNop(), DefaultConfig(), []NodeConfig{{ID: "n1", Addr: "127.0.0.1:9000"}})
	p := tr.peers["n1"]
	tr.recordFailure(p)
	tr.recordFailure(p)
	tr.recordFailure(p)
	if tr.PeerState("n1") != StateOffline {
		t.Fatalf("expected Offline, got %s", tr.PeerState("n1"))
	}

	tr.recordSuccess(p)
	if tr.PeerState("n1") != StateOnline {
		t.Fatalf("expected a single success to restore Online, got %s", tr.PeerState("n1"))
	}
	online := tr.OnlinePeers()
	if len(online) != 1 || online[0].ID != "n1" {
		t.Fatalf("expected OnlinePeers to report n1, got %+v", online)
	}
}

func TestClockSkewCheckDoesNotPanicOnUnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NTPServer = "127.0.0.1:1" // closed loopback port, forces a fast failure
	tr := New(zap.NewNop(), cfg, nil)
	tr.checkClockSkew() // must log and return, never panic or block indefinitely
}
