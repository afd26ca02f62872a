package lifecycle

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/objectlayer"
)

func TestExpirationByDays(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	e := Expiration{Days: 5}
	old := now.Add(-6 * 24 * time.Hour)
	recent := now.Add(-1 * 24 * time.Hour)
	if !e.expired(old, now) {
		t.Fatal("expected old object to be expired")
	}
	if e.expired(recent, now) {
		t.Fatal("expected recent object to not be expired")
	}
}

func TestExpirationByDate(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	e := Expiration{Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}
	if !e.expired(time.Time{}, now) {
		t.Fatal("expected cutoff to have passed")
	}
}

func TestEvaluateBucketCurrentAndNoncurrent(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := Config{Rules: []Rule{
		{ID: "r1", Prefix: "logs/", Status: "Enabled", Expiration: Expiration{Days: 3}, NoncurrentExpiration: NoncurrentExpiration{NoncurrentDays: 1}},
	}}
	versions := []objectlayer.ObjectInfo{
		{Key: "logs/a", VersionID: "v2", ModTime: now.Add(-1 * 24 * time.Hour)},  // current, not expired
		{Key: "logs/a", VersionID: "v1", ModTime: now.Add(-10 * 24 * time.Hour)}, // noncurrent, expired
		{Key: "other/b", VersionID: "v1", ModTime: now.Add(-100 * 24 * time.Hour)},
	}

	var expired []string
	expire := func(bucket, key, versionID string) error {
		expired = append(expired, key+"/"+versionID)
		return nil
	}
	EvaluateBucket(zap.NewNop(), cfg, "b", versions, expire, now)

	if len(expired) != 1 || expired[0] != "logs/a/v1" {
		t.Fatalf("expected only logs/a/v1 to expire, got %v", expired)
	}
}

func TestEvaluateBucketSkipsDisabledRules(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := Config{Rules: []Rule{
		{ID: "r1", Prefix: "", Status: "Disabled", Expiration: Expiration{Days: 1}},
	}}
	versions := []objectlayer.ObjectInfo{
		{Key: "a", VersionID: "v1", ModTime: now.Add(-100 * 24 * time.Hour)},
	}
	var expired []string
	EvaluateBucket(zap.NewNop(), cfg, "b", versions, func(bucket, key, versionID string) error {
		expired = append(expired, key)
		return nil
	}, now)
	if len(expired) != 0 {
		t.Fatalf("expected no expirations from a disabled rule, got %v", expired)
	}
}
