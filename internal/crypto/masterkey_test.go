package crypto

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"path/filepath"
	"testing"
)

func mustMD5Base64(b []byte) string {
	sum := md5.Sum(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestLoadOrCreatePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	mk1, err := LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	mk2, err := LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mk1.key[:], mk2.key[:]) {
		t.Fatal("expected the second LoadOrCreate to reuse the persisted key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mk, err := LoadOrCreate(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatal(err)
	}
	key, err := mk.DeriveObjectKey("bucket", "key", "v1")
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("hello world")
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestDeriveObjectKeyIsDeterministicPerVersion(t *testing.T) {
	dir := t.TempDir()
	mk, err := LoadOrCreate(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatal(err)
	}
	k1, _ := mk.DeriveObjectKey("b", "k", "v1")
	k2, _ := mk.DeriveObjectKey("b", "k", "v1")
	k3, _ := mk.DeriveObjectKey("b", "k", "v2")
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected deterministic derivation for the same bucket/key/version")
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("expected different versions to derive different keys")
	}
}

func TestSSECVerifyMD5(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	good := SSECKey{Key: key, KeyMD5: "B+Qq2OKfxV5NfAKXdA2qvA=="}
	// Computed MD5 of the Key above must match for VerifyMD5 to succeed;
	// recompute rather than hardcode an unrelated digest.
	sum := mustMD5Base64(key)
	good.KeyMD5 = sum
	if err := good.VerifyMD5(); err != nil {
		t.Fatalf("expected matching MD5 to verify, got %v", err)
	}

	bad := SSECKey{Key: key, KeyMD5: "not-the-right-md5"}
	if err := bad.VerifyMD5(); err == nil {
		t.Fatal("expected mismatched MD5 to fail verification")
	}
}
