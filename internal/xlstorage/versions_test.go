package xlstorage

import "testing"

func TestPrependVersionOrdering(t *testing.T) {
	var entries []VersionEntry
	entries = PrependVersion(entries, VersionEntry{VersionID: "v1"})
	entries = PrependVersion(entries, VersionEntry{VersionID: "v2"})
	entries = PrependVersion(entries, VersionEntry{VersionID: "delete", IsDeleteMarker: true})

	if entries[0].VersionID != "delete" || entries[1].VersionID != "v2" || entries[2].VersionID != "v1" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestReplaceOrPrependNullDedupes(t *testing.T) {
	entries := []VersionEntry{{VersionID: NullVersionID, Size: 1}}
	entries = ReplaceOrPrependNull(entries, VersionEntry{VersionID: NullVersionID, Size: 2})
	if len(entries) != 1 {
		t.Fatalf("expected exactly one null entry, got %d", len(entries))
	}
	if entries[0].Size != 2 {
		t.Fatalf("expected replaced entry to win, got size %d", entries[0].Size)
	}
}

func TestLatestNonDeleteMarkerSkipsMarkers(t *testing.T) {
	entries := []VersionEntry{
		{VersionID: "d1", IsDeleteMarker: true},
		{VersionID: "v2"},
		{VersionID: "v1"},
	}
	got, ok := LatestNonDeleteMarker(entries)
	if !ok || got.VersionID != "v2" {
		t.Fatalf("expected v2, got %+v ok=%v", got, ok)
	}
}

func TestLatestNonDeleteMarkerAllMarkers(t *testing.T) {
	entries := []VersionEntry{{VersionID: "d1", IsDeleteMarker: true}}
	_, ok := LatestNonDeleteMarker(entries)
	if ok {
		t.Fatal("expected ok=false when every entry is a delete marker")
	}
}

func TestIsValidBucketName(t *testing.T) {
	valid := []string{"b", "my-bucket", "a.b.c"}
	invalid := []string{"", "a/b", `a\b`, maxioSysDir}
	for _, b := range valid {
		if !IsValidBucketName(b) {
			t.Errorf("expected %q to be valid", b)
		}
	}
	for _, b := range invalid {
		if IsValidBucketName(b) {
			t.Errorf("expected %q to be invalid", b)
		}
	}
}

func TestIsValidObjectName(t *testing.T) {
	valid := []string{"k", "a/b/c", "dots.in.name"}
	invalid := []string{"", `a\b`, "/abs", "a/../b", "./x", "a/./b"}
	for _, k := range valid {
		if !IsValidObjectName(k) {
			t.Errorf("expected %q to be valid", k)
		}
	}
	for _, k := range invalid {
		if IsValidObjectName(k) {
			t.Errorf("expected %q to be invalid", k)
		}
	}
}
