package xlstorage

// LoadVersions reads and decodes <key>/.versions.json from one disk.
func (d *Disk) LoadVersions(bucket, key string) ([]VersionEntry, error) {
	b, err := d.ReadAll(VersionsIndexPath(bucket, key))
	if err != nil {
		return nil, err
	}
	var entries []VersionEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveVersions rewrites <key>/.versions.json as a whole (spec.md §5:
// "rewritten as a whole; concurrent index rewrites race" -- callers must
// hold the object's DRWMutex to avoid that race).
func (d *Disk) SaveVersions(bucket, key string, entries []VersionEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return d.WriteAll(VersionsIndexPath(bucket, key), b)
}

// PrependVersion inserts entry at index 0, preserving P5 (versions index
// ordering): the newest entry is always first.
func PrependVersion(entries []VersionEntry, entry VersionEntry) []VersionEntry {
	out := make([]VersionEntry, 0, len(entries)+1)
	out = append(out, entry)
	out = append(out, entries...)
	return out
}

// ReplaceOrPrependNull implements the Suspended-versioning PUT rule
// (spec.md §4.2): replace any existing "null" entry in place at the front,
// rather than accumulating duplicate "null" rows.
func ReplaceOrPrependNull(entries []VersionEntry, entry VersionEntry) []VersionEntry {
	filtered := make([]VersionEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.VersionID == NullVersionID {
			continue
		}
		filtered = append(filtered, e)
	}
	return PrependVersion(filtered, entry)
}

// RemoveVersion deletes the entry with the given version id, if present.
func RemoveVersion(entries []VersionEntry, versionID string) []VersionEntry {
	out := make([]VersionEntry, 0, len(entries))
	for _, e := range entries {
		if e.VersionID != versionID {
			out = append(out, e)
		}
	}
	return out
}

// LatestNonDeleteMarker returns the first entry that is not a delete
// marker, implementing spec.md §3/§4.2 GET resolution's "read the first
// non-delete-marker entry". ok is false if every entry is a delete marker
// or the index is empty.
func LatestNonDeleteMarker(entries []VersionEntry) (VersionEntry, bool) {
	for _, e := range entries {
		if !e.IsDeleteMarker {
			return e, true
		}
	}
	return VersionEntry{}, false
}

// FindVersion looks up a specific version id in the index.
func FindVersion(entries []VersionEntry, versionID string) (VersionEntry, bool) {
	for _, e := range entries {
		if e.VersionID == versionID {
			return e, true
		}
	}
	return VersionEntry{}, false
}
