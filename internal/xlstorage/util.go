package xlstorage

import "github.com/google/uuid"

// NewUUID returns a fresh UUIDv4, used for data_dir, version_id and
// upload_id allocation throughout this package (spec.md §4.2).
func NewUUID() string { return uuid.NewString() }

func randSuffix() string {
	id := uuid.New()
	return id.String()[:8]
}
