package xlstorage

// Path builders for the on-disk layout in spec.md §6. These are pure
// functions over string/slice parts; Disk.* methods join them under a root.

// LegacyMetaPath is <key>/xl.meta (unversioned / pre-migration layout).
func LegacyMetaPath(bucket, key string) []string {
	return []string{bucket, key, xlMetaFile}
}

// LegacyDataPath is <key>/<data_dir>/part.1.
func LegacyDataPath(bucket, key, dataDir string) []string {
	return []string{bucket, key, dataDir, "part.1"}
}

// VersionsIndexPath is <key>/.versions.json.
func VersionsIndexPath(bucket, key string) []string {
	return []string{bucket, key, versionsFile}
}

// VersionMetaPath is <key>/<version_id>/xl.meta.
func VersionMetaPath(bucket, key, versionID string) []string {
	return []string{bucket, key, versionID, xlMetaFile}
}

// VersionDataPath is <key>/<version_id>/<data_dir>/part.1.
func VersionDataPath(bucket, key, versionID, dataDir string) []string {
	return []string{bucket, key, versionID, dataDir, "part.1"}
}

// BlockPartPath is <key>/<version_id>/block_<i>/part.1 (erasure mode).
func BlockPartPath(bucket, key, versionID string, block int) []string {
	return []string{bucket, key, versionID, blockDirName(block), "part.1"}
}

func blockDirName(i int) string {
	return "block_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ObjectDirPath is <key>/ itself, used for whole-object removal.
func ObjectDirPath(bucket, key string) []string {
	return []string{bucket, key}
}

// VersionDirPath is <key>/<version_id>/, used for single-version removal.
func VersionDirPath(bucket, key, versionID string) []string {
	return []string{bucket, key, versionID}
}

// MultipartUploadDir is <bucket>/.multipart/<upload_id>/.
func MultipartUploadDir(bucket, uploadID string) []string {
	return []string{bucket, multipartDir, uploadID}
}

// MultipartUploadJSON is <bucket>/.multipart/<upload_id>/upload.json.
func MultipartUploadJSON(bucket, uploadID string) []string {
	return []string{bucket, multipartDir, uploadID, "upload.json"}
}

// MultipartPartPath is <bucket>/.multipart/<upload_id>/part_<n>.
func MultipartPartPath(bucket, uploadID string, partNumber int) []string {
	return []string{bucket, multipartDir, uploadID, "part_" + itoa(partNumber)}
}

// LifecycleConfigPath is <bucket>/.lifecycle.json.
func LifecycleConfigPath(bucket string) []string {
	return []string{bucket, lifecycleFile}
}
