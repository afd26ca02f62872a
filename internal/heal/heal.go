// Package heal implements the per-object healing algorithm of spec.md §4.7:
// meta-quorum election across an erasure set's disks, per-block re-encode
// of whichever disks disagree with the elected canonical meta, and the
// aggregate repair report callers surface to operators.
//
// Grounded on erasure-healing.go (healObject's per-disk observation/
// repair-target bookkeeping) and global-heal.go (the bucket walk that
// drives it), generalized from a fixed erasure set onto internal/erasure's
// pure codec and internal/xlstorage's layout.
package heal

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/erasure"
	"github.com/maxio/maxio/internal/maxioerr"
	"github.com/maxio/maxio/internal/xlstorage"
)

// DiskResult is one disk's outcome from a single Object call, spec.md §4.7
// step 6: "{before, after, bytes_repaired, error?}".
type DiskResult struct {
	DiskIndex     int
	Before        string // "Healthy", "Repaired", "Failed", "Absent"
	After         string
	BytesRepaired int64
	Error         string
}

const (
	StateHealthy  = "Healthy"
	StateRepaired = "Repaired"
	StateFailed   = "Failed"
	StateAbsent   = "Absent"
)

// Report is Object's return value: per-disk results plus the aggregate
// healed flag spec.md §4.7 step 6 defines as "true iff any disk
// transitioned to Repaired".
type Report struct {
	Disks  []DiskResult
	Healed bool
}

type observation struct {
	diskIndex int
	meta      xlstorage.Meta
	signature string
	present   bool
}

// electCanonical implements spec.md §4.7 step 2: bucket observations by
// signature, elect the signature with the most occurrences, tie-broken
// lexicographically so repeated calls on the same input are deterministic
// (the Open Question resolution recorded in SPEC_FULL.md §9).
func electCanonical(obs []observation) (string, int) {
	counts := map[string]int{}
	for _, o := range obs {
		if o.present {
			counts[o.signature]++
		}
	}
	var sigs []string
	for sig := range counts {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	best := ""
	bestCount := 0
	for _, sig := range sigs {
		if counts[sig] > bestCount {
			best, bestCount = sig, counts[sig]
		}
	}
	return best, bestCount
}

// Object heals a single (bucket, key) across disks, per spec.md §4.7's
// numbered algorithm. disks must be the full erasure set in shard-index
// order.
func Object(ctx context.Context, log *zap.Logger, disks []*xlstorage.Disk, cfg erasure.Config, codec *erasure.Codec, bucket, key, versionID string) (Report, error) {
	metaPath := xlstorage.LegacyMetaPath(bucket, key)
	if versionID != "" {
		metaPath = xlstorage.VersionMetaPath(bucket, key, versionID)
	}

	// Step 1: read xl.meta from every disk.
	obs := make([]observation, len(disks))
	for i, d := range disks {
		mb, err := d.ReadAll(metaPath)
		if err != nil {
			obs[i] = observation{diskIndex: i, present: false}
			continue
		}
		m, err := xlstorage.UnmarshalMeta(mb)
		if err != nil {
			obs[i] = observation{diskIndex: i, present: false}
			continue
		}
		obs[i] = observation{diskIndex: i, meta: m, signature: m.Signature(), present: true}
	}

	// Step 2: canonical meta election.
	canonicalSig, count := electCanonical(obs)
	if count < cfg.DataShards {
		return Report{}, maxioerr.New(maxioerr.CodeInternal, "metadata quorum not met for %s/%s: best signature seen on %d/%d disks, need %d", bucket, key, count, len(disks), cfg.DataShards)
	}
	var canonical xlstorage.Meta
	for _, o := range obs {
		if o.present && o.signature == canonicalSig {
			canonical = o.meta
			break
		}
	}

	// Step 3: mark repair targets.
	results := make([]DiskResult, len(disks))
	repairTarget := make([]bool, len(disks))
	for i, o := range obs {
		switch {
		case !o.present:
			results[i] = DiskResult{DiskIndex: i, Before: StateAbsent, After: StateAbsent}
			repairTarget[i] = true
		case o.signature != canonicalSig:
			results[i] = DiskResult{DiskIndex: i, Before: StateFailed, After: StateFailed}
			repairTarget[i] = true
		default:
			results[i] = DiskResult{DiskIndex: i, Before: StateHealthy, After: StateHealthy}
		}
	}

	if canonical.Erasure == nil {
		return Report{}, maxioerr.New(maxioerr.CodeInternal, "canonical meta for %s/%s has no erasure descriptor", bucket, key)
	}
	blockCount := canonical.Erasure.BlockCount()
	blockVersionID := versionID
	if blockVersionID == "" {
		blockVersionID = canonical.DataDir
	}

	healedAny := false
	for i := int64(0); i < blockCount; i++ {
		// Step 4: read shards only from disks with the canonical meta.
		shards := make([][]byte, len(disks))
		present := 0
		for d := range disks {
			if repairTarget[d] {
				continue
			}
			path := xlstorage.BlockPartPath(bucket, key, blockVersionID, int(i))
			b, err := disks[d].ReadAll(path)
			if err != nil {
				results[d].Before = StateFailed
				results[d].After = StateFailed
				repairTarget[d] = true
				continue
			}
			shards[d] = b
			present++
		}
		if present < cfg.DataShards {
			return Report{}, maxioerr.New(maxioerr.CodeInternal, "block %d of %s/%s: only %d canonical shards readable, need %d", i, bucket, key, present, cfg.DataShards)
		}

		block, err := codec.Decode(shards)
		if err != nil {
			return Report{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "decode block %d of %s/%s", i, bucket, key)
		}
		expected := cfg.BlockSize
		if i == blockCount-1 {
			expected = canonical.Erasure.TotalSize - i*cfg.BlockSize
			if expected < 0 {
				expected = 0
			}
			if expected > cfg.BlockSize {
				expected = cfg.BlockSize
			}
		}
		if int64(len(block)) < expected {
			return Report{}, maxioerr.New(maxioerr.CodeInternal, "block %d of %s/%s reconstructed short", i, bucket, key)
		}
		block = block[:expected]

		// Re-encode the full d+p shards; this reproduces parity
		// identically to the original write (spec.md §4.7 step 4).
		reencoded, err := codec.Encode(block)
		if err != nil {
			return Report{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "re-encode block %d of %s/%s", i, bucket, key)
		}

		for d := range disks {
			if !repairTarget[d] {
				continue
			}
			path := xlstorage.BlockPartPath(bucket, key, blockVersionID, int(i))
			if err := disks[d].WriteAll(path, reencoded[d]); err != nil {
				results[d].After = StateFailed
				results[d].Error = err.Error()
				log.Error("heal: shard write failed", zap.Int("disk", d), zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
				continue
			}
			results[d].BytesRepaired += int64(len(reencoded[d]))
		}
	}

	// Step 5: write the canonical xl.meta to every non-Failed repair target.
	mb, err := canonical.Marshal()
	if err != nil {
		return Report{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal canonical xl.meta")
	}
	for d := range disks {
		if !repairTarget[d] || results[d].After == StateFailed {
			continue
		}
		if err := disks[d].WriteAll(metaPath, mb); err != nil {
			results[d].After = StateFailed
			results[d].Error = err.Error()
			continue
		}
		results[d].After = StateRepaired
		healedAny = true
	}

	if healedAny {
		log.Info("heal: object repaired", zap.String("bucket", bucket), zap.String("key", key), zap.Time("at", time.Now().UTC()))
	}
	return Report{Disks: results, Healed: healedAny}, nil
}

// Bucket lists the direct children of every disk's bucket directory
// (skipping names that start with '.'), takes the union in sorted order and
// heals each name as an object key, one after another. Only the first path
// level is listed: a key containing '/' is not found under its full name,
// and names are not checked for an xl.meta before healing. A failed
// per-key heal is logged and skipped.
func Bucket(ctx context.Context, log *zap.Logger, disks []*xlstorage.Disk, cfg erasure.Config, codec *erasure.Codec, bucket string) ([]Report, error) {
	seen := map[string]bool{}
	var keys []string
	for _, d := range disks {
		names, err := d.ListDir(bucket)
		if err != nil {
			continue
		}
		for _, n := range names {
			if len(n) > 0 && n[0] == '.' {
				continue
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			keys = append(keys, n)
		}
	}
	sort.Strings(keys)

	var reports []Report
	for _, key := range keys {
		rep, err := Object(ctx, log, disks, cfg, codec, bucket, key, "")
		if err != nil {
			log.Error("heal: object heal failed", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
