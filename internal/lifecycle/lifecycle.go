// Package lifecycle implements the rule evaluator of spec.md §4.10: prefix
// bucketed expiration rules applied to current and noncurrent object
// versions on a best-effort, idempotent basis.
//
// Grounded on the ilm (information lifecycle management) rule evaluation
// shape, generalized onto internal/objectlayer's ObjectInfo instead of an
// xl metadata cache.
package lifecycle

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/maxioerr"
	"github.com/maxio/maxio/internal/objectlayer"
	"github.com/maxio/maxio/internal/xlstorage"
)

var lifecycleJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Expiration is the current-version expiration clause of a Rule: exactly
// one of Days or Date should be set.
type Expiration struct {
	Days int       `json:"days,omitempty"`
	Date time.Time `json:"date,omitempty"`
}

// NoncurrentExpiration applies only to versions with IsLatest=false, using
// the days-count model (spec.md §4.10).
type NoncurrentExpiration struct {
	NoncurrentDays int `json:"noncurrent_days,omitempty"`
}

// Rule is one prefix-scoped lifecycle rule.
type Rule struct {
	ID                   string               `json:"id"`
	Prefix               string               `json:"prefix"`
	Status               string               `json:"status"` // "Enabled" | "Disabled"
	Expiration           Expiration           `json:"expiration"`
	NoncurrentExpiration NoncurrentExpiration `json:"noncurrent_expiration"`
}

func (r Rule) enabled() bool { return r.Status == "Enabled" }

// Config is a bucket's .lifecycle.json document.
type Config struct {
	Rules []Rule `json:"rules"`
}

// Load reads a bucket's lifecycle configuration. A missing file is not an
// error -- it is simply an empty rule set.
func Load(d *xlstorage.Disk, bucket string) (Config, error) {
	b, err := d.ReadAll(xlstorage.LifecycleConfigPath(bucket))
	if err != nil {
		return Config{}, nil
	}
	var cfg Config
	if err := lifecycleJSON.Unmarshal(b, &cfg); err != nil {
		return Config{}, maxioerr.Wrap(maxioerr.CodeInternal, err, "parse lifecycle config for bucket %s", bucket)
	}
	return cfg, nil
}

// Save writes a bucket's lifecycle configuration.
func Save(d *xlstorage.Disk, bucket string, cfg Config) error {
	b, err := lifecycleJSON.Marshal(cfg)
	if err != nil {
		return maxioerr.Wrap(maxioerr.CodeInternal, err, "marshal lifecycle config for bucket %s", bucket)
	}
	return d.WriteAll(xlstorage.LifecycleConfigPath(bucket), b)
}

// matchingRules returns every enabled rule whose prefix matches key, in
// the order they appear in the config.
func (c Config) matchingRules(key string) []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if !r.enabled() {
			continue
		}
		if r.Prefix != "" && !strings.HasPrefix(key, r.Prefix) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Actionable reports whether any enabled rule matching key would expire
// info as of now, spec.md §4.9's "lifecycle_actionable" scan field.
func (c Config) Actionable(key string, info objectlayer.ObjectInfo, isLatest bool, now time.Time) bool {
	for _, r := range c.matchingRules(key) {
		if isLatest {
			if r.Expiration.expired(info.ModTime, now) {
				return true
			}
			continue
		}
		if r.NoncurrentExpiration.NoncurrentDays > 0 {
			age := now.Sub(info.ModTime)
			if age >= time.Duration(r.NoncurrentExpiration.NoncurrentDays)*24*time.Hour {
				return true
			}
		}
	}
	return false
}

func (e Expiration) expired(modTime, now time.Time) bool {
	if e.Days > 0 {
		age := now.Sub(modTime)
		return age >= time.Duration(e.Days)*24*time.Hour
	}
	if !e.Date.IsZero() {
		return !now.Before(e.Date)
	}
	return false
}

// ExpireFunc deletes a specific object version; callers wire this to an
// ObjectLayer's DeleteObject.
type ExpireFunc func(bucket, key, versionID string) error

// EvaluateBucket applies every enabled rule in cfg to the versions listed,
// spec.md §4.10: current-version expiration first per prefix, then
// noncurrent-version expiration. Errors are logged and skipped -- this
// evaluator is best-effort and idempotent, safe to re-run every cycle.
func EvaluateBucket(log *zap.Logger, cfg Config, bucket string, versions []objectlayer.ObjectInfo, expire ExpireFunc, now time.Time) {
	byKey := map[string][]objectlayer.ObjectInfo{}
	for _, v := range versions {
		byKey[v.Key] = append(byKey[v.Key], v)
	}

	for key, vs := range byKey {
		rules := cfg.matchingRules(key)
		if len(rules) == 0 {
			continue
		}
		// vs is newest-first per ListObjectVersions; index 0 is current.
		for i, v := range vs {
			isLatest := i == 0
			for _, r := range rules {
				var shouldExpire bool
				if isLatest {
					shouldExpire = r.Expiration.expired(v.ModTime, now)
				} else if r.NoncurrentExpiration.NoncurrentDays > 0 {
					age := now.Sub(v.ModTime)
					shouldExpire = age >= time.Duration(r.NoncurrentExpiration.NoncurrentDays)*24*time.Hour
				}
				if !shouldExpire {
					continue
				}
				if err := expire(bucket, key, v.VersionID); err != nil {
					log.Error("lifecycle: expire failed", zap.String("bucket", bucket), zap.String("key", key), zap.String("version", v.VersionID), zap.Error(err))
				}
				break
			}
		}
	}
}
