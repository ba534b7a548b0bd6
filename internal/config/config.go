// Package config holds memtier configuration loaded from YAML with
// defaults for every field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all memtier configuration.
type Config struct {
	// DataDir is the root for both tiers and the snapshot engine.
	DataDir string `yaml:"data_dir"`

	Memory   MemoryConfig   `yaml:"memory"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// MemoryConfig configures the two-tier record store.
type MemoryConfig struct {
	// ActiveLimit is the bounded working-set size of the active tier.
	ActiveLimit int `yaml:"active_limit"`
	// EvictBatch is how many oldest records move to the archive per eviction.
	EvictBatch int `yaml:"evict_batch"`

	// ConsolidateOverlap is the entity-overlap ratio above which two
	// active records merge. Deliberately a separate knob from
	// ConnectOverlapStrong even though the defaults match.
	ConsolidateOverlap float64 `yaml:"consolidate_overlap"`

	// Connection rule thresholds.
	ConnectOverlapStrong float64 `yaml:"connect_overlap_strong"`
	ConnectOverlapWeak   float64 `yaml:"connect_overlap_weak"`
	ConnectValenceWindow float64 `yaml:"connect_valence_window"`

	// RecallArchiveFiles caps archive files loaded per recall.
	RecallArchiveFiles int `yaml:"recall_archive_files"`
}

// SnapshotConfig configures the persistence engine.
type SnapshotConfig struct {
	Interval string `yaml:"interval"`
	Keep     int    `yaml:"keep"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Memory: MemoryConfig{
			ActiveLimit:          200,
			EvictBatch:           50,
			ConsolidateOverlap:   0.7,
			ConnectOverlapStrong: 0.7,
			ConnectOverlapWeak:   0.3,
			ConnectValenceWindow: 0.3,
			RecallArchiveFiles:   3,
		},
		Snapshot: SnapshotConfig{
			Interval: "30s",
			Keep:     100,
		},
	}
}

// Load reads YAML from path and merges it over the defaults. A missing
// file yields the defaults; zero-valued fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	merge(&cfg, &file)
	return cfg, nil
}

func merge(dst, src *Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	m := &src.Memory
	if m.ActiveLimit > 0 {
		dst.Memory.ActiveLimit = m.ActiveLimit
	}
	if m.EvictBatch > 0 {
		dst.Memory.EvictBatch = m.EvictBatch
	}
	if m.ConsolidateOverlap > 0 {
		dst.Memory.ConsolidateOverlap = m.ConsolidateOverlap
	}
	if m.ConnectOverlapStrong > 0 {
		dst.Memory.ConnectOverlapStrong = m.ConnectOverlapStrong
	}
	if m.ConnectOverlapWeak > 0 {
		dst.Memory.ConnectOverlapWeak = m.ConnectOverlapWeak
	}
	if m.ConnectValenceWindow > 0 {
		dst.Memory.ConnectValenceWindow = m.ConnectValenceWindow
	}
	if m.RecallArchiveFiles > 0 {
		dst.Memory.RecallArchiveFiles = m.RecallArchiveFiles
	}
	if src.Snapshot.Interval != "" {
		dst.Snapshot.Interval = src.Snapshot.Interval
	}
	if src.Snapshot.Keep > 0 {
		dst.Snapshot.Keep = src.Snapshot.Keep
	}
}

// SnapshotInterval parses the snapshot interval duration.
func (c Config) SnapshotInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Snapshot.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot interval %q: %w", c.Snapshot.Interval, err)
	}
	return d, nil
}
