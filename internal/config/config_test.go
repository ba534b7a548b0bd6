package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Memory.ActiveLimit != 200 {
		t.Errorf("expected active_limit 200, got %d", cfg.Memory.ActiveLimit)
	}
	if cfg.Memory.EvictBatch != 50 {
		t.Errorf("expected evict_batch 50, got %d", cfg.Memory.EvictBatch)
	}
	if cfg.Memory.ConsolidateOverlap != 0.7 {
		t.Errorf("expected consolidate_overlap 0.7, got %v", cfg.Memory.ConsolidateOverlap)
	}
	if cfg.Snapshot.Keep != 100 {
		t.Errorf("expected keep 100, got %d", cfg.Snapshot.Keep)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.ActiveLimit != 200 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memtier.yaml")
	os.WriteFile(path, []byte(`
data_dir: /var/lib/memtier
memory:
  active_limit: 500
  consolidate_overlap: 0.85
snapshot:
  interval: 5s
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/memtier" {
		t.Errorf("data_dir not applied: %q", cfg.DataDir)
	}
	if cfg.Memory.ActiveLimit != 500 {
		t.Errorf("active_limit not applied: %d", cfg.Memory.ActiveLimit)
	}
	if cfg.Memory.ConsolidateOverlap != 0.85 {
		t.Errorf("consolidate_overlap not applied: %v", cfg.Memory.ConsolidateOverlap)
	}
	// Untouched fields keep defaults.
	if cfg.Memory.EvictBatch != 50 {
		t.Errorf("evict_batch default lost: %d", cfg.Memory.EvictBatch)
	}

	d, err := cfg.SnapshotInterval()
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memtier.yaml")
	os.WriteFile(path, []byte("::not yaml::"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestBadInterval(t *testing.T) {
	cfg := Default()
	cfg.Snapshot.Interval = "soon"
	if _, err := cfg.SnapshotInterval(); err == nil {
		t.Error("expected error for bad interval")
	}
}
