package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

func newTestArchive(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "memory_archive"), filepath.Join(dir, "archive_index.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func archRecord(id string, ts time.Time, entities ...string) model.Record {
	return model.Record{
		ID:          id,
		Content:     "archived content of " + id,
		Timestamp:   ts,
		Entities:    entities,
		Connections: []string{},
		Type:        model.TypeReflection,
		Valence:     0.3,
		Source:      model.DirectExperience(),
		Confidence:  1.0,
	}
}

func TestAppendGroupsByMonth(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	july := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)

	paths, err := s.Append(ctx, []model.Record{
		archRecord("a", june, "Paris"),
		archRecord("b", june, "Paris"),
		archRecord("c", july, "London"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if paths["a"] != paths["b"] {
		t.Errorf("same-month records split across files: %q vs %q", paths["a"], paths["b"])
	}
	if paths["a"] == paths["c"] {
		t.Error("different months share a file")
	}
	if filepath.Dir(paths["a"]) != "2025-06" {
		t.Errorf("expected 2025-06 bucket, got %q", filepath.Dir(paths["a"]))
	}
	if filepath.Dir(paths["c"]) != "2025-07" {
		t.Errorf("expected 2025-07 bucket, got %q", filepath.Dir(paths["c"]))
	}
}

func TestWriteBucketNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	stamp := "20250610_080000"

	// Three batches claiming the same bucket and stamp: each must land at
	// its own file, with earlier batches left untouched.
	relA, err := s.writeBucket(ctx, "2025-06", stamp, []model.Record{archRecord("a", june, "Paris")})
	if err != nil {
		t.Fatal(err)
	}
	relB, err := s.writeBucket(ctx, "2025-06", stamp, []model.Record{archRecord("b", june, "Paris")})
	if err != nil {
		t.Fatal(err)
	}
	relC, err := s.writeBucket(ctx, "2025-06", stamp, []model.Record{archRecord("c", june, "Paris")})
	if err != nil {
		t.Fatal(err)
	}
	if relA == relB || relA == relC || relB == relC {
		t.Fatalf("paths not unique: %q %q %q", relA, relB, relC)
	}

	for rel, want := range map[string]string{relA: "a", relB: "b", relC: "c"} {
		got, err := s.Load(ctx, rel)
		if err != nil {
			t.Fatalf("load %s: %v", rel, err)
		}
		if len(got) != 1 || got[0].ID != want {
			t.Errorf("file %s should hold exactly %q, got %v", rel, want, got)
		}
	}
}

func TestBackToBackAppendsKeepBothBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	pathsA, err := s.Append(ctx, []model.Record{archRecord("a", june, "Paris")})
	if err != nil {
		t.Fatal(err)
	}
	pathsB, err := s.Append(ctx, []model.Record{archRecord("b", june, "Paris")})
	if err != nil {
		t.Fatal(err)
	}

	if pathsA["a"] == pathsB["b"] {
		t.Fatalf("second append reused path %q", pathsA["a"])
	}
	gotA, err := s.Load(ctx, pathsA["a"])
	if err != nil || len(gotA) != 1 || gotA[0].ID != "a" {
		t.Errorf("first batch damaged: %v %v", gotA, err)
	}
	gotB, err := s.Load(ctx, pathsB["b"])
	if err != nil || len(gotB) != 1 || gotB[0].ID != "b" {
		t.Errorf("second batch damaged: %v %v", gotB, err)
	}

	files, err := s.FileCount()
	if err != nil {
		t.Fatal(err)
	}
	if files != 2 {
		t.Errorf("expected 2 archive files, got %d", files)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	ts := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	r := archRecord("a", ts, "Paris", "France")
	r.Source = model.Researched("web", "Paris facts")

	paths, err := s.Append(ctx, []model.Record{r})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Load(ctx, paths["a"])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != "a" || got[0].Content != r.Content {
		t.Errorf("record did not round trip: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: %v", got[0].Timestamp)
	}
	if got[0].Source.Kind != model.SourceResearched {
		t.Errorf("provenance lost: %q", got[0].Source.Kind)
	}

	// Second load hits the cache path and must return the same data.
	again, err := s.Load(ctx, paths["a"])
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if len(again) != 1 || again[0].ID != "a" {
		t.Error("cached load returned different data")
	}
}

func TestLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	if _, err := s.Load(ctx, "2025-01/archive_nope.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "memory_archive")
	s, err := OpenStore(root, filepath.Join(dir, "archive_index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rel := filepath.Join("2025-06", "archive_bad.json")
	os.MkdirAll(filepath.Join(root, "2025-06"), 0o755)
	os.WriteFile(filepath.Join(root, rel), []byte("{not json"), 0o644)

	if _, err := s.Load(ctx, rel); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestFindByEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	s.Append(ctx, []model.Record{
		archRecord("a", june, "Paris"),
		archRecord("b", june, "London"),
	})

	paths, err := s.FindByEntities(ctx, []string{"Paris"}, 3)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(paths))
	}

	none, _ := s.FindByEntities(ctx, []string{"Tokyo"}, 3)
	if len(none) != 0 {
		t.Errorf("expected no paths, got %v", none)
	}

	empty, _ := s.FindByEntities(ctx, nil, 3)
	if len(empty) != 0 {
		t.Errorf("empty query must return nothing, got %v", empty)
	}
}

func TestIndexReAddIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	r := archRecord("a", june, "Paris")

	if err := s.index.Add(ctx, &r, "2025-06/archive_x.json"); err != nil {
		t.Fatal(err)
	}
	if err := s.index.Add(ctx, &r, "2025-06/archive_y.json"); err != nil {
		t.Fatal(err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("expected 1 indexed record after re-add, got %d", n)
	}
}

func TestContainsAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t)

	june := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	s.Append(ctx, []model.Record{archRecord("a", june, "Paris")})

	ok, err := s.Contains(ctx, "a")
	if err != nil || !ok {
		t.Errorf("expected archived id to be found, ok=%v err=%v", ok, err)
	}
	ok, _ = s.Contains(ctx, "zzz")
	if ok {
		t.Error("unexpected hit for unknown id")
	}

	files, err := s.FileCount()
	if err != nil {
		t.Fatal(err)
	}
	if files != 1 {
		t.Errorf("expected 1 archive file, got %d", files)
	}
}
