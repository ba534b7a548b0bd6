// Package archive implements the cold tier: append-only, time-bucketed
// JSON files of evicted records plus a metadata index for entity lookup
// without loading file contents.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memtier/internal/model"
)

// ErrCorrupt is returned when an archive file exists but cannot be parsed.
// Callers on recall paths treat it as "no data".
var ErrCorrupt = errors.New("corrupt archive file")

// Store is the archive tier: write-once bucket files under a root
// directory, a metadata index, and a read-through cache for loaded files.
type Store struct {
	root  string
	index *Index
	cache *ristretto.Cache
	log   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// OpenStore opens the archive at root with its index at indexPath.
func OpenStore(root, indexPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	index, err := OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}

	// Archive files are write-once, so cached parses never go stale.
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     32 << 20, // 32 MiB of raw file bytes
		BufferItems: 64,
	})
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("create archive cache: %w", err)
	}

	s := &Store{
		root:  root,
		index: index,
		cache: cache,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// bucketKey derives the time bucket a record belongs to.
func bucketKey(r *model.Record) string {
	return r.Timestamp.UTC().Format("2006-01")
}

// Append groups records by time bucket and writes each bucket to its own
// new file, then indexes every record. Files are never edited in place.
// Returns the relative path each record was written to, keyed by id.
func (s *Store) Append(ctx context.Context, records []model.Record) (map[string]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	buckets := map[string][]model.Record{}
	for _, r := range records {
		key := bucketKey(&r)
		buckets[key] = append(buckets[key], r)
	}

	stamp := time.Now().UTC().Format("20060102_150405")

	type bucketWrite struct {
		records []model.Record
		relPath string
	}
	writes := make(map[string]*bucketWrite, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	for bucket, group := range buckets {
		bucket := bucket
		w := &bucketWrite{records: group}
		writes[bucket] = w
		g.Go(func() error {
			relPath, err := s.writeBucket(gctx, bucket, stamp, w.records)
			w.relPath = relPath
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := make(map[string]string, len(records))
	for _, w := range writes {
		for i := range w.records {
			if err := s.index.Add(ctx, &w.records[i], w.relPath); err != nil {
				return nil, err
			}
			paths[w.records[i].ID] = w.relPath
		}
	}

	s.log.Info("archived records",
		zap.Int("count", len(records)),
		zap.Int("buckets", len(buckets)))

	return paths, nil
}

// writeBucket writes one bucket group to a brand-new file and returns the
// relative path it landed at. An existing file is never overwritten: when
// another batch already claimed the stamp, a numeric suffix is tried until
// an unused name is found.
func (s *Store) writeBucket(_ context.Context, bucket, stamp string, records []model.Record) (string, error) {
	if err := os.MkdirAll(filepath.Join(s.root, bucket), 0o755); err != nil {
		return "", fmt.Errorf("create bucket dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal bucket: %w", err)
	}

	relPath := filepath.Join(bucket, fmt.Sprintf("archive_%s.json", stamp))
	for n := 2; ; n++ {
		f, err := os.OpenFile(filepath.Join(s.root, relPath), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			relPath = filepath.Join(bucket, fmt.Sprintf("archive_%s_%d.json", stamp, n))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create bucket file %s: %w", relPath, err)
		}

		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return "", fmt.Errorf("write bucket %s: %w", relPath, werr)
		}
		return relPath, nil
	}
}

// Load reads one archive file and returns its records. A missing or
// unparsable file yields an error the caller must treat as "no data".
func (s *Store) Load(_ context.Context, relPath string) ([]model.Record, error) {
	if cached, ok := s.cache.Get(relPath); ok {
		return cached.([]model.Record), nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, relPath))
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", relPath, err)
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse archive %s: %w", relPath, ErrCorrupt)
	}

	s.cache.Set(relPath, records, int64(len(data)))
	return records, nil
}

// FindByEntities returns candidate archive file paths for the entities.
func (s *Store) FindByEntities(ctx context.Context, entities []string, limit int) ([]string, error) {
	return s.index.FindByEntities(ctx, entities, limit)
}

// Contains reports whether an id is present in the archive index.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	return s.index.Contains(ctx, id)
}

// Count returns the number of indexed archived records.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// FileCount walks the archive root and counts bucket files.
func (s *Store) FileCount() (int, error) {
	n := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			n++
		}
		return nil
	})
	return n, err
}

// Close releases the index and cache.
func (s *Store) Close() error {
	s.cache.Close()
	return s.index.Close()
}
