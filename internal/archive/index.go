package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memtier/internal/model"
)

// previewRunes bounds the content preview stored in the index.
const previewRunes = 200

// Index is the archive metadata index: a small, hot SQLite table that
// answers entity lookups without opening archive files.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the archive index database.
func OpenIndex(dbPath string) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}

	return idx, nil
}

func (idx *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS archive_metadata (
		id              TEXT PRIMARY KEY,
		file_path       TEXT NOT NULL,
		timestamp       INTEGER NOT NULL,
		entities        TEXT NOT NULL,
		valence         REAL,
		record_type     TEXT,
		content_preview TEXT,
		connections     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_archive_timestamp ON archive_metadata(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_archive_entities ON archive_metadata(entities);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// Add records one archived record's metadata. Re-indexing the same id
// overwrites the previous entry, so indexing is idempotent.
func (idx *Index) Add(ctx context.Context, r *model.Record, filePath string) error {
	entitiesJSON, err := json.Marshal(r.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	connectionsJSON, err := json.Marshal(r.Connections)
	if err != nil {
		return fmt.Errorf("marshal connections: %w", err)
	}

	_, err = idx.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archive_metadata
		 (id, file_path, timestamp, entities, valence, record_type, content_preview, connections)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, filePath, r.Timestamp.Unix(), string(entitiesJSON),
		r.Valence, string(r.Type), r.Preview(previewRunes), string(connectionsJSON))
	if err != nil {
		return fmt.Errorf("index archived record: %w", err)
	}
	return nil
}

// FindByEntities returns archive file paths whose indexed records mention
// any of the given entities, newest first, capped at limit. Matching is a
// substring match against the stored entity list.
func (idx *Index) FindByEntities(ctx context.Context, entities []string, limit int) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	var paths []string
	seen := map[string]bool{}

	for _, e := range entities {
		pattern := `%"` + e + `%`
		rows, err := idx.db.QueryContext(ctx,
			`SELECT DISTINCT file_path FROM archive_metadata
			 WHERE entities LIKE ?
			 ORDER BY timestamp DESC
			 LIMIT ?`, pattern, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// Contains reports whether an id has been archived.
func (idx *Index) Contains(ctx context.Context, id string) (bool, error) {
	var n int
	err := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archive_metadata WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// Count returns the number of archived records.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_metadata`).Scan(&n)
	return n, err
}

// Close closes the index database.
func (idx *Index) Close() error {
	return idx.db.Close()
}
