package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memtier/internal/model"
)

// Active is the SQLite-backed active tier.
type Active struct {
	db *sql.DB
}

// Open opens or creates the active store database at the given path.
func Open(dbPath string) (*Active, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Active{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Active) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          TEXT PRIMARY KEY,
		content     TEXT NOT NULL,
		timestamp   INTEGER NOT NULL,
		record_type TEXT NOT NULL,
		valence     REAL NOT NULL,
		entities    TEXT NOT NULL,
		connections TEXT NOT NULL,
		source      TEXT NOT NULL,
		confidence  REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp DESC);

	CREATE TABLE IF NOT EXISTS entity_index (
		entity    TEXT NOT NULL,
		record_id TEXT NOT NULL,
		PRIMARY KEY (entity, record_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_index_entity ON entity_index(entity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert adds a record and indexes all of its entities.
// Returns ErrDuplicateID if the id is already present.
func (s *Active) Insert(ctx context.Context, r *model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, r.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("insert %s: %w", r.ID, ErrDuplicateID)
	}

	entitiesJSON, connectionsJSON, sourceJSON, err := encodeRecord(r)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, content, timestamp, record_type, valence, entities, connections, source, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Content, r.Timestamp.Unix(), string(r.Type), r.Valence,
		entitiesJSON, connectionsJSON, sourceJSON, r.Confidence)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	for _, e := range r.Entities {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_index (entity, record_id) VALUES (?, ?)`,
			e, r.ID)
		if err != nil {
			return fmt.Errorf("index entity %q: %w", e, err)
		}
	}

	return tx.Commit()
}

// Update replaces content, entities, connections, and valence for an
// existing record and re-derives its entity index entries.
// Returns ErrNotFound if the id is absent.
func (s *Active) Update(ctx context.Context, r *model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entitiesJSON, connectionsJSON, sourceJSON, err := encodeRecord(r)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE records
		 SET content = ?, valence = ?, entities = ?, connections = ?, source = ?, confidence = ?
		 WHERE id = ?`,
		r.Content, r.Valence, entitiesJSON, connectionsJSON, sourceJSON, r.Confidence, r.ID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", r.ID, ErrNotFound)
	}

	// Old index entries dropped first, then rebuilt from the new entity set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_index WHERE record_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear entity index: %w", err)
	}
	for _, e := range r.Entities {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_index (entity, record_id) VALUES (?, ?)`,
			e, r.ID)
		if err != nil {
			return fmt.Errorf("index entity %q: %w", e, err)
		}
	}

	return tx.Commit()
}

// Delete removes records and their entity index entries. Deleting an
// absent id is not an error.
func (s *Active) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_index WHERE record_id = ?`, id); err != nil {
			return fmt.Errorf("delete entity index for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// QueryByEntities returns up to limit distinct records whose entity set
// intersects the query set, newest first. An empty query set returns an
// empty result.
func (s *Active) QueryByEntities(ctx context.Context, entities []string, limit int) ([]model.Record, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(entities)-1) + "?"
	query := fmt.Sprintf(`
		SELECT DISTINCT r.id, r.content, r.timestamp, r.record_type, r.valence, r.entities, r.connections, r.source, r.confidence
		FROM records r
		JOIN entity_index ei ON r.id = ei.record_id
		WHERE ei.entity IN (%s)
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT ?`, placeholders)

	args := make([]interface{}, 0, len(entities)+1)
	for _, e := range entities {
		args = append(args, e)
	}
	args = append(args, limit)

	return s.queryRecords(ctx, query, args...)
}

// Recent returns the n newest records by timestamp.
func (s *Active) Recent(ctx context.Context, n int) ([]model.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, content, timestamp, record_type, valence, entities, connections, source, confidence
		FROM records ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
}

// Oldest returns the n oldest records by timestamp.
func (s *Active) Oldest(ctx context.Context, n int) ([]model.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, content, timestamp, record_type, valence, entities, connections, source, confidence
		FROM records ORDER BY timestamp ASC, id ASC LIMIT ?`, n)
}

// All returns every record, oldest first.
func (s *Active) All(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, content, timestamp, record_type, valence, entities, connections, source, confidence
		FROM records ORDER BY timestamp ASC, id ASC`)
}

// Count returns the number of records in the active tier.
func (s *Active) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// Close closes the store.
func (s *Active) Close() error {
	return s.db.Close()
}

func (s *Active) queryRecords(ctx context.Context, query string, args ...interface{}) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func encodeRecord(r *model.Record) (entities, connections, source string, err error) {
	eb, err := json.Marshal(r.Entities)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal entities: %w", err)
	}
	cb, err := json.Marshal(r.Connections)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal connections: %w", err)
	}
	sb, err := json.Marshal(r.Source)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal source: %w", err)
	}
	return string(eb), string(cb), string(sb), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.Record, error) {
	var r model.Record
	var ts int64
	var typ, entitiesJSON, connectionsJSON, sourceJSON string

	err := row.Scan(&r.ID, &r.Content, &ts, &typ, &r.Valence,
		&entitiesJSON, &connectionsJSON, &sourceJSON, &r.Confidence)
	if err != nil {
		return r, err
	}

	r.Timestamp = time.Unix(ts, 0).UTC()
	r.Type = model.RecordType(typ)
	if !model.ValidTypes[r.Type] {
		r.Type = model.TypeInteraction
	}
	// Corrupt column data degrades to an empty set or default provenance
	// rather than failing the whole query.
	if err := json.Unmarshal([]byte(entitiesJSON), &r.Entities); err != nil {
		r.Entities = []string{}
	}
	if err := json.Unmarshal([]byte(connectionsJSON), &r.Connections); err != nil {
		r.Connections = []string{}
	}
	if err := json.Unmarshal([]byte(sourceJSON), &r.Source); err != nil {
		r.Source = model.DirectExperience()
	}

	return r, nil
}
