// Package memory orchestrates the two storage tiers: insertion, eviction,
// cross-tier recall, and consolidation of near-duplicate records.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/entity"
	"github.com/rcliao/memtier/internal/model"
)

// ActiveStore is the hot tier the manager mutates.
type ActiveStore interface {
	Insert(ctx context.Context, r *model.Record) error
	Update(ctx context.Context, r *model.Record) error
	Delete(ctx context.Context, ids []string) error
	QueryByEntities(ctx context.Context, entities []string, limit int) ([]model.Record, error)
	Recent(ctx context.Context, n int) ([]model.Record, error)
	Oldest(ctx context.Context, n int) ([]model.Record, error)
	All(ctx context.Context) ([]model.Record, error)
	Count(ctx context.Context) (int, error)
}

// ArchiveStore is the cold tier records are evicted into.
type ArchiveStore interface {
	Append(ctx context.Context, records []model.Record) (map[string]string, error)
	FindByEntities(ctx context.Context, entities []string, limit int) ([]string, error)
	Load(ctx context.Context, relPath string) ([]model.Record, error)
	Count(ctx context.Context) (int, error)
	FileCount() (int, error)
}

// Manager owns both tiers. All mutations serialize through one mutex so a
// consolidation pass can never race an insert into losing or
// double-processing a record.
type Manager struct {
	mu      sync.Mutex
	active  ActiveStore
	archive ArchiveStore
	cfg     config.MemoryConfig
	log     *zap.Logger
	entropy *rand.Rand

	// Dirty tracking for consolidation: how many adds happened since the
	// last pass, and what the count was when it finished.
	addsSinceConsolidate  int
	lastConsolidatedCount int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New creates a manager over an active store and an archive store.
func New(active ActiveStore, arch ArchiveStore, cfg config.MemoryConfig, opts ...Option) *Manager {
	m := &Manager{
		active:  active,
		archive: arch,
		cfg:     cfg,
		log:     zap.NewNop(),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

// Add derives entities from content, builds connections against the
// current active set, and inserts a new record. Eviction to the archive
// runs inline whenever the active count exceeds the limit: archival is
// insertion-driven, never timer-driven.
func (m *Manager) Add(ctx context.Context, content string, typ model.RecordType, valence float64) (*model.Record, error) {
	if !model.ValidTypes[typ] {
		return nil, fmt.Errorf("invalid record type %q", typ)
	}

	rec := &model.Record{
		ID:          m.newID(),
		Content:     content,
		Timestamp:   time.Now().UTC(),
		Entities:    entity.Extract(content),
		Connections: []string{},
		Type:        typ,
		Valence:     model.ClampValence(valence),
		Source:      model.DirectExperience(),
		Confidence:  1.0,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertLocked(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddWithSource inserts a caller-supplied record through the same
// pipeline, used when provenance is already known. Missing id, timestamp,
// or entities are filled in; existing values are preserved.
func (m *Manager) AddWithSource(ctx context.Context, rec model.Record) (*model.Record, error) {
	if rec.ID == "" {
		rec.ID = m.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Entities == nil {
		rec.Entities = entity.Extract(rec.Content)
	}
	if rec.Connections == nil {
		rec.Connections = []string{}
	}
	if !model.ValidTypes[rec.Type] {
		rec.Type = model.TypeInteraction
	}
	rec.Valence = model.ClampValence(rec.Valence)
	rec.Confidence = model.ClampConfidence(rec.Confidence)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertLocked(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Manager) insertLocked(ctx context.Context, rec *model.Record) error {
	existing, err := m.active.All(ctx)
	if err != nil {
		return fmt.Errorf("load active set: %w", err)
	}
	m.buildConnections(rec, existing)

	if err := m.active.Insert(ctx, rec); err != nil {
		return err
	}
	m.addsSinceConsolidate++

	count, err := m.active.Count(ctx)
	if err != nil {
		return fmt.Errorf("count active: %w", err)
	}
	if count > m.cfg.ActiveLimit {
		if err := m.evictOldest(ctx, m.cfg.EvictBatch); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}
	return nil
}

// evictOldest moves the k oldest active records into the archive tier.
func (m *Manager) evictOldest(ctx context.Context, k int) error {
	oldest, err := m.active.Oldest(ctx, k)
	if err != nil {
		return err
	}
	if len(oldest) == 0 {
		return nil
	}

	if _, err := m.archive.Append(ctx, oldest); err != nil {
		return err
	}

	ids := make([]string, len(oldest))
	for i, r := range oldest {
		ids[i] = r.ID
	}
	if err := m.active.Delete(ctx, ids); err != nil {
		return err
	}

	m.log.Info("evicted oldest records to archive", zap.Int("count", len(oldest)))
	return nil
}

// Recall searches both tiers with a three-stage fallback: active records
// by entity, then the most recent actives as padding, then archive files
// located through the metadata index. Results are deduplicated by id and
// ranked by recency weighted with emotional magnitude.
func (m *Manager) Recall(ctx context.Context, entities []string, n int) ([]model.Record, error) {
	if n <= 0 {
		return nil, nil
	}

	results, err := m.active.QueryByEntities(ctx, entities, n)
	if err != nil {
		return nil, fmt.Errorf("query active: %w", err)
	}

	if len(results) < n {
		recent, err := m.active.Recent(ctx, n-len(results))
		if err != nil {
			return nil, fmt.Errorf("recent active: %w", err)
		}
		results = append(results, recent...)
	}

	if len(results) < n && len(entities) > 0 {
		paths, err := m.archive.FindByEntities(ctx, entities, m.cfg.RecallArchiveFiles)
		if err != nil {
			m.log.Warn("archive index lookup failed", zap.Error(err))
		}
		for _, path := range paths {
			archived, err := m.archive.Load(ctx, path)
			if err != nil {
				// A corrupt or missing archive file degrades recall,
				// it never aborts it.
				m.log.Warn("skipping unreadable archive file",
					zap.String("path", path), zap.Error(err))
				continue
			}
			results = append(results, archived...)
			if len(results) >= n {
				break
			}
		}
	}

	seen := make(map[string]bool, len(results))
	deduped := results[:0]
	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		deduped = append(deduped, r)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return recallScore(&deduped[i]) > recallScore(&deduped[j])
	})

	if len(deduped) > n {
		deduped = deduped[:n]
	}
	return deduped, nil
}

// RecallByEntities queries the active tier only.
func (m *Manager) RecallByEntities(ctx context.Context, entities []string) ([]model.Record, error) {
	return m.active.QueryByEntities(ctx, entities, 10)
}

// Recent returns the n newest active records.
func (m *Manager) Recent(ctx context.Context, n int) ([]model.Record, error) {
	return m.active.Recent(ctx, n)
}

// Count returns the active tier cardinality.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.active.Count(ctx)
}

// ExportActive returns every active record, oldest first.
func (m *Manager) ExportActive(ctx context.Context) ([]model.Record, error) {
	return m.active.All(ctx)
}

// Stats summarizes both tiers.
type Stats struct {
	ActiveRecords   int `json:"active_records"`
	ArchivedRecords int `json:"archived_records"`
	ArchiveFiles    int `json:"archive_files"`
}

// Stats reports record counts across both tiers.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var err error
	if st.ActiveRecords, err = m.active.Count(ctx); err != nil {
		return nil, err
	}
	if st.ArchivedRecords, err = m.archive.Count(ctx); err != nil {
		return nil, err
	}
	if st.ArchiveFiles, err = m.archive.FileCount(); err != nil {
		return nil, err
	}
	return st, nil
}

// Consolidate merges active records whose entity sets overlap beyond the
// configured threshold. The losing record's content survives as a
// timestamped excerpt inside the winner; its id is retired, never reused.
// A no-op unless a record was added since the last pass. Returns how many
// records were merged away.
func (m *Manager) Consolidate(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.active.Count(ctx)
	if err != nil {
		return 0, err
	}
	if m.addsSinceConsolidate == 0 && count == m.lastConsolidatedCount {
		m.log.Debug("no new records since last consolidation")
		return 0, nil
	}

	records, err := m.active.All(ctx)
	if err != nil {
		return 0, err
	}

	type pair struct{ surv, loser string }
	var toMerge []pair
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if overlapRatio(records[i].Entities, records[j].Entities) > m.cfg.ConsolidateOverlap {
				toMerge = append(toMerge, pair{records[i].ID, records[j].ID})
			}
		}
	}

	// Apply merges in memory, resolving by id so a merge never shifts
	// another pair onto the wrong record. Newest pairs first, so chains
	// collapse toward the oldest record.
	alive := make(map[string]*model.Record, len(records))
	for i := range records {
		alive[records[i].ID] = &records[i]
	}
	var loserIDs []string
	touched := map[string]bool{}
	for k := len(toMerge) - 1; k >= 0; k-- {
		surv, loser := alive[toMerge[k].surv], alive[toMerge[k].loser]
		if surv == nil || loser == nil {
			continue
		}
		surv.Content = fmt.Sprintf("%s\n\n[Merged record from %s]: %s",
			surv.Content, loser.Timestamp.UTC().Format("2006-01-02 15:04"), loser.Preview(150))
		for _, e := range loser.Entities {
			surv.AddEntity(e)
		}
		for _, c := range loser.Connections {
			surv.AddConnection(c)
		}
		surv.Valence = (surv.Valence + loser.Valence) / 2

		delete(alive, loser.ID)
		loserIDs = append(loserIDs, loser.ID)
		touched[surv.ID] = true
	}

	if len(loserIDs) > 0 {
		// Persist survivors before deleting losers: a failure part way
		// through leaves extra copies of content, never a dropped or
		// duplicated id.
		for i := range records {
			r := &records[i]
			if !touched[r.ID] || alive[r.ID] == nil {
				continue
			}
			if err := m.active.Update(ctx, r); err != nil {
				return 0, fmt.Errorf("persist merged record %s: %w", r.ID, err)
			}
		}
		if err := m.active.Delete(ctx, loserIDs); err != nil {
			return 0, fmt.Errorf("retire merged records: %w", err)
		}

		m.log.Info("consolidation complete",
			zap.Int("merged", len(loserIDs)),
			zap.Int("remaining", len(records)-len(loserIDs)))
	}

	m.addsSinceConsolidate = 0
	if m.lastConsolidatedCount, err = m.active.Count(ctx); err != nil {
		return len(loserIDs), err
	}
	return len(loserIDs), nil
}
