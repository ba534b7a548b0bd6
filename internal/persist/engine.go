package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoState is returned when every recovery location fails. It implies
// total loss of persisted state and should be surfaced loudly at startup.
var ErrNoState = errors.New("no consistent state found")

// DefaultKeep is how many dated archive snapshots are retained.
const DefaultKeep = 100

// Engine writes snapshots to a primary file, a backup file, and a dated
// archive directory, and recovers by trying those locations in order.
type Engine struct {
	primary    string
	backup     string
	archiveDir string
	keep       int
	log        *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithKeep overrides how many archive snapshots are retained.
func WithKeep(n int) EngineOption {
	return func(e *Engine) { e.keep = n }
}

// WithEngineLogger sets the logger. Default is a no-op logger.
func WithEngineLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine rooted at dir. The primary snapshot lives at
// dir/state.json, the backup under dir/backup/, dated copies under
// dir/archive/.
func NewEngine(dir string, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		primary:    filepath.Join(dir, "state.json"),
		backup:     filepath.Join(dir, "backup", "state_backup.json"),
		archiveDir: filepath.Join(dir, "archive"),
		keep:       DefaultKeep,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, d := range []string{dir, filepath.Dir(e.backup), e.archiveDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return e, nil
}

// Persist serializes the state and writes it to the primary path, the
// backup path, and a dated archive copy, then prunes old archives.
// Validation runs after the writes as an integrity signal: a validation
// failure is returned but the written bytes are not rolled back.
func (e *Engine) Persist(s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	if err := os.WriteFile(e.primary, data, 0o644); err != nil {
		return fmt.Errorf("write primary: %w", err)
	}
	if err := os.WriteFile(e.backup, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	if err := e.writeDatedSnapshot(data); err != nil {
		return fmt.Errorf("write archive snapshot: %w", err)
	}

	if err := e.pruneArchive(); err != nil {
		return fmt.Errorf("prune archive: %w", err)
	}

	if err := s.Validate(); err != nil {
		return fmt.Errorf("post-write validation: %w", err)
	}
	return nil
}

// writeDatedSnapshot creates a new archive snapshot file. Snapshots within
// the same second get a numeric suffix; an existing snapshot is never
// overwritten.
func (e *Engine) writeDatedSnapshot(data []byte) error {
	stamp := time.Now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("state_%s.json", stamp)
	for n := 2; ; n++ {
		f, err := os.OpenFile(filepath.Join(e.archiveDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			name = fmt.Sprintf("state_%s_%d.json", stamp, n)
			continue
		}
		if err != nil {
			return err
		}

		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		return werr
	}
}

// pruneArchive keeps only the newest `keep` snapshots. Filenames encode
// the timestamp, so lexical order is chronological order.
func (e *Engine) pruneArchive() error {
	entries, err := os.ReadDir(e.archiveDir)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "state_") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names[min(e.keep, len(names)):] {
		os.Remove(filepath.Join(e.archiveDir, name))
	}
	return nil
}

// Recover tries the primary path, then the backup, then each dated archive
// snapshot from newest to oldest. The first location that parses and
// validates wins. Exhaustion of all locations returns ErrNoState.
func (e *Engine) Recover() (*State, error) {
	if s, err := e.readState(e.primary); err == nil {
		return s, nil
	} else {
		e.log.Debug("primary state unusable", zap.Error(err))
	}

	if s, err := e.readState(e.backup); err == nil {
		e.log.Warn("recovered state from backup")
		return s, nil
	} else {
		e.log.Debug("backup state unusable", zap.Error(err))
	}

	entries, err := os.ReadDir(e.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", ErrNoState)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "state_") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		if s, err := e.readState(filepath.Join(e.archiveDir, name)); err == nil {
			e.log.Warn("recovered state from archive snapshot", zap.String("file", name))
			return s, nil
		}
	}

	return nil, ErrNoState
}

func (e *Engine) readState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Live is the shared, lock-guarded state object the background loop
// snapshots. Many readers, one writer.
type Live struct {
	mu    sync.RWMutex
	state State
}

// NewLive wraps an initial state.
func NewLive(s *State) *Live {
	return &Live{state: *s}
}

// Update applies fn under the write lock.
func (l *Live) Update(fn func(*State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.state)
}

// Snapshot returns a copy taken under the read lock.
func (l *Live) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.state
	s.FieldData = append([]float64(nil), l.state.FieldData...)
	s.CognitiveTensor = append([]float64(nil), l.state.CognitiveTensor...)
	s.MemoryEmbeddings = append([]float64(nil), l.state.MemoryEmbeddings...)
	return s
}

// Run persists the live state every interval until ctx is cancelled.
// The loop only ever takes a read lock, so it never blocks the owner from
// updating state. Persist errors are logged and the loop continues.
func (e *Engine) Run(ctx context.Context, live *Live, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := live.Snapshot()
			if err := e.Persist(&s); err != nil {
				e.log.Error("persist state", zap.Error(err))
			}
		}
	}
}
