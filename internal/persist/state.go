// Package persist implements the crash-resistant snapshot engine:
// redundant primary/backup writes, dated archive rotation, and ordered
// recovery.
package persist

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is returned when a snapshot fails structural validation.
var ErrInvalidState = errors.New("invalid state")

// State is the versioned snapshot object the engine persists.
type State struct {
	Version          uint64    `json:"version"`
	LastUpdate       float64   `json:"last_update"`
	FieldData        []float64 `json:"field_data"`
	CognitiveTensor  []float64 `json:"cognitive_tensor"`
	MemoryEmbeddings []float64 `json:"memory_embeddings"`
	Satisfaction     float64   `json:"satisfaction"`
	Affirmation      float64   `json:"affirmation"`
}

// NewState returns a valid initial state.
func NewState() *State {
	return &State{
		Version:          1,
		LastUpdate:       unixNow(),
		FieldData:        make([]float64, 64),
		CognitiveTensor:  make([]float64, 64),
		MemoryEmbeddings: make([]float64, 32),
		Satisfaction:     1.0,
		Affirmation:      0.5,
	}
}

// Touch bumps the version and refreshes the last-update time.
func (s *State) Touch() {
	s.Version++
	s.LastUpdate = unixNow()
}

// Validate checks the structural invariants: version at least 1,
// last-update set, and at least one non-empty numeric vector.
func (s *State) Validate() error {
	if s.Version == 0 {
		return fmt.Errorf("version is 0: %w", ErrInvalidState)
	}
	if s.LastUpdate == 0 {
		return fmt.Errorf("state never updated: %w", ErrInvalidState)
	}
	if len(s.FieldData) == 0 && len(s.CognitiveTensor) == 0 && len(s.MemoryEmbeddings) == 0 {
		return fmt.Errorf("all numeric vectors empty: %w", ErrInvalidState)
	}
	return nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
