// Package model defines the core record data types.
package model

import "time"

// RecordType classifies what kind of experience a record captures.
type RecordType string

const (
	TypeInteraction           RecordType = "interaction"
	TypeReflection            RecordType = "reflection"
	TypeCuriosity             RecordType = "curiosity"
	TypeEmotionalState        RecordType = "emotional_state"
	TypeWisdomTransformation  RecordType = "wisdom_transformation"
	TypeExistentialReflection RecordType = "existential_reflection"
)

// ValidTypes are the allowed record types.
var ValidTypes = map[RecordType]bool{
	TypeInteraction:           true,
	TypeReflection:            true,
	TypeCuriosity:             true,
	TypeEmotionalState:        true,
	TypeWisdomTransformation:  true,
	TypeExistentialReflection: true,
}

// SourceKind discriminates record provenance.
type SourceKind string

const (
	SourceDirect     SourceKind = "direct_experience"
	SourceResearched SourceKind = "researched"
)

// Source records where a record's content came from. Provenance is
// preserved through every transformation (eviction, merge, compression).
type Source struct {
	Kind          SourceKind `json:"kind"`
	Origin        string     `json:"origin,omitempty"`
	OriginalQuery string     `json:"original_query,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// DirectExperience returns the default provenance.
func DirectExperience() Source {
	return Source{Kind: SourceDirect}
}

// Researched returns provenance for externally researched content.
func Researched(origin, originalQuery string) Source {
	now := time.Now().UTC()
	return Source{
		Kind:          SourceResearched,
		Origin:        origin,
		OriginalQuery: originalQuery,
		Timestamp:     &now,
	}
}

// Record is the atomic unit of stored data. A record lives in exactly one
// tier at a time; its ID and Timestamp are immutable once assigned.
type Record struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Timestamp   time.Time  `json:"timestamp"`
	Entities    []string   `json:"entities"`
	Connections []string   `json:"connections"`
	Type        RecordType `json:"record_type"`
	Valence     float64    `json:"valence"`
	Source      Source     `json:"source"`
	Confidence  float64    `json:"confidence"`
}

// HasEntity reports whether the record carries the given entity.
func (r *Record) HasEntity(entity string) bool {
	for _, e := range r.Entities {
		if e == entity {
			return true
		}
	}
	return false
}

// AddEntity appends an entity if not already present.
func (r *Record) AddEntity(entity string) {
	if !r.HasEntity(entity) {
		r.Entities = append(r.Entities, entity)
	}
}

// AddConnection appends a connection if not already present.
func (r *Record) AddConnection(id string) {
	for _, c := range r.Connections {
		if c == id {
			return
		}
	}
	r.Connections = append(r.Connections, id)
}

// Preview returns the content truncated to at most n runes.
func (r *Record) Preview(n int) string {
	runes := []rune(r.Content)
	if len(runes) <= n {
		return r.Content
	}
	return string(runes[:n])
}

// Compressed returns a copy whose content is reduced to a 100-rune excerpt.
// Entities, connections, source, and confidence are preserved: records
// transform, they never lose identity or provenance.
func (r *Record) Compressed() Record {
	out := *r
	out.Content = "[Compressed] " + r.Preview(100)
	out.Entities = append([]string(nil), r.Entities...)
	out.Connections = append([]string(nil), r.Connections...)
	return out
}

// ClampValence bounds v to [-1, 1].
func ClampValence(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
