// Package singer writes SCHEMA, RECORD and STATE messages and keeps the
// bookmark state between runs.
package singer

import (
	"time"
)

// Message types
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Schema is the JSON-schema subset used to describe a stream
type Schema struct {
	Type        []string           `json:"type" yaml:"type,flow"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Format      string             `json:"format,omitempty" yaml:"format,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	MaxLength   int                `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

// Nullable returns a schema of the given type that also admits null
func Nullable(typ string) *Schema {
	return &Schema{Type: []string{typ, "null"}}
}

// SchemaMessage declares the shape of a stream
type SchemaMessage struct {
	Type          string   `json:"type"`
	Stream        string   `json:"stream"`
	Schema        *Schema  `json:"schema"`
	KeyProperties []string `json:"key_properties"`
}

// RecordMessage carries one record of a stream
type RecordMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted *time.Time             `json:"time_extracted,omitempty"`
}

// StateMessage carries the bookmark state
type StateMessage struct {
	Type  string `json:"type"`
	Value State  `json:"value"`
}

// State holds one bookmark per entity
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Bookmark records when an entity last completed a sync
type Bookmark struct {
	LastSync string `json:"last_sync"`
}

// NewState returns an empty state
func NewState() State {
	return State{Bookmarks: make(map[string]Bookmark)}
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	out := NewState()
	for k, v := range s.Bookmarks {
		out.Bookmarks[k] = v
	}
	return out
}
