// Package vector defines the vector store contract and its two
// backends: an embedded HNSW index persisted under the workspace data
// directory and a remote qdrant server. One collection per project,
// named ctx_<project_id>, with a fixed dimension per collection.
package vector

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// ErrCollectionNotFound reports an operation on a missing collection.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionName returns the collection for a project.
func CollectionName(projectID string) string {
	return "ctx_" + projectID
}

// ProjectID recovers the project id from a collection name.
func ProjectID(collection string) string {
	return strings.TrimPrefix(collection, "ctx_")
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty, a zero vector, or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
		na += float64(a[n]) * float64(a[n])
		nb += float64(b[n]) * float64(b[n])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Payload is the metadata stored with each vector. It carries enough to
// render a search result without re-reading the file.
type Payload struct {
	ProjectID   string    `json:"project_id"`
	FilePath    string    `json:"file_path"`
	Language    string    `json:"language,omitempty"`
	SymbolKind  string    `json:"symbol_kind,omitempty"`
	SymbolName  string    `json:"symbol_name,omitempty"`
	ByteStart   int       `json:"byte_start"`
	ByteEnd     int       `json:"byte_end"`
	ContentHash string    `json:"content_hash"`
	ModTime     time.Time `json:"mtime,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
}

// Entry is one stored vector. ID is the chunk id, so upserts are
// idempotent: re-indexing identical content rewrites the same point.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Scored is a search hit with its similarity in [0, 1].
type Scored struct {
	Entry
	Score float32
}

// Filter restricts search hits by payload equality; zero fields match
// everything. PathPrefix matches file paths by prefix.
type Filter struct {
	ProjectID  string
	Language   string
	SymbolKind string
	PathPrefix string
}

// Matches reports whether p passes the filter.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	if f.ProjectID != "" && p.ProjectID != f.ProjectID {
		return false
	}
	if f.Language != "" && p.Language != f.Language {
		return false
	}
	if f.SymbolKind != "" && p.SymbolKind != f.SymbolKind {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(p.FilePath, f.PathPrefix) {
		return false
	}
	return true
}

// Store is the vector store contract. Implementations must make Upsert
// idempotent by id.
type Store interface {
	CreateCollection(ctx context.Context, name string, dim int) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CollectionDimensions returns the fixed dimension of a collection.
	CollectionDimensions(ctx context.Context, name string) (int, error)
	Upsert(ctx context.Context, name string, entries []Entry) error
	Delete(ctx context.Context, name string, ids []string) error
	Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Scored, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}
