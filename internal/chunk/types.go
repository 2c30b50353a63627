// Package chunk splits files into the units of embedding and retrieval.
// Languages with a tree-sitter grammar get one chunk per top-level
// declaration plus a module-level residual; markdown is split by heading
// sections; everything else falls back to a sliding character window.
// Chunk ids are derived from content, so re-chunking identical input
// yields identical ids and upserts stay idempotent.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sliding-window defaults for languages without structural support.
const (
	DefaultWindowSize    = 1500
	DefaultWindowOverlap = 200
)

// MaxStructuralChunkBytes caps a single structural chunk. Symbols larger
// than this are re-split with the sliding window inside their byte range.
const MaxStructuralChunkBytes = 8 * 1024

// SymbolKind classifies what a chunk covers.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	// KindModule marks the residual chunk holding everything outside
	// top-level declarations (imports, constants, module docstrings).
	KindModule SymbolKind = "module"
	// KindSection marks a markdown heading section.
	KindSection SymbolKind = "section"
	// KindWindow marks a plain sliding-window chunk.
	KindWindow SymbolKind = "window"
)

// Chunk is one retrievable unit of a file.
type Chunk struct {
	ID         string
	ProjectID  string
	FilePath   string
	ByteStart  int
	ByteEnd    int
	Text       string
	Language   string
	SymbolKind SymbolKind
	SymbolName string
}

// FileInput is a file handed to a chunker. ContentHash is the scanner's
// hash of Content; it participates in chunk identity.
type FileInput struct {
	ProjectID   string
	Path        string
	Content     []byte
	Language    string
	ContentHash string
}

// Chunker splits one file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]Chunk, error)
}

// ID derives the deterministic chunk id from the chunk's identity tuple.
// Identical content at the same location always hashes to the same id.
func ID(projectID, path string, start, end int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d-%d:%s", projectID, path, start, end, contentHash)))
	return hex.EncodeToString(sum[:])[:16]
}

// build assembles a chunk for the given byte range of file.
func build(file *FileInput, start, end int, kind SymbolKind, name string) Chunk {
	return Chunk{
		ID:         ID(file.ProjectID, file.Path, start, end, file.ContentHash),
		ProjectID:  file.ProjectID,
		FilePath:   file.Path,
		ByteStart:  start,
		ByteEnd:    end,
		Text:       string(file.Content[start:end]),
		Language:   file.Language,
		SymbolKind: kind,
		SymbolName: name,
	}
}
