package chunk

import (
	"context"
	"unicode/utf8"
)

// WindowChunker slides a fixed-size character window with overlap over a
// file. It is the fallback for languages without structural support.
type WindowChunker struct {
	Size    int
	Overlap int
}

// NewWindowChunker returns a window chunker with the default geometry.
func NewWindowChunker() *WindowChunker {
	return &WindowChunker{Size: DefaultWindowSize, Overlap: DefaultWindowOverlap}
}

// Chunk implements Chunker.
func (c *WindowChunker) Chunk(_ context.Context, file *FileInput) ([]Chunk, error) {
	chunks := c.windows(file, 0, len(file.Content), KindWindow, "")
	return chunks, nil
}

// windows emits window chunks covering file.Content[lo:hi). Boundaries
// are nudged so a window never splits a UTF-8 sequence, and when a
// newline sits close to the cut point the window breaks there instead.
func (c *WindowChunker) windows(file *FileInput, lo, hi int, kind SymbolKind, name string) []Chunk {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = DefaultWindowSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultWindowOverlap
		if overlap >= size {
			overlap = size / 8
		}
	}

	if hi-lo == 0 {
		return nil
	}
	var chunks []Chunk
	for start := lo; start < hi; {
		end := start + size
		if end >= hi {
			end = hi
		} else {
			end = snapBoundary(file.Content, end, start)
		}
		chunks = append(chunks, build(file, start, end, kind, name))
		if end >= hi {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		next = snapRuneStart(file.Content, next)
		start = next
	}
	return chunks
}

// snapBoundary prefers a newline within the last tenth of the window,
// then falls back to the nearest rune start at or before end.
func snapBoundary(content []byte, end, start int) int {
	lookback := (end - start) / 10
	for i := end; i > end-lookback && i > start; i-- {
		if content[i-1] == '\n' {
			return i
		}
	}
	for end > start && !utf8.RuneStart(content[end]) {
		end--
	}
	return end
}

// snapRuneStart moves pos forward to the next rune boundary.
func snapRuneStart(content []byte, pos int) int {
	for pos < len(content) && !utf8.RuneStart(content[pos]) {
		pos++
	}
	return pos
}
