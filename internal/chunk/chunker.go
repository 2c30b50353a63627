package chunk

import (
	"context"
)

// Dispatcher routes a file to the right chunker by language: structural
// when a grammar is registered, heading sections for markdown, sliding
// window otherwise.
type Dispatcher struct {
	structural *StructuralChunker
	markdown   *MarkdownChunker
	window     *WindowChunker
}

// NewDispatcher builds a dispatcher over the default language registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		structural: NewStructuralChunker(),
		markdown:   NewMarkdownChunker(),
		window:     NewWindowChunker(),
	}
}

// Chunk implements Chunker.
func (d *Dispatcher) Chunk(ctx context.Context, file *FileInput) ([]Chunk, error) {
	switch {
	case file.Language == "markdown" || file.Language == "rst":
		return d.markdown.Chunk(ctx, file)
	case d.structural.Supports(file.Language):
		return d.structural.Chunk(ctx, file)
	default:
		return d.window.Chunk(ctx, file)
	}
}

// Close releases parser resources.
func (d *Dispatcher) Close() {
	d.structural.Close()
}
