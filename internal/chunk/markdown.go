package chunk

import (
	"context"
	"strings"
)

// MarkdownChunker splits markdown by heading sections. Each section
// becomes one chunk named by its heading path; oversized sections are
// re-split with the sliding window. Fenced code blocks never terminate a
// section, so a `# comment` inside a fence is not mistaken for a heading.
type MarkdownChunker struct {
	window *WindowChunker
}

// NewMarkdownChunker returns a markdown chunker.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{window: NewWindowChunker()}
}

// Chunk implements Chunker.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	sections := parseSections(file.Content)
	var chunks []Chunk
	for _, sec := range sections {
		if strings.TrimSpace(string(file.Content[sec.start:sec.end])) == "" {
			continue
		}
		if sec.end-sec.start > MaxStructuralChunkBytes {
			for _, w := range c.window.windows(file, sec.start, sec.end, KindSection, sec.title) {
				chunks = append(chunks, w)
			}
			continue
		}
		chunks = append(chunks, build(file, sec.start, sec.end, KindSection, sec.title))
	}
	return chunks, nil
}

type section struct {
	title      string
	start, end int
}

// parseSections splits content at ATX headings outside code fences. The
// preamble before the first heading becomes an untitled section.
func parseSections(content []byte) []section {
	var sections []section
	var current section
	inFence := false
	lineStart := 0

	flush := func(end int) {
		current.end = end
		if current.end > current.start {
			sections = append(sections, current)
		}
	}

	for lineStart < len(content) {
		lineEnd := lineStart
		for lineEnd < len(content) && content[lineEnd] != '\n' {
			lineEnd++
		}
		line := string(content[lineStart:lineEnd])
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isHeading(trimmed) && lineStart > 0 {
			flush(lineStart)
			current = section{title: headingTitle(trimmed), start: lineStart}
		}
		if lineStart == 0 && isHeading(trimmed) {
			current.title = headingTitle(trimmed)
		}

		lineStart = lineEnd + 1
	}
	flush(len(content))
	return sections
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	return hashes <= 6 && hashes < len(line) && line[hashes] == ' '
}

func headingTitle(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}
