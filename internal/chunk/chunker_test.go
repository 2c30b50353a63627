package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(path, language, content string) *FileInput {
	return &FileInput{
		ProjectID:   "p1",
		Path:        path,
		Content:     []byte(content),
		Language:    language,
		ContentHash: "deadbeef",
	}
}

func TestIDDeterministic(t *testing.T) {
	a := ID("p1", "a.go", 0, 100, "h1")
	b := ID("p1", "a.go", 0, 100, "h1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, a, ID("p2", "a.go", 0, 100, "h1"))
	assert.NotEqual(t, a, ID("p1", "b.go", 0, 100, "h1"))
	assert.NotEqual(t, a, ID("p1", "a.go", 0, 101, "h1"))
	assert.NotEqual(t, a, ID("p1", "a.go", 0, 100, "h2"))
}

func TestStructuralGo(t *testing.T) {
	src := `package widgets

import "fmt"

// Greet says hello.
func Greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}

type Widget struct {
	Name string
}

func (w *Widget) Render() string {
	return w.Name
}

type Renderer interface {
	Render() string
}
`
	c := NewStructuralChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), input("widgets.go", "go", src))
	require.NoError(t, err)

	byName := map[string]Chunk{}
	for _, ch := range chunks {
		byName[ch.SymbolName] = ch
	}

	greet, ok := byName["Greet"]
	require.True(t, ok, "expected a Greet chunk, got %v", names(chunks))
	assert.Equal(t, KindFunction, greet.SymbolKind)
	assert.Contains(t, greet.Text, "// Greet says hello.")
	assert.Contains(t, greet.Text, "func Greet")
	assert.Equal(t, greet.Text, src[greet.ByteStart:greet.ByteEnd])

	render, ok := byName["Widget.Render"]
	require.True(t, ok)
	assert.Equal(t, KindMethod, render.SymbolKind)

	widget, ok := byName["Widget"]
	require.True(t, ok)
	assert.Equal(t, KindType, widget.SymbolKind)

	iface, ok := byName["Renderer"]
	require.True(t, ok)
	assert.Equal(t, KindInterface, iface.SymbolKind)

	mod, ok := byName["widgets"]
	require.True(t, ok, "expected a module residual chunk")
	assert.Equal(t, KindModule, mod.SymbolKind)
	assert.Contains(t, mod.Text, "package widgets")
	assert.Contains(t, mod.Text, `import "fmt"`)
	assert.NotContains(t, mod.Text, "func Greet")
}

func TestStructuralPython(t *testing.T) {
	src := "def foo(): pass\n"
	c := NewStructuralChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), input("a.py", "python", src))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "foo", chunks[0].SymbolName)
	assert.Equal(t, KindFunction, chunks[0].SymbolKind)
}

func TestStructuralDeterministicIDs(t *testing.T) {
	src := "package p\n\nfunc A() {}\n\nfunc B() {}\n"
	c := NewStructuralChunker()
	defer c.Close()

	first, err := c.Chunk(context.Background(), input("p.go", "go", src))
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), input("p.go", "go", src))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestStructuralFallsBackOnUnknownLanguage(t *testing.T) {
	c := NewStructuralChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), input("a.lisp", "lisp", "(defun foo ())"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, KindWindow, chunks[0].SymbolKind)
}

func TestWindowCoverageAndOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("line with some content in it\n")
	}
	src := sb.String()

	w := &WindowChunker{Size: 1000, Overlap: 100}
	chunks, err := w.Chunk(context.Background(), input("big.txt", "text", src))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 0, chunks[0].ByteStart)
	assert.Equal(t, len(src), chunks[len(chunks)-1].ByteEnd)
	for i := 1; i < len(chunks); i++ {
		// Consecutive windows overlap, so nothing is skipped.
		assert.Less(t, chunks[i].ByteStart, chunks[i-1].ByteEnd)
	}
	for _, ch := range chunks {
		assert.Equal(t, src[ch.ByteStart:ch.ByteEnd], ch.Text)
	}
}

func TestWindowDoesNotSplitRunes(t *testing.T) {
	src := strings.Repeat("héllo wörld ", 300)
	w := &WindowChunker{Size: 500, Overlap: 50}
	chunks, err := w.Chunk(context.Background(), input("u.txt", "text", src))
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.True(t, strings.ToValidUTF8(ch.Text, "?") == ch.Text, "chunk split a rune")
	}
}

func TestWindowEmptyFile(t *testing.T) {
	w := NewWindowChunker()
	chunks, err := w.Chunk(context.Background(), input("empty.txt", "text", ""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMarkdownSections(t *testing.T) {
	src := `# Title

Intro paragraph.

## Setup

Run the installer.

` + "```bash\n# not a heading\necho hi\n```" + `

## Usage

Call the thing.
`
	c := NewMarkdownChunker()
	chunks, err := c.Chunk(context.Background(), input("README.md", "markdown", src))
	require.NoError(t, err)

	titles := names(chunks)
	assert.Contains(t, titles, "Title")
	assert.Contains(t, titles, "Setup")
	assert.Contains(t, titles, "Usage")
	// The fenced "# not a heading" stays inside the Setup section.
	assert.NotContains(t, titles, "not a heading")

	for _, ch := range chunks {
		assert.Equal(t, KindSection, ch.SymbolKind)
		assert.Equal(t, src[ch.ByteStart:ch.ByteEnd], ch.Text)
	}
}

func TestDispatcherRouting(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	ctx := context.Background()

	md, err := d.Chunk(ctx, input("doc.md", "markdown", "# H\n\nbody\n"))
	require.NoError(t, err)
	require.NotEmpty(t, md)
	assert.Equal(t, KindSection, md[0].SymbolKind)

	goChunks, err := d.Chunk(ctx, input("m.go", "go", "package m\n\nfunc F() {}\n"))
	require.NoError(t, err)
	require.NotEmpty(t, goChunks)

	txt, err := d.Chunk(ctx, input("notes.txt", "text", "plain text notes"))
	require.NoError(t, err)
	require.Len(t, txt, 1)
	assert.Equal(t, KindWindow, txt[0].SymbolKind)
}

func names(chunks []Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch.SymbolName)
	}
	return out
}
