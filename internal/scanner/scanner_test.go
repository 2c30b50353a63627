package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "go file", path: "main.go", want: "go"},
		{name: "go in directory", path: "pkg/lib/utils.go", want: "go"},
		{name: "javascript", path: "app.js", want: "javascript"},
		{name: "typescript react", path: "Component.tsx", want: "typescript"},
		{name: "python", path: "script.py", want: "python"},
		{name: "rust", path: "main.rs", want: "rust"},
		{name: "java", path: "Main.java", want: "java"},
		{name: "c header", path: "lib.h", want: "c"},
		{name: "ruby", path: "app.rb", want: "ruby"},
		{name: "shell", path: "deploy.sh", want: "shell"},
		{name: "yaml", path: "ci.yml", want: "yaml"},
		{name: "toml", path: "Cargo.toml", want: "toml"},
		{name: "terraform", path: "main.tf", want: "terraform"},
		{name: "markdown", path: "README.md", want: "markdown"},
		{name: "dockerfile exact name", path: "Dockerfile", want: "dockerfile"},
		{name: "dockerfile in subdir", path: "deploy/Dockerfile", want: "dockerfile"},
		{name: "makefile lowercase", path: "makefile", want: "makefile"},
		{name: "unknown extension", path: "data.xyz", want: ""},
		{name: "no extension", path: "LICENSE", want: ""},
		{name: "dotfile with known suffix", path: ".golangci.yml", want: "yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name     string
		language string
		want     ContentType
	}{
		{name: "go is code", language: "go", want: ContentTypeCode},
		{name: "python is code", language: "python", want: ContentTypeCode},
		{name: "markdown", language: "markdown", want: ContentTypeMarkdown},
		{name: "rst", language: "rst", want: ContentTypeMarkdown},
		{name: "yaml is config", language: "yaml", want: ContentTypeConfig},
		{name: "makefile is config", language: "makefile", want: ContentTypeConfig},
		{name: "plain text", language: "text", want: ContentTypeText},
		{name: "empty falls back to text", language: "", want: ContentTypeText},
		{name: "unlisted language counts as code", language: "zig", want: ContentTypeCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.language))
		})
	}
}

// writeTree creates files under root. Keys are slash-separated relative
// paths, values the file content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// collect drains the scan channel and returns relative paths in emission
// order, failing the test on any scan error.
func collect(t *testing.T, results <-chan Result) []string {
	t.Helper()
	var paths []string
	for r := range results {
		require.NoError(t, r.Err)
		require.NotNil(t, r.File)
		paths = append(paths, r.File.Path)
	}
	return paths
}

func newScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":              "package main\n",
		"api/handler.py":       "def handle(): pass\n",
		"README.md":            "# readme\n",
		".env":                 "TOKEN=x\n",
		"logo.png":             "not really a png",
		"node_modules/x.js":    "module.exports = 1\n",
		"vendor/dep/dep.go":    "package dep\n",
		"__pycache__/a.pyc":    "zz",
		".lattice/state.json":  "{}",
		"certs/server.pem":     "-----BEGIN-----",
		"creds/credentials.js": "let k = 1\n",
	})
	// A real binary: contains a NUL byte but has a text extension.
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.txt"), []byte("ab\x00cd"), 0o644))

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{Root: root})
	require.NoError(t, err)

	paths := collect(t, results)
	assert.Equal(t, []string{"README.md", "api/handler.py", "main.go"}, paths)
}

func TestScanner_Scan_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"z.go":     "package z\n",
		"a.go":     "package a\n",
		"m/one.go": "package m\n",
		"m/two.go": "package m\n",
		"b/x.go":   "package b\n",
	})

	s := newScanner(t)

	run := func() []string {
		results, err := s.Scan(context.Background(), Options{Root: root})
		require.NoError(t, err)
		return collect(t, results)
	}

	first := run()
	assert.Equal(t, []string{"a.go", "b/x.go", "m/one.go", "m/two.go", "z.go"}, first)
	assert.Equal(t, first, run(), "same tree scans in the same order")
}

func TestScanner_Scan_FileRecordFields(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/app.ts": "export const x = 1\n"})

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{Root: root})
	require.NoError(t, err)

	r := <-results
	require.NoError(t, r.Err)
	require.NotNil(t, r.File)

	assert.Equal(t, "src/app.ts", r.File.Path)
	assert.Equal(t, filepath.Join(root, "src", "app.ts"), r.File.AbsPath)
	assert.Equal(t, int64(19), r.File.Size)
	assert.False(t, r.File.ModTime.IsZero())
	assert.Equal(t, "typescript", r.File.Language)
	assert.Equal(t, ContentTypeCode, r.File.ContentType)

	_, open := <-results
	assert.False(t, open)
}

func TestScanner_ExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":          "package main\n",
		"main_test.go":     "package main\n",
		"gen/models.go":    "package gen\n",
		"docs/guide.md":    "# guide\n",
		"docs/internal.md": "# internal\n",
	})

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{
		Root:         root,
		ExcludeGlobs: []string{"*_test.go", "gen/", "docs/internal.md"},
	})
	require.NoError(t, err)

	paths := collect(t, results)
	assert.Equal(t, []string{"docs/guide.md", "main.go"}, paths)
}

func TestScanner_IncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":    "package main\n",
		"util.py":    "x = 1\n",
		"sub/lib.go": "package sub\n",
		"README.md":  "# readme\n",
	})

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{
		Root:         root,
		IncludeGlobs: []string{"*.go"},
	})
	require.NoError(t, err)

	paths := collect(t, results)
	assert.Equal(t, []string{"main.go", "sub/lib.go"}, paths)
}

func TestScanner_RespectGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":      "*.log\ntmp/\n",
		"main.go":         "package main\n",
		"debug.log":       "line\n",
		"tmp/scratch.go":  "package tmp\n",
		"sub/.gitignore":  "local.txt\n",
		"sub/local.txt":   "private\n",
		"sub/kept.txt":    "public\n",
		"other/local.txt": "not scoped\n",
	})

	s := newScanner(t)

	t.Run("enabled", func(t *testing.T) {
		results, err := s.Scan(context.Background(), Options{Root: root, RespectGitignore: true})
		require.NoError(t, err)
		paths := collect(t, results)
		assert.Equal(t, []string{".gitignore", "main.go", "other/local.txt", "sub/.gitignore", "sub/kept.txt"}, paths)
	})

	t.Run("disabled", func(t *testing.T) {
		results, err := s.Scan(context.Background(), Options{Root: root})
		require.NoError(t, err)
		paths := collect(t, results)
		assert.Contains(t, paths, "debug.log")
		assert.Contains(t, paths, "tmp/scratch.go")
	})
}

func TestScanner_MaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.go": "package small\n",
		"big.go":   "package big\n" + strings.Repeat("// padding\n", 100),
	})

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{Root: root, MaxFileSize: 64})
	require.NoError(t, err)

	paths := collect(t, results)
	assert.Equal(t, []string{"small.go"}, paths)
}

func TestScanner_SymlinksSkippedByDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{"real.go": "package real\n"})
	require.NoError(t, os.Symlink(
		filepath.Join(root, "real.go"),
		filepath.Join(root, "link.go"),
	))

	s := newScanner(t)
	results, err := s.Scan(context.Background(), Options{Root: root})
	require.NoError(t, err)

	paths := collect(t, results)
	assert.Equal(t, []string{"real.go"}, paths)
}

func TestScanner_RootValidation(t *testing.T) {
	s := newScanner(t)

	t.Run("missing root", func(t *testing.T) {
		_, err := s.Scan(context.Background(), Options{Root: filepath.Join(t.TempDir(), "nope")})
		require.Error(t, err)
	})

	t.Run("root is a file", func(t *testing.T) {
		root := t.TempDir()
		file := filepath.Join(root, "f.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		_, err := s.Scan(context.Background(), Options{Root: file})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestScanner_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[filepath.Join("pkg", string(rune('a'+i%26))+".go")] = "package pkg\n"
	}
	writeTree(t, root, files)

	s := newScanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := s.Scan(ctx, Options{Root: root, BufferSize: 1})
	require.NoError(t, err)

	for range results {
	}
	// Channel closed without deadlock; nothing more to assert.
}

func TestScanner_InvalidateGitignoreCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "*.log\n",
		"app.go":     "package app\n",
		"trace.log":  "x\n",
	})

	s := newScanner(t)

	results, err := s.Scan(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.NotContains(t, collect(t, results), "trace.log")

	// Stop ignoring logs. The cached matcher still has the old rules
	// until invalidated.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# nothing\n"), 0o644))
	s.InvalidateGitignoreCache()

	results, err = s.Scan(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.Contains(t, collect(t, results), "trace.log")
}
