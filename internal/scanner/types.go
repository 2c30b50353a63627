// Package scanner discovers indexable source files under a project root.
// It walks the tree in lexical order, honours .gitignore rules and
// configured exclude globs, and filters out binary, oversized, and
// sensitive files before they ever reach the indexing pipeline.
package scanner

import "time"

// ContentType classifies what kind of text a file holds.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeConfig   ContentType = "config"
	ContentTypeText     ContentType = "text"
)

// FileRecord describes one discovered file. Path is relative to the
// project root and always slash-separated, so it is stable across
// platforms and usable as part of a chunk identity.
type FileRecord struct {
	Path        string
	AbsPath     string
	Size        int64
	ModTime     time.Time
	Language    string
	ContentType ContentType
}

// Options configures a scan.
type Options struct {
	// Root is the project directory to walk.
	Root string

	// IncludeGlobs restricts results to matching paths (empty = all).
	// Globs use gitignore syntax.
	IncludeGlobs []string

	// ExcludeGlobs removes matching paths, in addition to the built-in
	// deny list. Globs use gitignore syntax.
	ExcludeGlobs []string

	// RespectGitignore applies .gitignore files found during the walk.
	RespectGitignore bool

	// MaxFileSize caps file size in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks includes symlinked files. Off by default because a
	// link escaping the root would be indexed under the wrong project.
	FollowSymlinks bool

	// BufferSize sets the result channel capacity (0 = 64).
	BufferSize int
}

// Result is one item streamed from Scan. Exactly one field is set.
type Result struct {
	File *FileRecord
	Err  error
}

// DefaultMaxFileSize is the cap applied when Options.MaxFileSize is zero.
const DefaultMaxFileSize = 5 * 1024 * 1024

// languageByExt maps extensions (and a few exact file names) to languages.
var languageByExt = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyi": "python",

	".rb":    "ruby",
	".rake":  "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hs":    "haskell",
	".lua":   "lua",
	".sql":   "sql",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",

	".html":   "html",
	".htm":    "html",
	".css":    "css",
	".scss":   "scss",
	".less":   "less",
	".vue":    "vue",
	".svelte": "svelte",

	".json":    "json",
	".yaml":    "yaml",
	".yml":     "yaml",
	".toml":    "toml",
	".xml":     "xml",
	".ini":     "ini",
	".proto":   "protobuf",
	".graphql": "graphql",
	".tf":      "terraform",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
	"Justfile":    "makefile",
}

var contentTypeByLanguage = map[string]ContentType{
	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,

	"text": ContentTypeText,

	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
	"terraform":  ContentTypeConfig,
}

// DetectLanguage returns the language for a path, or "" when unknown.
// Exact file names (Dockerfile, Makefile) win over extensions.
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageByExt[base]; ok {
		return lang
	}
	if lang, ok := languageByExt[extOf(path)]; ok {
		return lang
	}
	return ""
}

// DetectContentType maps a language to its content class. Anything not
// explicitly documentation or configuration counts as code, and unknown
// languages fall back to plain text.
func DetectContentType(language string) ContentType {
	if language == "" {
		return ContentTypeText
	}
	if ct, ok := contentTypeByLanguage[language]; ok {
		return ct
	}
	return ContentTypeCode
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '.':
			return path[i:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}
