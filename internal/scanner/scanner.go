package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latticemcp/lattice/internal/gitignore"
)

// gitignoreCacheSize bounds the per-directory matcher cache so long
// running processes do not grow without limit.
const gitignoreCacheSize = 1000

const defaultBufferSize = 64

// Scanner walks project trees and streams indexable files. A single
// Scanner can serve many projects; the gitignore cache is keyed by
// absolute directory.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.Mutex
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Scan walks opts.Root and streams discovered files on the returned
// channel. The walk is depth-first in lexical order, so two scans of an
// unchanged tree emit files in the same order. The channel closes when
// the walk finishes or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	var include, exclude *gitignore.Matcher
	if len(opts.IncludeGlobs) > 0 {
		include = gitignore.FromPatterns(opts.IncludeGlobs)
	}
	if len(opts.ExcludeGlobs) > 0 {
		exclude = gitignore.FromPatterns(opts.ExcludeGlobs)
	}

	results := make(chan Result, bufSize)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxSize, include, exclude, results)
	}()
	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts Options, maxSize int64, include, exclude *gitignore.Matcher, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.skipDir(rel, d.Name(), absRoot, opts, exclude) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if s.skipFile(rel, absRoot, opts, exclude) {
			return nil
		}
		if include != nil && !include.Match(rel, false) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize {
			return nil
		}
		if looksBinary(path) {
			return nil
		}

		lang := DetectLanguage(rel)
		rec := &FileRecord{
			Path:        rel,
			AbsPath:     path,
			Size:        fi.Size(),
			ModTime:     fi.ModTime(),
			Language:    lang,
			ContentType: DetectContentType(lang),
		}

		select {
		case results <- Result{File: rec}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// skipDir decides whether a whole subtree can be pruned. Gitignored
// directories are pruned too: git itself cannot re-include a file whose
// parent directory is excluded, so no negation can resurrect anything
// under them.
func (s *Scanner) skipDir(rel, name, absRoot string, opts Options, exclude *gitignore.Matcher) bool {
	if _, ok := denyDirs[name]; ok {
		return true
	}
	if exclude != nil && exclude.Match(rel, true) {
		return true
	}
	if opts.RespectGitignore && s.gitignored(rel, absRoot, true) {
		return true
	}
	return false
}

func (s *Scanner) skipFile(rel, absRoot string, opts Options, exclude *gitignore.Matcher) bool {
	if sensitiveFiles.Match(rel, false) {
		return true
	}
	if _, ok := binaryExts[strings.ToLower(extOf(rel))]; ok {
		return true
	}
	if exclude != nil && exclude.Match(rel, false) {
		return true
	}
	if opts.RespectGitignore && s.gitignored(rel, absRoot, false) {
		return true
	}
	return false
}

// gitignored checks rel against the root .gitignore plus every nested
// .gitignore on the path down to it.
func (s *Scanner) gitignored(rel, absRoot string, isDir bool) bool {
	if m := s.matcherFor(absRoot, ""); m != nil && m.Match(rel, isDir) {
		return true
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	base := ""
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if base == "" {
			base = part
		} else {
			base = base + "/" + part
		}
		m := s.matcherFor(filepath.Join(absRoot, filepath.FromSlash(base)), base)
		if m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for dir's .gitignore, or nil
// when the directory has none.
func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if m, ok := s.gitignoreCache.Get(dir); ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	m := gitignore.New()
	if err := m.AddFromFile(path, base); err != nil {
		return nil
	}
	s.gitignoreCache.Add(dir, m)
	return m
}

// InvalidateGitignoreCache drops all cached matchers. The watcher calls
// this when a .gitignore file changes.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// looksBinary sniffs the first 512 bytes for a NUL, which no text
// encoding we index produces.
func looksBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n <= 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// denyDirs are pruned unconditionally. They hold dependencies, build
// output, VCS metadata, or our own state, none of which belongs in an
// index.
var denyDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	".idea":        {},
	".vscode":      {},
	".cache":       {},
	".lattice":     {},
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
	".venv":        {},
	"venv":         {},
	".tox":         {},
	"dist":         {},
	"build":        {},
	"target":       {},
	".next":        {},
	".terraform":   {},
}

// sensitiveFiles are never indexed regardless of configuration.
var sensitiveFiles = gitignore.FromPatterns([]string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*.keystore",
	"*credentials*",
	"*secret*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
})

// binaryExts are rejected by extension without opening the file.
var binaryExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {},
	".webp": {}, ".svgz": {}, ".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".bz2": {}, ".xz": {}, ".zst": {}, ".7z": {}, ".rar": {}, ".exe": {},
	".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {}, ".bin": {},
	".dat": {}, ".db": {}, ".sqlite": {}, ".sqlite3": {}, ".woff": {},
	".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {}, ".mp3": {}, ".mp4": {},
	".avi": {}, ".mov": {}, ".mkv": {}, ".wasm": {}, ".pyc": {}, ".class": {},
	".jar": {}, ".war": {},
}
