package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled patterns. Safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	raw      string
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
	// base scopes the rule to a subdirectory, for nested .gitignore files.
	base string
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// FromPatterns builds a matcher from a pattern list.
func FromPatterns(patterns []string) *Matcher {
	m := New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

// AddPattern adds one gitignore pattern applying from the root.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that applies only under base.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	// A trailing "\ " keeps its space through trimming.
	escapedTrailingSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)

	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{raw: pattern, base: base}

	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
		r.raw = pattern
	case strings.HasPrefix(pattern, "!"):
		r.negation = true
		pattern = pattern[1:]
	}

	if escapedTrailingSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + compilePattern(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from a gitignore file, scoping them to base.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	s := bufio.NewScanner(f)
	for s.Scan() {
		m.AddPatternWithBase(s.Text(), base)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read gitignore: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path (slash-separated, relative to the root the
// patterns were loaded for) should be ignored. Later rules win, so a
// negation can re-include a file an earlier rule excluded.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negation
		}
	}
	return ignored
}

func (r rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		if path == r.base {
			path = filepath.Base(path)
		} else if strings.HasPrefix(path, r.base+"/") {
			path = strings.TrimPrefix(path, r.base+"/")
		} else {
			return false
		}
	}

	parts := strings.Split(path, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		// A dir-only anchored pattern also covers everything inside the
		// matched directory.
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		// "temp/" matches a temp directory anywhere, and files inside it.
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.regex.MatchString(basename) || r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// compilePattern translates gitignore wildcards to a regex body.
func compilePattern(pattern string) string {
	var b strings.Builder

	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// "**/" crosses any number of directories.
					b.WriteString("(?:.*/)?")
					i += 3
					continue
				}
				if i == 0 || pattern[i-1] == '/' {
					b.WriteString(".*")
					i += 2
					continue
				}
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				b.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String()
}
