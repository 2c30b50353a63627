// Package gitignore implements gitignore-style pattern matching.
//
// The scanner uses it twice: for real .gitignore files found while
// walking a project, and for the exclude globs in workspace and project
// configuration, which share the same syntax.
//
// Supported syntax follows https://git-scm.com/docs/gitignore:
// wildcards (*, ?, **), character classes, rooted patterns (/build),
// directory-only patterns (build/), and negations (!keep.log) with
// last-match-wins semantics. Patterns from nested gitignore files are
// scoped to their directory via AddPatternWithBase.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	if m.Match("error.log", false) {
//		// ignored
//	}
package gitignore
