package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/workspace"
)

// Fingerprint derives the canonical cache key for a search. Two
// requests share a key only when every ranker-relevant input matches:
// the normalized query, the scope and target, k, and the slice of user
// context the ranker reads.
func Fingerprint(queryText string, scope workspace.Scope, projectID string, k int, uc *session.UserContext) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write(normalizeQuery(queryText), string(scope), projectID, strconv.Itoa(k))

	if uc != nil {
		write(uc.CurrentFile, uc.CurrentProject)
		recent := make([]string, 0, len(uc.RecentFiles))
		for _, f := range uc.RecentFiles {
			recent = append(recent, f.Path)
		}
		sort.Strings(recent)
		write(recent...)
		write(uc.FrequentPaths(10)...)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// normalizeQuery lowercases and collapses whitespace so cosmetic
// differences share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
