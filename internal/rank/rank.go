// Package rank orders search results by combining the retrieval score
// with context boosts: what the user has open, what they and their team
// touch often, how projects relate, and how fresh the code is. Given
// the same inputs and clock the ordering is deterministic.
package rank

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/latticemcp/lattice/internal/graph"
	"github.com/latticemcp/lattice/internal/session"
)

// Boost contributions. Each factor fires at most once per result; the
// final score is base × (1 + sum of fired factors).
const (
	BoostCurrentFile   = 2.0
	BoostRecentFiles   = 1.5
	BoostFrequentFiles = 1.3
	BoostTeamPatterns  = 1.2
	BoostRelationship  = 1.5 // scaled by edge weight
	BoostRecencyMax    = 0.5
	BoostExactMatch    = 0.8
)

const (
	recentWindow  = 60 * time.Minute
	recencyWindow = 30 * 24 * time.Hour
	frequentTopN  = 10
)

// Item is one candidate result entering the ranker.
type Item struct {
	ID         string
	ProjectID  string
	Path       string
	SymbolName string
	ModTime    time.Time
	BaseScore  float64

	FinalScore float64
	Boosts     BoostBreakdown
}

// BoostBreakdown records which factors fired and by how much, so a
// result can explain its position.
type BoostBreakdown map[string]float64

// Total sums the recorded boosts.
func (b BoostBreakdown) Total() float64 {
	var total float64
	for _, v := range b {
		total += v
	}
	return total
}

// Ranker applies context boosts. The zero graph and nil context degrade
// gracefully: factors that cannot be evaluated contribute nothing.
type Ranker struct {
	graph *graph.Graph
	clock func() time.Time
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Ranker) { r.clock = clock }
}

// New returns a ranker over the given project graph. The graph may be
// nil; relationship boosts then never fire.
func New(g *graph.Graph, opts ...Option) *Ranker {
	r := &Ranker{graph: g, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank scores and orders items in place, best first, then truncates to
// k (k <= 0 keeps everything). Ties fall back to higher base score,
// then chunk id.
func (r *Ranker) Rank(items []Item, uc *session.UserContext, team map[string]int, queryTerms []string, k int) []Item {
	now := r.clock()

	var (
		recentSet   map[string]struct{}
		frequentSet map[string]struct{}
		neighbours  map[string]float64
	)
	if uc != nil {
		recentSet = toSet(uc.RecentWithin(now, recentWindow))
		frequentSet = toSet(uc.FrequentPaths(frequentTopN))
		if r.graph != nil && uc.CurrentProject != "" {
			neighbours = r.graph.Neighbours(uc.CurrentProject)
		}
	}

	terms := normalizeTerms(queryTerms)

	for i := range items {
		item := &items[i]
		item.Boosts = make(BoostBreakdown)

		if uc != nil {
			if item.Path != "" && item.Path == uc.CurrentFile {
				item.Boosts["current_file"] = BoostCurrentFile
			} else if uc.CurrentProject != "" && item.ProjectID == uc.CurrentProject {
				item.Boosts["current_file"] = BoostCurrentFile
			}
			if _, ok := recentSet[item.Path]; ok {
				item.Boosts["recent_files"] = BoostRecentFiles
			}
			if _, ok := frequentSet[item.Path]; ok {
				item.Boosts["frequent_files"] = BoostFrequentFiles
			}
		}
		if _, ok := team[item.Path]; ok {
			item.Boosts["team_patterns"] = BoostTeamPatterns
		}
		if weight, ok := neighbours[item.ProjectID]; ok && weight > 0 {
			item.Boosts["relationship"] = BoostRelationship * weight
		}
		if boost := recencyBoost(now, item.ModTime); boost > 0 {
			item.Boosts["recency"] = boost
		}
		if exactMatch(item, terms) {
			item.Boosts["exact_match"] = BoostExactMatch
		}

		item.FinalScore = item.BaseScore * (1 + item.Boosts.Total())
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FinalScore != items[j].FinalScore {
			return items[i].FinalScore > items[j].FinalScore
		}
		if items[i].BaseScore != items[j].BaseScore {
			return items[i].BaseScore > items[j].BaseScore
		}
		return items[i].ID < items[j].ID
	})

	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

// recencyBoost decays linearly from BoostRecencyMax at mtime == now to
// zero at thirty days.
func recencyBoost(now, mtime time.Time) float64 {
	if mtime.IsZero() {
		return 0
	}
	age := now.Sub(mtime)
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return BoostRecencyMax * (1 - float64(age)/float64(recencyWindow))
}

// exactMatch reports whether any query term appears verbatim in the
// file name or symbol name, case-insensitive.
func exactMatch(item *Item, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	name := strings.ToLower(path.Base(item.Path))
	symbol := strings.ToLower(item.SymbolName)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(name, term) || (symbol != "" && strings.Contains(symbol, term)) {
			return true
		}
	}
	return false
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
