package graph

import (
	"fmt"
	"sort"
)

// Reachable returns the ids transitively reachable from id over outgoing
// edges of any type within depth hops (0 = unlimited), sorted, excluding
// id itself. Results come from an LRU keyed (id, depth); any graph
// mutation conservatively flushes the cache.
func (g *Graph) Reachable(id string, depth int) []string {
	key := fmt.Sprintf("%s:%d", id, depth)
	if cached, ok := g.reach.Get(key); ok {
		return append([]string{}, cached...)
	}

	g.mu.RLock()
	limit := depth
	if limit <= 0 {
		limit = len(g.nodes)
	}
	visited := map[string]int{id: 0}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] >= limit {
			continue
		}
		for _, e := range g.out[cur] {
			if _, seen := visited[e.To]; seen {
				continue
			}
			visited[e.To] = visited[cur] + 1
			out = append(out, e.To)
			queue = append(queue, e.To)
		}
	}
	g.mu.RUnlock()

	sort.Strings(out)
	g.reach.Add(key, append([]string{}, out...))
	return out
}

// SetSimilarity records the cosine similarity of two projects' aggregate
// embedding centroids. The pair is unordered.
func (g *Graph) SetSimilarity(a, b string, score float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sim[pairKey(a, b)] = score
}

// Similarity returns the cached similarity for an unordered pair.
func (g *Graph) Similarity(a, b string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	score, ok := g.sim[pairKey(a, b)]
	return score, ok
}

// InvalidateProject drops cached similarities touching id and flushes the
// reachability cache. Called when a project re-indexes (its centroid
// moved) or when its edges change.
func (g *Graph) InvalidateProject(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.sim {
		if keyTouches(key, id) {
			delete(g.sim, key)
		}
	}
	g.reach.Purge()
}

// invalidateLocked flushes the reachability cache. Similarities survive
// edge changes (they derive from content, not topology). Caller holds the
// write lock.
func (g *Graph) invalidateLocked() {
	g.reach.Purge()
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func keyTouches(key, id string) bool {
	n := len(id)
	if len(key) > n && key[:n] == id && key[n] == '\x00' {
		return true
	}
	if len(key) > n && key[len(key)-n:] == id && key[len(key)-n-1] == '\x00' {
		return true
	}
	return false
}
