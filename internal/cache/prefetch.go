package cache

import (
	"context"
	"sort"
	"sync"
)

// maxSuccessors bounds the transition fan-out kept per fingerprint.
const maxSuccessors = 32

// Prefetcher learns per-user query transitions as a first-order Markov
// chain and warms the most likely successors of each observed query
// into L1 ahead of the next request.
type Prefetcher struct {
	cache  *Cache
	topK   int
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// last holds each user's most recent fingerprint.
	last map[string]string
	// transitions counts observed fingerprint successions across users.
	transitions map[string]map[string]int
}

// NewPrefetcher builds a prefetcher warming at most topK successors per
// query, with at most budget warms in flight.
func NewPrefetcher(c *Cache, topK, budget int) *Prefetcher {
	if topK <= 0 {
		topK = 2
	}
	if budget <= 0 {
		budget = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		cache:       c,
		topK:        topK,
		sem:         make(chan struct{}, budget),
		ctx:         ctx,
		cancel:      cancel,
		last:        make(map[string]string),
		transitions: make(map[string]map[string]int),
	}
}

// Record observes one query in a user's sequence, updates the chain,
// and kicks off background warming for the predicted next queries.
func (p *Prefetcher) Record(userID, fingerprint string) {
	p.mu.Lock()
	if prev, ok := p.last[userID]; ok && prev != fingerprint {
		succ := p.transitions[prev]
		if succ == nil {
			succ = make(map[string]int)
			p.transitions[prev] = succ
		}
		succ[fingerprint]++
		if len(succ) > maxSuccessors {
			evictColdSuccessor(succ)
		}
	}
	p.last[userID] = fingerprint
	predicted := p.successorsLocked(fingerprint)
	p.mu.Unlock()

	for _, fp := range predicted {
		p.warmAsync(fp)
	}
}

// Stop cancels in-flight warms and waits for them to finish.
func (p *Prefetcher) Stop() {
	p.cancel()
	p.wg.Wait()
}

// successorsLocked returns the topK most frequent successors.
func (p *Prefetcher) successorsLocked(fingerprint string) []string {
	succ := p.transitions[fingerprint]
	if len(succ) == 0 {
		return nil
	}
	fps := make([]string, 0, len(succ))
	for fp := range succ {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool {
		if succ[fps[i]] != succ[fps[j]] {
			return succ[fps[i]] > succ[fps[j]]
		}
		return fps[i] < fps[j]
	})
	if len(fps) > p.topK {
		fps = fps[:p.topK]
	}
	return fps
}

// warmAsync pulls one fingerprint into L1 without blocking the caller.
// When the budget is exhausted the prediction is dropped.
func (p *Prefetcher) warmAsync(fingerprint string) {
	select {
	case p.sem <- struct{}{}:
	default:
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		if p.ctx.Err() != nil {
			return
		}
		p.cache.warm(p.ctx, fingerprint)
	}()
}

func evictColdSuccessor(succ map[string]int) {
	coldest := ""
	min := 0
	for fp, n := range succ {
		if coldest == "" || n < min || (n == min && fp < coldest) {
			coldest, min = fp, n
		}
	}
	delete(succ, coldest)
}
