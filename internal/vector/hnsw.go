package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"github.com/latticemcp/lattice/internal/errors"
)

// HNSWStore is the embedded backend: one coder/hnsw graph per
// collection plus a payload map, persisted with gob under the data
// directory. Deletes are lazy because removing nodes from the graph is
// unreliable; orphaned keys simply stop resolving to ids.
type HNSWStore struct {
	mu          sync.Mutex
	dataDir     string
	collections map[string]*hnswCollection
	closed      bool
}

type hnswCollection struct {
	mu      sync.RWMutex
	name    string
	dim     int
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	payload map[string]Payload
	nextKey uint64
}

// hnswMeta is the gob-persisted sidecar next to the graph file.
type hnswMeta struct {
	Dim     int
	IDMap   map[string]uint64
	NextKey uint64
	Payload map[string]Payload
}

var _ Store = (*HNSWStore)(nil)

// NewHNSWStore opens the embedded store rooted at dataDir, loading any
// collections persisted by a previous run.
func NewHNSWStore(dataDir string) (*HNSWStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector data dir: %w", err)
	}
	s := &HNSWStore{
		dataDir:     dataDir,
		collections: make(map[string]*hnswCollection),
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("read vector data dir: %w", err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".hnsw")
		if !ok {
			continue
		}
		coll, err := s.loadCollection(name)
		if err != nil {
			return nil, fmt.Errorf("load collection %q: %w", name, err)
		}
		s.collections[name] = coll
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// CreateCollection implements Store. Creating an existing collection
// with the same dimension is a no-op; a different dimension is an error.
func (s *HNSWStore) CreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if coll, ok := s.collections[name]; ok {
		if coll.dim != dim {
			return errors.DimensionMismatch(name, coll.dim, dim)
		}
		return nil
	}
	s.collections[name] = &hnswCollection{
		name:    name,
		dim:     dim,
		graph:   newGraph(),
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		payload: make(map[string]Payload),
	}
	return nil
}

// DeleteCollection implements Store.
func (s *HNSWStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(s.collections, name)
	_ = os.Remove(s.graphPath(name))
	_ = os.Remove(s.metaPath(name))
	return nil
}

// CollectionExists implements Store.
func (s *HNSWStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

// CollectionDimensions implements Store.
func (s *HNSWStore) CollectionDimensions(_ context.Context, name string) (int, error) {
	coll, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	return coll.dim, nil
}

// Upsert implements Store. Existing ids are replaced via lazy deletion
// and the collection is persisted after the batch.
func (s *HNSWStore) Upsert(_ context.Context, name string, entries []Entry) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	coll.mu.Lock()
	defer coll.mu.Unlock()

	for _, entry := range entries {
		if len(entry.Vector) != coll.dim {
			return errors.DimensionMismatch(name, coll.dim, len(entry.Vector))
		}
	}
	for _, entry := range entries {
		if oldKey, exists := coll.idMap[entry.ID]; exists {
			delete(coll.keyMap, oldKey)
		}
		key := coll.nextKey
		coll.nextKey++

		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		normalizeInPlace(vec)

		coll.graph.Add(hnsw.MakeNode(key, vec))
		coll.idMap[entry.ID] = key
		coll.keyMap[key] = entry.ID
		coll.payload[entry.ID] = entry.Payload
	}
	return s.saveCollection(coll)
}

// Delete implements Store. Unknown ids are ignored.
func (s *HNSWStore) Delete(_ context.Context, name string, ids []string) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	coll.mu.Lock()
	defer coll.mu.Unlock()
	changed := false
	for _, id := range ids {
		if key, exists := coll.idMap[id]; exists {
			delete(coll.keyMap, key)
			delete(coll.idMap, id)
			delete(coll.payload, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveCollection(coll)
}

// Search implements Store. When a filter is set the graph is
// oversampled so post-filtering still yields k hits where possible.
func (s *HNSWStore) Search(_ context.Context, name string, vector []float32, k int, filter *Filter) ([]Scored, error) {
	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	coll.mu.RLock()
	defer coll.mu.RUnlock()

	if len(vector) != coll.dim {
		return nil, errors.DimensionMismatch(name, coll.dim, len(vector))
	}
	if coll.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	fetch := k
	if filter != nil {
		fetch = k * 4
	}
	// Lazy deletion leaves orphans in the graph; fetch extra to cover.
	fetch += coll.graph.Len() - len(coll.idMap)

	nodes := coll.graph.Search(query, fetch)
	results := make([]Scored, 0, k)
	for _, node := range nodes {
		id, live := coll.keyMap[node.Key]
		if !live {
			continue
		}
		p := coll.payload[id]
		if !filter.Matches(p) {
			continue
		}
		distance := coll.graph.Distance(query, node.Value)
		results = append(results, Scored{
			Entry: Entry{ID: id, Payload: p},
			Score: 1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Count implements Store.
func (s *HNSWStore) Count(_ context.Context, name string) (int, error) {
	coll, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	coll.mu.RLock()
	defer coll.mu.RUnlock()
	return len(coll.idMap), nil
}

// IDs returns the live ids in a collection, sorted. The consistency
// checker uses it to reconcile against the relational state.
func (s *HNSWStore) IDs(name string) ([]string, error) {
	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	coll.mu.RLock()
	defer coll.mu.RUnlock()
	ids := make([]string, 0, len(coll.idMap))
	for id := range coll.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.collections = nil
	return nil
}

func (s *HNSWStore) collection(name string) (*hnswCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, nil
}

func (s *HNSWStore) graphPath(name string) string {
	return filepath.Join(s.dataDir, name+".hnsw")
}

func (s *HNSWStore) metaPath(name string) string {
	return filepath.Join(s.dataDir, name+".hnsw.meta")
}

// saveCollection persists the graph and metadata atomically
// (tmp + rename). Caller holds the collection lock.
func (s *HNSWStore) saveCollection(coll *hnswCollection) error {
	if err := atomicWrite(s.graphPath(coll.name), func(f *os.File) error {
		return coll.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("save graph %q: %w", coll.name, err)
	}
	meta := hnswMeta{
		Dim:     coll.dim,
		IDMap:   coll.idMap,
		NextKey: coll.nextKey,
		Payload: coll.payload,
	}
	if err := atomicWrite(s.metaPath(coll.name), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("save metadata %q: %w", coll.name, err)
	}
	return nil
}

func (s *HNSWStore) loadCollection(name string) (*hnswCollection, error) {
	metaFile, err := os.Open(s.metaPath(name))
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	graphFile, err := os.Open(s.graphPath(name))
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer func() { _ = graphFile.Close() }()

	graph := newGraph()
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}

	coll := &hnswCollection{
		name:    name,
		dim:     meta.Dim,
		graph:   graph,
		idMap:   meta.IDMap,
		keyMap:  make(map[uint64]string, len(meta.IDMap)),
		payload: meta.Payload,
		nextKey: meta.NextKey,
	}
	if coll.payload == nil {
		coll.payload = make(map[string]Payload)
	}
	for id, key := range coll.idMap {
		coll.keyMap[key] = id
	}
	return coll, nil
}

func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
