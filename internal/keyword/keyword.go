// Package keyword provides the per-project BM25 index backing the
// keyword and hybrid search templates. Bleve does the scoring; a custom
// analyzer tokenizes identifiers code-aware so "getUserById" matches
// "user" and "HTTPServer" matches "http server".
package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeStopName      = "code_stop"
	codeAnalyzerName  = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return &codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(codeStopName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return &codeStopFilter{}, nil
	})
}

// Document is one indexable chunk. ID is the chunk id shared with the
// vector store, so pruning deleted files hits both with the same ids.
type Document struct {
	ID      string `json:"-"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Result is a keyword hit. Score is max-normalized to [0, 1] within the
// result set.
type Result struct {
	ID           string
	Path         string
	Score        float64
	MatchedTerms []string
}

// Index is a per-project bleve index. An empty path keeps the index in
// memory.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Open opens or creates the index at path.
func Open(path string) (*Index, error) {
	m, err := indexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index dir: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		} else if err != nil && isCorrupt(err) {
			// A torn index cannot be repaired in place. Rebuild from a
			// clean slate; the next full index pass repopulates it.
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("clear corrupt keyword index: %w", rmErr)
			}
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	return &Index{index: idx, path: path}, nil
}

func indexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("register code analyzer: %w", err)
	}
	m.DefaultAnalyzer = codeAnalyzerName
	return m, nil
}

func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// Index adds or replaces documents in one batch.
func (i *Index) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := i.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("execute keyword batch: %w", err)
	}
	return nil
}

// Search returns up to k hits for query, best first. Scores are divided
// by the top hit's raw BM25 score so callers can fuse them with the
// semantic list.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("content")
	req := bleve.NewSearchRequest(match)
	req.Size = k
	req.IncludeLocations = true
	req.Fields = []string{"path"}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	var top float64
	if len(res.Hits) > 0 {
		top = res.Hits[0].Score
	}
	for _, hit := range res.Hits {
		score := hit.Score
		if top > 0 {
			score /= top
		}
		path, _ := hit.Fields["path"].(string)
		results = append(results, Result{
			ID:           hit.ID,
			Path:         path,
			Score:        score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents by id. Unknown ids are ignored.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := i.index.NewBatch()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch.Delete(id)
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("delete keyword documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	n, err := i.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("keyword doc count: %w", err)
	}
	return int(n), nil
}

// IDs returns every document id, for reconciling against the vector
// collection and the relational state.
func (i *Index) IDs() ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	n, _ := i.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(n)
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list keyword ids: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for j, hit := range res.Hits {
		ids[j] = hit.ID
	}
	return ids, nil
}

// Close closes the index. Bleve persists on write, so there is nothing
// to flush.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

// codeTokenizer adapts Tokenize to bleve's analysis chain.
type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// codeStopFilter drops language keywords and filler identifiers.
type codeStopFilter struct{}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := stopWords[strings.ToLower(string(token.Term))]; !stop {
			out = append(out, token)
		}
	}
	return out
}
