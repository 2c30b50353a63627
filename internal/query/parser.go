// Package query turns natural language into ranked search results:
// parse intent and entities, expand vocabulary, embed, retrieve with
// headroom, rank with user context, and cache the outcome.
package query

import (
	"strings"
	"unicode"

	"github.com/latticemcp/lattice/internal/errors"
)

// Intent is the rough action a query asks for.
type Intent string

const (
	IntentFind      Intent = "find"
	IntentList      Intent = "list"
	IntentShow      Intent = "show"
	IntentExplain   Intent = "explain"
	IntentCompare   Intent = "compare"
	IntentRecommend Intent = "recommend"
	IntentUnknown   Intent = "unknown"
)

// intentVerbs maps leading verbs to intents.
var intentVerbs = map[string]Intent{
	"find":      IntentFind,
	"locate":    IntentFind,
	"search":    IntentFind,
	"where":     IntentFind,
	"list":      IntentList,
	"enumerate": IntentList,
	"show":      IntentShow,
	"display":   IntentShow,
	"explain":   IntentExplain,
	"describe":  IntentExplain,
	"how":       IntentExplain,
	"why":       IntentExplain,
	"compare":   IntentCompare,
	"diff":      IntentCompare,
	"recommend": IntentRecommend,
	"suggest":   IntentRecommend,
}

// queryStopwords are filler words excluded from concepts.
var queryStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "in": {}, "on": {}, "of": {}, "to": {},
	"for": {}, "with": {}, "and": {}, "or": {}, "is": {}, "are": {},
	"do": {}, "does": {}, "done": {}, "me": {}, "my": {}, "all": {},
	"that": {}, "this": {}, "which": {}, "what": {}, "it": {}, "its": {},
	"we": {}, "i": {}, "you": {}, "get": {}, "use": {}, "used": {}, "using": {},
}

// knownExtensions identify file-like tokens.
var knownExtensions = map[string]struct{}{
	"go": {}, "py": {}, "js": {}, "jsx": {}, "ts": {}, "tsx": {}, "rb": {},
	"rs": {}, "java": {}, "kt": {}, "c": {}, "h": {}, "cc": {}, "cpp": {},
	"hpp": {}, "cs": {}, "php": {}, "swift": {}, "scala": {}, "sql": {},
	"sh": {}, "yaml": {}, "yml": {}, "json": {}, "toml": {}, "md": {},
	"proto": {}, "html": {}, "css": {}, "scss": {}, "vue": {}, "svelte": {},
}

// Parsed is the structured reading of a query.
type Parsed struct {
	Intent     Intent
	Files      []string
	Symbols    []string
	Concepts   []string
	Confidence float64
}

// Parse analyzes a query. A blank query is a validation error.
func Parse(query string) (Parsed, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Parsed{}, errors.InvalidParams("query must not be empty")
	}

	tokens := strings.Fields(trimmed)
	p := Parsed{Intent: IntentUnknown}

	if intent, ok := intentVerbs[strings.ToLower(tokens[0])]; ok {
		p.Intent = intent
		tokens = tokens[1:]
	}

	for _, raw := range tokens {
		token := strings.Trim(raw, ".,;:!?\"'`")
		if token == "" {
			continue
		}
		switch {
		case isFileToken(token):
			p.Files = append(p.Files, token)
		case isSymbolToken(token):
			p.Symbols = append(p.Symbols, strings.TrimSuffix(token, "()"))
		default:
			lower := strings.ToLower(token)
			if _, stop := queryStopwords[lower]; !stop {
				p.Concepts = append(p.Concepts, lower)
			}
		}
	}

	p.Confidence = confidence(p)
	return p, nil
}

// isFileToken recognizes names with a known extension or glob syntax.
func isFileToken(token string) bool {
	if strings.ContainsAny(token, "*?[") {
		return true
	}
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return false
	}
	_, ok := knownExtensions[strings.ToLower(token[dot+1:])]
	return ok
}

// isSymbolToken recognizes identifier shapes: CamelCase, snake_case and
// call syntax.
func isSymbolToken(token string) bool {
	if strings.HasSuffix(token, "()") {
		return true
	}
	if strings.Contains(token, "_") && !strings.HasPrefix(token, "_") {
		return true
	}
	// Mixed case after the first rune signals an identifier, not a word.
	runes := []rune(token)
	hasUpper := false
	hasLower := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		if i > 0 && unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsLower(r) {
			hasLower = true
		}
	}
	return hasUpper && hasLower
}

// confidence grows with entity yield: a query naming files or symbols
// is easier to satisfy than bare concepts.
func confidence(p Parsed) float64 {
	score := 0.3
	if p.Intent != IntentUnknown {
		score += 0.2
	}
	if len(p.Files) > 0 || len(p.Symbols) > 0 {
		score += 0.3
	}
	if len(p.Concepts) > 0 {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Terms returns the tokens the ranker matches against file and symbol
// names: concepts plus entity names.
func (p Parsed) Terms() []string {
	terms := make([]string, 0, len(p.Concepts)+len(p.Symbols)+len(p.Files))
	terms = append(terms, p.Concepts...)
	terms = append(terms, p.Symbols...)
	terms = append(terms, p.Files...)
	return terms
}
