package keyword

import (
	"regexp"
	"strings"
	"unicode"
)

// identRegex matches identifier-like runs before code-aware splitting.
var identRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// stopWords are language keywords and filler identifiers too common to
// discriminate between chunks.
var stopWords = buildStopSet([]string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
})

// Tokenize splits text with code-aware rules: camelCase, PascalCase and
// snake_case identifiers break into their parts, everything lowercases,
// and tokens shorter than two characters drop out.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range identRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamel(part)...)
			}
		}
		return result
	}
	return splitCamel(token)
}

// splitCamel breaks camelCase and PascalCase, keeping acronym runs
// together: "parseHTTPRequest" yields ["parse", "HTTP", "Request"].
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func buildStopSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
