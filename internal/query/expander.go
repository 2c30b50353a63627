package query

import (
	"strings"
	"unicode"
)

// defaultMaxExpansions caps the synonyms added per query term.
const defaultMaxExpansions = 3

// synonymGroups bridges user vocabulary to code vocabulary. Keys are
// lowercase; values are ordered most useful first because expansion is
// capped.
var synonymGroups = map[string][]string{
	// functions and types
	"function":  {"func", "method", "def", "fn"},
	"method":    {"func", "function", "def"},
	"func":      {"function", "method", "def"},
	"lambda":    {"closure", "anonymous", "arrow"},
	"class":     {"type", "struct", "interface"},
	"type":      {"class", "struct", "interface"},
	"struct":    {"type", "class", "structure"},
	"interface": {"protocol", "trait", "contract"},
	"object":    {"instance", "struct", "obj"},
	"enum":      {"constant", "iota", "variant"},

	// errors
	"error":     {"err", "exception", "failure"},
	"exception": {"error", "panic", "err"},
	"handle":    {"handler", "catch", "process"},
	"handler":   {"handle", "callback", "middleware"},
	"retry":     {"backoff", "attempt", "reattempt"},
	"panic":     {"fatal", "crash", "abort"},
	"recover":   {"rescue", "catch", "handle"},
	"validate":  {"validation", "check", "verify"},

	// http and networking
	"request":    {"req", "http", "call"},
	"response":   {"resp", "reply", "result"},
	"http":       {"request", "response", "web"},
	"api":        {"endpoint", "handler", "route"},
	"endpoint":   {"route", "handler", "api"},
	"route":      {"endpoint", "router", "path"},
	"server":     {"serve", "listener", "daemon"},
	"client":     {"connection", "conn", "caller"},
	"websocket":  {"socket", "ws", "stream"},
	"grpc":       {"rpc", "protobuf", "proto"},
	"middleware": {"interceptor", "handler", "filter"},

	// auth
	"authentication": {"auth", "login", "credential"},
	"authorization":  {"auth", "permission", "role"},
	"auth":           {"authentication", "login", "token"},
	"login":          {"auth", "signin", "authenticate"},
	"token":          {"jwt", "bearer", "credential"},
	"session":        {"cookie", "token", "state"},
	"password":       {"credential", "hash", "secret"},

	// data and storage
	"database":    {"db", "store", "storage"},
	"store":       {"storage", "repository", "db"},
	"repository":  {"repo", "store", "dao"},
	"query":       {"search", "find", "select"},
	"insert":      {"create", "add", "save"},
	"update":      {"modify", "edit", "change"},
	"delete":      {"remove", "drop", "destroy"},
	"migration":   {"schema", "migrate", "ddl"},
	"transaction": {"tx", "commit", "rollback"},
	"cache":       {"lru", "memoize", "store"},
	"model":       {"schema", "entity", "struct"},
	"serialize":   {"marshal", "encode", "json"},
	"deserialize": {"unmarshal", "decode", "parse"},

	// configuration and context
	"context":       {"ctx", "deadline", "cancel"},
	"config":        {"cfg", "configuration", "settings"},
	"configuration": {"config", "settings", "options"},
	"options":       {"opts", "config", "settings"},
	"environment":   {"env", "config", "variable"},
	"flag":          {"option", "argument", "cli"},

	// common actions
	"create":     {"new", "make", "init"},
	"initialize": {"init", "setup", "new"},
	"fetch":      {"get", "retrieve", "load"},
	"read":       {"load", "get", "fetch"},
	"write":      {"save", "store", "persist"},
	"save":       {"write", "persist", "store"},
	"close":      {"shutdown", "stop", "cleanup"},
	"start":      {"run", "begin", "launch"},
	"stop":       {"halt", "close", "shutdown"},
	"parse":      {"parser", "decode", "read"},
	"send":       {"publish", "emit", "dispatch"},
	"receive":    {"consume", "subscribe", "listen"},

	// testing
	"test":      {"testing", "spec", "verify"},
	"mock":      {"fake", "stub", "spy"},
	"assert":    {"expect", "require", "check"},
	"benchmark": {"bench", "perf", "profiling"},
	"fixture":   {"testdata", "seed", "setup"},

	// concurrency
	"concurrent": {"parallel", "goroutine", "async"},
	"goroutine":  {"concurrent", "async", "worker"},
	"channel":    {"chan", "queue", "pipe"},
	"mutex":      {"lock", "sync", "semaphore"},
	"lock":       {"mutex", "sync", "flock"},
	"worker":     {"pool", "goroutine", "job"},
	"queue":      {"channel", "buffer", "fifo"},

	// files and io
	"file":      {"path", "filesystem", "io"},
	"directory": {"dir", "folder", "path"},
	"stream":    {"reader", "writer", "io"},
	"watch":     {"watcher", "monitor", "notify"},

	// logging
	"log":     {"logger", "logging", "slog"},
	"metrics": {"telemetry", "stats", "counter"},
	"trace":   {"tracing", "span", "debug"},

	// search domain
	"search":     {"find", "query", "lookup"},
	"index":      {"indexer", "indexing", "catalog"},
	"embedding":  {"vector", "embed", "embedder"},
	"vector":     {"embedding", "semantic", "dense"},
	"chunk":      {"segment", "block", "span"},
	"rank":       {"score", "boost", "order"},
	"similarity": {"cosine", "distance", "semantic"},

	// natural language bridges
	"implementation": {"impl", "implement", "code"},
	"definition":     {"declare", "defined", "type"},
	"usage":          {"use", "caller", "reference"},
	"example":        {"sample", "demo", "usage"},
	"parameter":      {"param", "arg", "argument"},
	"return":         {"result", "output", "response"},
	"dependency":     {"import", "require", "module"},
}

// acronyms expand well-known abbreviations both ways.
var acronyms = map[string][]string{
	"db":    {"database"},
	"cfg":   {"config"},
	"ctx":   {"context"},
	"req":   {"request"},
	"resp":  {"response"},
	"auth":  {"authentication", "authorization"},
	"jwt":   {"token", "json web token"},
	"api":   {"application programming interface"},
	"http":  {"hypertext transfer protocol"},
	"url":   {"uri", "link"},
	"uri":   {"url"},
	"sql":   {"query", "database"},
	"orm":   {"object relational mapping"},
	"crud":  {"create read update delete"},
	"rpc":   {"remote procedure call"},
	"cli":   {"command line interface"},
	"ui":    {"user interface"},
	"io":    {"input output"},
	"fs":    {"filesystem"},
	"env":   {"environment"},
	"tls":   {"ssl", "certificate"},
	"ssl":   {"tls", "certificate"},
	"dns":   {"domain name"},
	"tcp":   {"transmission control protocol"},
	"udp":   {"user datagram protocol"},
	"json":  {"serialization", "marshal"},
	"yaml":  {"configuration", "config"},
	"xml":   {"markup"},
	"csv":   {"comma separated"},
	"uuid":  {"identifier", "guid"},
	"ast":   {"abstract syntax tree"},
	"regex": {"regular expression", "pattern"},
	"mq":    {"message queue"},
	"ci":    {"continuous integration"},
	"cd":    {"continuous deployment"},
	"k8s":   {"kubernetes"},
	"repo":  {"repository"},
	"impl":  {"implementation"},
	"init":  {"initialize"},
	"btree": {"index", "tree"},
}

// Expander widens a query with synonyms, acronym expansions, and casing
// variants while keeping the original terms first.
type Expander struct {
	synonyms       map[string][]string
	acronyms       map[string][]string
	maxExpansions  int
	casingVariants bool
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithMaxExpansions caps the synonyms added per term.
func WithMaxExpansions(n int) ExpanderOption {
	return func(e *Expander) { e.maxExpansions = n }
}

// WithCasingVariants toggles casing variant generation.
func WithCasingVariants(enabled bool) ExpanderOption {
	return func(e *Expander) { e.casingVariants = enabled }
}

// NewExpander returns an expander with the built-in tables.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{
		synonyms:       synonymGroups,
		acronyms:       acronyms,
		maxExpansions:  defaultMaxExpansions,
		casingVariants: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the query text widened for retrieval. Original terms
// come first so exact matches keep their weight.
func (e *Expander) Expand(query string) string {
	return strings.Join(e.ExpandTerms(query), " ")
}

// ExpandTerms returns the expanded term list.
func (e *Expander) ExpandTerms(query string) []string {
	terms := splitQueryTerms(query)
	if len(terms) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(term string) bool {
		lower := strings.ToLower(term)
		if lower == "" || seen[lower] {
			return false
		}
		seen[lower] = true
		out = append(out, term)
		return true
	}

	for _, term := range terms {
		add(term)
	}
	for _, term := range terms {
		lower := strings.ToLower(term)
		added := 0
		for _, syn := range e.synonyms[lower] {
			if added >= e.maxExpansions {
				break
			}
			if add(syn) {
				added++
			}
		}
		for _, exp := range e.acronyms[lower] {
			if added >= e.maxExpansions {
				break
			}
			if add(exp) {
				added++
			}
		}
	}
	if e.casingVariants {
		for _, term := range terms {
			for _, v := range casingVariants(term) {
				add(v)
			}
		}
	}
	return out
}

// splitQueryTerms tokenizes on non-identifier runes, then splits
// camelCase and snake_case.
func splitQueryTerms(query string) []string {
	var raw []string
	var current strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			raw = append(raw, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		raw = append(raw, current.String())
	}

	var terms []string
	for _, token := range raw {
		terms = append(terms, splitIdentParts(token)...)
	}
	return terms
}

func splitIdentParts(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}
	var parts []string
	var current strings.Builder
	for i, r := range token {
		if i > 0 && unicode.IsUpper(r) && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// casingVariants generates Go-style variants: Title for all terms, and
// upper case for short terms that are likely abbreviations.
func casingVariants(term string) []string {
	if term == "" {
		return nil
	}
	var variants []string
	lower := strings.ToLower(term)
	if term != lower {
		variants = append(variants, lower)
	}
	title := strings.ToUpper(lower[:1]) + lower[1:]
	if term != title {
		variants = append(variants, title)
	}
	if len(term) <= 4 {
		upper := strings.ToUpper(term)
		if term != upper {
			variants = append(variants, upper)
		}
	}
	return variants
}
