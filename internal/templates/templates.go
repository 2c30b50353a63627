// Package templates holds named, parameterized search recipes. A
// template expands into a query string plus a backend selection, so
// common investigations (find the endpoints, find the auth code) run
// without the user composing search vocabulary.
package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/latticemcp/lattice/internal/errors"
)

// Backend selects how a built template query executes.
type Backend string

const (
	BackendSemantic   Backend = "semantic"
	BackendKeyword    Backend = "keyword"
	BackendStructural Backend = "structural"
	BackendHybrid     Backend = "hybrid"
)

// ValidBackend reports whether b is a known backend.
func ValidBackend(b Backend) bool {
	switch b {
	case BackendSemantic, BackendKeyword, BackendStructural, BackendHybrid:
		return true
	}
	return false
}

var (
	templateNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	placeholderRe  = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)
)

// Template is one search recipe. Query may carry {param} placeholders;
// Build substitutes provided values and strips the rest.
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Backend     Backend  `json:"backend"`
	Query       string   `json:"query"`
	Params      []string `json:"params,omitempty"`
	// Keywords drive suggestion matching beyond the name itself.
	Keywords []string `json:"keywords,omitempty"`

	builtin bool
}

// Builtin reports whether the template ships with the engine.
func (t Template) Builtin() bool { return t.builtin }

// Validate checks shape: name charset, known backend, and that every
// placeholder in Query is declared in Params.
func (t Template) Validate() error {
	if !templateNameRe.MatchString(t.Name) {
		return errors.InvalidParams("template name %q must be letters, digits or underscore", t.Name)
	}
	if t.Description == "" {
		return errors.InvalidParams("template %q needs a description", t.Name)
	}
	if !ValidBackend(t.Backend) {
		return errors.InvalidParams("template %q has unknown backend %q", t.Name, t.Backend)
	}
	if strings.TrimSpace(t.Query) == "" {
		return errors.InvalidParams("template %q has an empty query", t.Name)
	}
	declared := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		declared[p] = true
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Query, -1) {
		if !declared[m[1]] {
			return errors.InvalidParams("template %q uses undeclared parameter {%s}", t.Name, m[1])
		}
	}
	return nil
}

// Build expands the template into a concrete query. Unknown parameter
// keys are rejected; declared parameters left unset drop out of the
// query text.
func (t Template) Build(params map[string]string) (string, error) {
	declared := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		declared[p] = true
	}
	for key := range params {
		if !declared[key] {
			return "", errors.InvalidParams("template %q has no parameter %q", t.Name, key)
		}
	}
	query := placeholderRe.ReplaceAllStringFunc(t.Query, func(ph string) string {
		name := ph[1 : len(ph)-1]
		return params[name]
	})
	return strings.Join(strings.Fields(query), " "), nil
}

// builtins are the shipped recipes. Kept in registration order for
// stable listing before the registry sorts by name.
func builtins() []Template {
	all := []Template{
		{
			Name:        "api_endpoints",
			Description: "HTTP route registrations and request handlers",
			Backend:     BackendHybrid,
			Query:       "http route handler endpoint mux router {language}",
			Params:      []string{"language"},
			Keywords:    []string{"api", "endpoint", "route", "handler", "http", "rest"},
		},
		{
			Name:        "authentication",
			Description: "Login, token issuance and credential verification",
			Backend:     BackendSemantic,
			Query:       "authentication login token credential session verify password {language}",
			Params:      []string{"language"},
			Keywords:    []string{"auth", "login", "token", "jwt", "credential", "session", "oauth"},
		},
		{
			Name:        "database_models",
			Description: "Persistence schemas, entities and table definitions",
			Backend:     BackendHybrid,
			Query:       "database model schema table entity migration column {language}",
			Params:      []string{"language"},
			Keywords:    []string{"database", "model", "schema", "table", "orm", "migration", "entity"},
		},
		{
			Name:        "error_handling",
			Description: "Error types, wrapping, recovery and retry logic",
			Backend:     BackendKeyword,
			Query:       "error handling wrap retry recover panic exception {language}",
			Params:      []string{"language"},
			Keywords:    []string{"error", "exception", "retry", "panic", "recover", "failure"},
		},
		{
			Name:        "configuration",
			Description: "Config loading, defaults, validation and env overrides",
			Backend:     BackendHybrid,
			Query:       "configuration config load settings environment default validate {language}",
			Params:      []string{"language"},
			Keywords:    []string{"config", "configuration", "settings", "env", "yaml", "flags"},
		},
		{
			Name:        "tests",
			Description: "Test suites, fixtures and mocks",
			Backend:     BackendStructural,
			Query:       "test assert mock fixture setup teardown {symbol}",
			Params:      []string{"symbol"},
			Keywords:    []string{"test", "spec", "mock", "assert", "fixture", "coverage"},
		},
		{
			Name:        "logging",
			Description: "Logger setup and structured log emission",
			Backend:     BackendKeyword,
			Query:       "logger logging log level structured slog {language}",
			Params:      []string{"language"},
			Keywords:    []string{"log", "logger", "logging", "slog", "trace", "debug"},
		},
		{
			Name:        "http_clients",
			Description: "Outbound HTTP calls, API clients and request building",
			Backend:     BackendSemantic,
			Query:       "http client request outbound call api fetch timeout {host}",
			Params:      []string{"host"},
			Keywords:    []string{"client", "http", "request", "fetch", "api", "outbound"},
		},
		{
			Name:        "concurrency",
			Description: "Goroutines, channels, locks and worker pools",
			Backend:     BackendStructural,
			Query:       "goroutine channel mutex worker pool sync concurrent {symbol}",
			Params:      []string{"symbol"},
			Keywords:    []string{"goroutine", "channel", "mutex", "worker", "concurrent", "parallel"},
		},
		{
			Name:        "entrypoints",
			Description: "Program entrypoints, CLI commands and service startup",
			Backend:     BackendHybrid,
			Query:       "main entrypoint command startup serve init bootstrap {language}",
			Params:      []string{"language"},
			Keywords:    []string{"main", "cli", "command", "startup", "serve", "bootstrap"},
		},
	}
	for i := range all {
		all[i].builtin = true
	}
	return all
}

// String implements fmt.Stringer for log lines.
func (t Template) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.Backend)
}
