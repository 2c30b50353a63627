package templates

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/store"
)

// Registry holds the built-in templates plus user registrations. Custom
// templates persist in the relational store and reload on construction.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template

	st     *store.Store
	logger *slog.Logger
}

// NewRegistry builds a registry with the builtins installed and any
// persisted custom templates loaded. st may be nil (memory only).
func NewRegistry(ctx context.Context, st *store.Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		templates: make(map[string]Template),
		st:        st,
		logger:    logger.With("component", "templates"),
	}
	for _, t := range builtins() {
		r.templates[t.Name] = t
	}
	if st != nil {
		blobs, err := st.LoadTemplates(ctx)
		if err != nil {
			return nil, err
		}
		for name, blob := range blobs {
			var t Template
			if err := json.Unmarshal(blob, &t); err != nil {
				r.logger.Warn("skipping undecodable template", "name", name, "error", err)
				continue
			}
			if err := t.Validate(); err != nil {
				r.logger.Warn("skipping invalid persisted template", "name", name, "error", err)
				continue
			}
			r.templates[t.Name] = t
		}
	}
	return r, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, errors.InvalidParams("unknown template %q", name)
	}
	return t, nil
}

// List returns all templates sorted by name.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Register validates and installs a custom template, persisting it when
// a store is attached. Built-in names cannot be shadowed.
func (r *Registry) Register(ctx context.Context, t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.templates[t.Name]; ok && existing.builtin {
		return errors.InvalidParams("template %q is built in and cannot be replaced", t.Name)
	}
	if r.st != nil {
		blob, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := r.st.SaveTemplate(ctx, t.Name, blob); err != nil {
			return err
		}
	}
	r.templates[t.Name] = t
	return nil
}

// Unregister removes a custom template. Builtins stay.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	if !ok {
		return errors.InvalidParams("unknown template %q", name)
	}
	if t.builtin {
		return errors.InvalidParams("template %q is built in and cannot be removed", name)
	}
	if r.st != nil {
		if err := r.st.DeleteTemplate(ctx, name); err != nil {
			return err
		}
	}
	delete(r.templates, name)
	return nil
}

// Suggestion pairs a template with its match score for a user query.
type Suggestion struct {
	Template Template
	Score    float64
}

// Suggest ranks templates by keyword overlap with the query and returns
// the top n with a nonzero score. Name fragments count double.
func (r *Registry) Suggest(query string, n int) []Suggestion {
	terms := suggestTerms(query)
	if len(terms) == 0 || n <= 0 {
		return nil
	}

	r.mu.RLock()
	var out []Suggestion
	for _, t := range r.templates {
		score := 0.0
		for _, part := range strings.Split(t.Name, "_") {
			if terms[part] {
				score += 2
			}
		}
		for _, kw := range t.Keywords {
			if terms[strings.ToLower(kw)] {
				score++
			}
		}
		if score > 0 {
			out = append(out, Suggestion{Template: t, Score: score})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Template.Name < out[j].Template.Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// suggestTerms lowercases and tokenizes a query on non-identifier runes.
func suggestTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			terms[strings.ToLower(current.String())] = true
			current.Reset()
		}
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return terms
}
