package templates

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T, st *store.Store) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), st, testLogger())
	require.NoError(t, err)
	return r
}

func TestBuiltinsAreComplete(t *testing.T) {
	r := newRegistry(t, nil)
	assert.GreaterOrEqual(t, len(r.List()), 8)

	for _, name := range []string{
		"api_endpoints", "authentication", "database_models", "error_handling",
		"configuration", "tests", "logging", "http_clients",
	} {
		tpl, err := r.Get(name)
		require.NoError(t, err, name)
		assert.True(t, tpl.Builtin(), name)
		assert.NoError(t, tpl.Validate(), name)
	}
}

func TestBuildSubstitutesParams(t *testing.T) {
	r := newRegistry(t, nil)
	tpl, err := r.Get("api_endpoints")
	require.NoError(t, err)

	query, err := tpl.Build(map[string]string{"language": "go"})
	require.NoError(t, err)
	assert.Contains(t, query, "go")

	// Unset declared params drop out without leaving a placeholder.
	query, err = tpl.Build(nil)
	require.NoError(t, err)
	assert.NotContains(t, query, "{")

	_, err = tpl.Build(map[string]string{"bogus": "x"})
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))
}

func TestValidateRejectsBadTemplates(t *testing.T) {
	tests := []struct {
		name string
		tpl  Template
	}{
		{"bad name", Template{Name: "has space", Description: "d", Backend: BackendKeyword, Query: "q"}},
		{"bad backend", Template{Name: "ok", Description: "d", Backend: "psychic", Query: "q"}},
		{"empty query", Template{Name: "ok", Description: "d", Backend: BackendKeyword, Query: "  "}},
		{"no description", Template{Name: "ok", Backend: BackendKeyword, Query: "q"}},
		{"undeclared placeholder", Template{Name: "ok", Description: "d", Backend: BackendKeyword, Query: "find {thing}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tpl.Validate()
			assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))
		})
	}
}

func TestRegisterCustomPersists(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	r := newRegistry(t, st)
	custom := Template{
		Name:        "feature_flags",
		Description: "Feature flag checks and rollout gates",
		Backend:     BackendKeyword,
		Query:       "feature flag toggle rollout gate",
		Keywords:    []string{"flag", "toggle", "rollout"},
	}
	require.NoError(t, r.Register(ctx, custom))

	// A fresh registry over the same store sees the registration.
	r2 := newRegistry(t, st)
	got, err := r2.Get("feature_flags")
	require.NoError(t, err)
	assert.Equal(t, custom.Query, got.Query)
	assert.False(t, got.Builtin())

	require.NoError(t, r2.Unregister(ctx, "feature_flags"))
	r3 := newRegistry(t, st)
	_, err = r3.Get("feature_flags")
	assert.Error(t, err)
}

func TestRegisterCannotShadowBuiltin(t *testing.T) {
	r := newRegistry(t, nil)
	err := r.Register(context.Background(), Template{
		Name:        "authentication",
		Description: "override",
		Backend:     BackendKeyword,
		Query:       "q",
	})
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))

	err = r.Unregister(context.Background(), "authentication")
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))
}

func TestSuggestRanksByOverlap(t *testing.T) {
	r := newRegistry(t, nil)

	got := r.Suggest("where is the login token verified", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "authentication", got[0].Template.Name)

	got = r.Suggest("show me the http route handlers", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "api_endpoints", got[0].Template.Name)

	assert.Empty(t, r.Suggest("zzzz qqqq", 3))
	assert.Empty(t, r.Suggest("", 3))
}

func TestFuseRRFPrefersBothLists(t *testing.T) {
	keyword := []Ranked{{ID: "a", Score: 5}, {ID: "b", Score: 3}, {ID: "c", Score: 1}}
	semantic := []Ranked{{ID: "b", Score: 0.9}, {ID: "d", Score: 0.8}}

	fused := FuseRRF(keyword, semantic)
	require.Len(t, fused, 4)

	// b is the only document in both lists and leads.
	assert.Equal(t, "b", fused[0].ID)
	assert.True(t, fused[0].InBoth)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
	for _, f := range fused[1:] {
		assert.False(t, f.InBoth)
		assert.Less(t, f.Score, fused[0].Score)
	}
}

func TestFuseRRFEmptyAndOneSided(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, nil))

	fused := FuseRRF([]Ranked{{ID: "a", Score: 2}, {ID: "b", Score: 1}}, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, 1, fused[0].KeywordRank)
	assert.Zero(t, fused[0].SemanticRank)
}

func TestFuseRRFDeterministicTies(t *testing.T) {
	a := FuseRRF([]Ranked{{ID: "x"}, {ID: "y"}}, []Ranked{{ID: "y"}, {ID: "x"}})
	b := FuseRRF([]Ranked{{ID: "x"}, {ID: "y"}}, []Ranked{{ID: "y"}, {ID: "x"}})
	assert.Equal(t, a, b)
}
