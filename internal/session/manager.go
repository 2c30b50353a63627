package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/latticemcp/lattice/internal/store"
)

// Manager owns all user contexts and the team pattern feed. Each user's
// context mutates only under that user's lock; snapshots are deep
// copies, so the ranker never observes a mid-update state.
type Manager struct {
	mu     sync.Mutex
	users  map[string]*userEntry
	store  *store.Store
	logger *slog.Logger
}

type userEntry struct {
	mu  sync.Mutex
	ctx *UserContext
}

// NewManager returns a manager persisting through st. A nil store keeps
// contexts in memory only.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:  make(map[string]*userEntry),
		store:  st,
		logger: logger.With("component", "session"),
	}
}

// Update applies one event to a user's context, records team patterns
// for file events, and persists the snapshot.
func (m *Manager) Update(ctx context.Context, userID string, ev Event) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !ValidEventType(ev.Type) {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	entry, err := m.entry(ctx, userID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := entry.ctx.Apply(ev); err != nil {
		return err
	}

	if m.store != nil {
		switch ev.Type {
		case EventFileOpened, EventFileEdited:
			if ev.Path != "" {
				if err := m.store.RecordTeamPattern(ctx, ev.Path); err != nil {
					m.logger.Warn("record team pattern failed",
						"path", ev.Path, "error", err)
				}
			}
		}
		if err := m.persist(ctx, entry.ctx); err != nil {
			m.logger.Warn("persist user context failed",
				"user", userID, "error", err)
		}
	}
	return nil
}

// Snapshot returns a deep copy of a user's context. Unknown users get a
// fresh empty context.
func (m *Manager) Snapshot(ctx context.Context, userID string) (*UserContext, error) {
	if userID == "" {
		return NewUserContext(""), nil
	}
	entry, err := m.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.ctx.Clone(), nil
}

// TeamPatterns returns the workspace-wide top accessed paths as a
// path→count map for the ranker.
func (m *Manager) TeamPatterns(ctx context.Context, n int) (map[string]int, error) {
	if m.store == nil {
		return nil, nil
	}
	top, err := m.store.TopTeamPatterns(ctx, n)
	if err != nil {
		return nil, err
	}
	patterns := make(map[string]int, len(top))
	for _, p := range top {
		patterns[p.FilePath] = p.Count
	}
	return patterns, nil
}

// entry returns the live entry for a user, loading the persisted
// snapshot on first sight.
func (m *Manager) entry(ctx context.Context, userID string) (*userEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.users[userID]; ok {
		return entry, nil
	}

	uc := NewUserContext(userID)
	if m.store != nil {
		blob, err := m.store.LoadUserContext(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user context: %w", err)
		}
		if blob != nil {
			if err := json.Unmarshal(blob, uc); err != nil {
				// A torn snapshot only loses history, so start clean.
				m.logger.Warn("discarding unreadable user context",
					"user", userID, "error", err)
				uc = NewUserContext(userID)
			}
		}
	}
	if uc.FileAccessCounts == nil {
		uc.FileAccessCounts = make(map[string]*AccessStat)
	}

	entry := &userEntry{ctx: uc}
	m.users[userID] = entry
	return entry, nil
}

// persist writes the snapshot; caller holds the user lock.
func (m *Manager) persist(ctx context.Context, uc *UserContext) error {
	blob, err := json.Marshal(uc)
	if err != nil {
		return fmt.Errorf("marshal user context: %w", err)
	}
	return m.store.SaveUserContext(ctx, uc.UserID, blob)
}
