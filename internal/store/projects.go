package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/latticemcp/lattice/internal/workspace"
)

// SaveProject registers or updates a project's configuration.
func (s *Store) SaveProject(ctx context.Context, p workspace.Project) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project %q: %w", p.ID, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO projects (id, config) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET config = excluded.config`, p.ID, blob)
	if err != nil {
		return fmt.Errorf("save project %q: %w", p.ID, err)
	}
	return nil
}

// LoadProject returns the stored configuration for a project, or
// (nil, nil) when the project is unknown.
func (s *Store) LoadProject(ctx context.Context, id string) (*workspace.Project, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = db.QueryRowContext(ctx, `SELECT config FROM projects WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project %q: %w", id, err)
	}
	var p workspace.Project
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project %q: %w", id, err)
	}
	return &p, nil
}

// ProjectIDs returns all registered project ids, sorted by id.
func (s *Store) ProjectIDs(ctx context.Context) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteProject removes a project and its indexing state.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete project %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM indexing_state WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete indexing state %q: %w", id, err)
		}
		return nil
	})
}

// SaveIndexingState persists a project's indexing state.
func (s *Store) SaveIndexingState(ctx context.Context, projectID string, state workspace.IndexingState) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal indexing state %q: %w", projectID, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO indexing_state (project_id, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(project_id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP`,
		projectID, blob)
	if err != nil {
		return fmt.Errorf("save indexing state %q: %w", projectID, err)
	}
	return nil
}

// SaveIndexingStateTx is the transactional variant, used by the indexer
// to commit per-file state and scan timestamps atomically.
func (s *Store) SaveIndexingStateTx(ctx context.Context, tx *sql.Tx, projectID string, state workspace.IndexingState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal indexing state %q: %w", projectID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO indexing_state (project_id, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(project_id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP`,
		projectID, blob)
	if err != nil {
		return fmt.Errorf("save indexing state %q: %w", projectID, err)
	}
	return nil
}

// LoadIndexingState returns a project's indexing state. Unknown
// projects get a zero state with status uninitialized.
func (s *Store) LoadIndexingState(ctx context.Context, projectID string) (workspace.IndexingState, error) {
	db, err := s.conn()
	if err != nil {
		return workspace.IndexingState{}, err
	}
	var blob []byte
	err = db.QueryRowContext(ctx,
		`SELECT blob FROM indexing_state WHERE project_id = ?`, projectID).Scan(&blob)
	if err == sql.ErrNoRows {
		return workspace.IndexingState{Status: workspace.StatusUninitialized}, nil
	}
	if err != nil {
		return workspace.IndexingState{}, fmt.Errorf("load indexing state %q: %w", projectID, err)
	}
	var state workspace.IndexingState
	if err := json.Unmarshal(blob, &state); err != nil {
		return workspace.IndexingState{}, fmt.Errorf("unmarshal indexing state %q: %w", projectID, err)
	}
	return state, nil
}
