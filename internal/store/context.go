package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveUserContext persists a user's context blob. The session layer
// owns the shape; the store treats it as opaque JSON.
func (s *Store) SaveUserContext(ctx context.Context, userID string, blob []byte) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO user_context (user_id, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP`,
		userID, blob)
	if err != nil {
		return fmt.Errorf("save user context %q: %w", userID, err)
	}
	return nil
}

// LoadUserContext returns a user's context blob, or (nil, nil) when the
// user has none.
func (s *Store) LoadUserContext(ctx context.Context, userID string) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = db.QueryRowContext(ctx,
		`SELECT blob FROM user_context WHERE user_id = ?`, userID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user context %q: %w", userID, err)
	}
	return blob, nil
}

// TeamPattern is an aggregated access count for one file across users.
type TeamPattern struct {
	FilePath string
	Count    int
}

// RecordTeamPattern increments the team-wide access count for a path.
func (s *Store) RecordTeamPattern(ctx context.Context, path string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO team_patterns (file_path, count, updated_at) VALUES (?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT(file_path) DO UPDATE SET count = count + 1, updated_at = CURRENT_TIMESTAMP`,
		path)
	if err != nil {
		return fmt.Errorf("record team pattern %q: %w", path, err)
	}
	return nil
}

// TopTeamPatterns returns the n most-accessed paths, most first.
func (s *Store) TopTeamPatterns(ctx context.Context, n int) ([]TeamPattern, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT file_path, count FROM team_patterns
		 ORDER BY count DESC, file_path LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("top team patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []TeamPattern
	for rows.Next() {
		var p TeamPattern
		if err := rows.Scan(&p.FilePath, &p.Count); err != nil {
			return nil, fmt.Errorf("scan team pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
