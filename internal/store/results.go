package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutCachedResult stores a query result under its fingerprint with an
// absolute expiry, recording the file paths it cites so file changes
// can invalidate it.
func (s *Store) PutCachedResult(ctx context.Context, fingerprint string, payload []byte, expiry time.Time, paths []string) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cached_results (fingerprint, payload, expiry) VALUES (?, ?, ?)
			 ON CONFLICT(fingerprint) DO UPDATE SET payload = excluded.payload, expiry = excluded.expiry`,
			fingerprint, payload, expiry.UnixMilli())
		if err != nil {
			return fmt.Errorf("put cached result: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cached_result_paths WHERE fingerprint = ?`, fingerprint); err != nil {
			return fmt.Errorf("clear cached result paths: %w", err)
		}
		for _, path := range paths {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO cached_result_paths (fingerprint, file_path) VALUES (?, ?)`,
				fingerprint, path); err != nil {
				return fmt.Errorf("record cached result path: %w", err)
			}
		}
		return nil
	})
}

// GetCachedResult returns the payload for a fingerprint, or (nil, nil)
// on miss. Expired entries count as misses and are removed.
func (s *Store) GetCachedResult(ctx context.Context, fingerprint string) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var payload []byte
	var expiry int64
	err = db.QueryRowContext(ctx,
		`SELECT payload, expiry FROM cached_results WHERE fingerprint = ?`, fingerprint).
		Scan(&payload, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached result: %w", err)
	}
	if time.UnixMilli(expiry).Before(time.Now()) {
		_ = s.DeleteCachedResults(ctx, []string{fingerprint})
		return nil, nil
	}
	return payload, nil
}

// DeleteCachedResults removes entries by fingerprint.
func (s *Store) DeleteCachedResults(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, fp := range fingerprints {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cached_results WHERE fingerprint = ?`, fp); err != nil {
				return fmt.Errorf("delete cached result: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cached_result_paths WHERE fingerprint = ?`, fp); err != nil {
				return fmt.Errorf("delete cached result paths: %w", err)
			}
		}
		return nil
	})
}

// FingerprintsForPath returns the cached fingerprints citing a path.
func (s *Store) FingerprintsForPath(ctx context.Context, path string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT fingerprint FROM cached_result_paths WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("fingerprints for path: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// PathsForFingerprint returns the file paths a cached entry cites.
func (s *Store) PathsForFingerprint(ctx context.Context, fingerprint string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT file_path FROM cached_result_paths WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("paths for fingerprint: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// PurgeExpiredResults drops entries past their expiry and returns how
// many were removed.
func (s *Store) PurgeExpiredResults(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	if _, err := db.ExecContext(ctx,
		`DELETE FROM cached_result_paths WHERE fingerprint IN
		   (SELECT fingerprint FROM cached_results WHERE expiry < ?)`, now); err != nil {
		return 0, fmt.Errorf("purge expired paths: %w", err)
	}
	res, err := db.ExecContext(ctx, `DELETE FROM cached_results WHERE expiry < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SaveTemplate stores a custom template definition.
func (s *Store) SaveTemplate(ctx context.Context, name string, blob []byte) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO templates (name, blob) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET blob = excluded.blob`, name, blob)
	if err != nil {
		return fmt.Errorf("save template %q: %w", name, err)
	}
	return nil
}

// LoadTemplates returns all stored template blobs keyed by name.
func (s *Store) LoadTemplates(ctx context.Context) (map[string][]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT name, blob FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make(map[string][]byte)
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates[name] = blob
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a stored template.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete template %q: %w", name, err)
	}
	return nil
}
