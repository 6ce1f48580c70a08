package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			raw BLOB NOT NULL,
			feature_count INTEGER NOT NULL,
			fetched_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_source_fetched ON snapshots(source_url, fetched_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Save(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, source_url, raw, feature_count, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.SourceURL, snap.Raw, snap.FeatureCount, snap.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Latest(ctx context.Context, sourceURL string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, raw, feature_count, fetched_at
		 FROM snapshots WHERE source_url = ?
		 ORDER BY fetched_at DESC LIMIT 1`,
		sourceURL,
	)

	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.SourceURL, &snap.Raw, &snap.FeatureCount, &snap.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteDB) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY source_url ORDER BY fetched_at DESC) AS rn
				FROM snapshots
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("error pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
