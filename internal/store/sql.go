package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// dialect carries the statements that differ between MySQL and SQLite.
type dialect struct {
	upsertLink  string
	upsertValue string
}

// sqlStore implements Store on database/sql. The ledger tables are identical
// for both engines; only upserts differ.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

const linkColumns = `entity_type, local_id, remote_id, natural_key, payload_hash, last_synced_at, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*SyncLink, error) {
	var l SyncLink
	err := row.Scan(
		&l.EntityType,
		&l.LocalID,
		&l.RemoteID,
		&l.NaturalKey,
		&l.PayloadHash,
		&l.LastSyncedAt,
		&l.LastError,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *sqlStore) GetLink(ctx context.Context, entityType string, localID int64) (*SyncLink, error) {
	query := `SELECT ` + linkColumns + ` FROM sync_links WHERE entity_type = ? AND local_id = ?`

	link, err := scanLink(s.db.QueryRowContext(ctx, query, entityType, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *sqlStore) GetLinkByRemoteID(ctx context.Context, entityType, remoteID string) (*SyncLink, error) {
	if remoteID == "" {
		return nil, nil
	}
	query := `SELECT ` + linkColumns + ` FROM sync_links WHERE entity_type = ? AND remote_id = ? LIMIT 1`

	link, err := scanLink(s.db.QueryRowContext(ctx, query, entityType, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// SaveLink inserts or replaces the link for (EntityType, LocalID). CreatedAt
// of an existing row is preserved.
func (s *sqlStore) SaveLink(ctx context.Context, link *SyncLink) error {
	now := s.now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.dialect.upsertLink,
		link.EntityType,
		link.LocalID,
		link.RemoteID,
		link.NaturalKey,
		link.PayloadHash,
		link.LastSyncedAt,
		link.LastError,
		link.CreatedAt,
		link.UpdatedAt,
	)
	return err
}

// ListLinks returns links ordered by most recent change. An empty entityType
// lists every type.
func (s *sqlStore) ListLinks(ctx context.Context, entityType string, limit, offset int) ([]*SyncLink, error) {
	query := `SELECT ` + linkColumns + ` FROM sync_links`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY updated_at DESC, local_id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*SyncLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// SettledIDs reports which of localIDs carry a remote id and no recorded
// error. A linked entity whose last sync failed is not settled.
func (s *sqlStore) SettledIDs(ctx context.Context, entityType string, localIDs []int64) (map[int64]bool, error) {
	settled := make(map[int64]bool, len(localIDs))
	if len(localIDs) == 0 {
		return settled, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(localIDs)), ",")
	query := `SELECT local_id FROM sync_links WHERE entity_type = ? AND remote_id <> '' AND last_error IS NULL AND local_id IN (` + placeholders + `)`

	args := make([]any, 0, len(localIDs)+1)
	args = append(args, entityType)
	for _, id := range localIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		settled[id] = true
	}
	return settled, rows.Err()
}

// DeleteLinks removes every link of entityType, or all links when empty.
func (s *sqlStore) DeleteLinks(ctx context.Context, entityType string) error {
	if entityType == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sync_links`)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_links WHERE entity_type = ?`, entityType)
	return err
}

func (s *sqlStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, entity_type, trigger_source, started_at, completed_at, synced, failed, skipped, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.EntityType,
		run.Trigger,
		run.StartedAt,
		run.CompletedAt,
		run.Synced,
		run.Failed,
		run.Skipped,
		run.Status,
		run.ErrorMessage,
	)
	return err
}

func (s *sqlStore) UpdateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET completed_at = ?, synced = ?, failed = ?, skipped = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		run.CompletedAt,
		run.Synced,
		run.Failed,
		run.Skipped,
		run.Status,
		run.ErrorMessage,
		run.ID,
	)
	return err
}

func (s *sqlStore) GetSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
	query := `SELECT id, entity_type, trigger_source, started_at, completed_at, synced, failed, skipped, status, error_message
			  FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		err := rows.Scan(
			&r.ID,
			&r.EntityType,
			&r.Trigger,
			&r.StartedAt,
			&r.CompletedAt,
			&r.Synced,
			&r.Failed,
			&r.Skipped,
			&r.Status,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func (s *sqlStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_store WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *sqlStore) PutValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsertValue, key, value, s.now())
	return err
}

func (s *sqlStore) DeleteValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE k = ?`, key)
	return err
}
