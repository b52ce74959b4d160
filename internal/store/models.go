package store

import (
	"database/sql"
	"time"
)

// SyncLink maps one local entity to its remote resource. RemoteID is empty on
// a stub link that only records a failure.
type SyncLink struct {
	EntityType   string         `db:"entity_type"`
	LocalID      int64          `db:"local_id"`
	RemoteID     string         `db:"remote_id"`
	NaturalKey   string         `db:"natural_key"`
	PayloadHash  string         `db:"payload_hash"`
	LastSyncedAt sql.NullTime   `db:"last_synced_at"`
	LastError    sql.NullString `db:"last_error"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Linked reports whether the link carries a remote id.
func (l *SyncLink) Linked() bool {
	return l != nil && l.RemoteID != ""
}

// MarkSynced records a successful create or update.
func (l *SyncLink) MarkSynced(remoteID string, at time.Time) {
	l.RemoteID = remoteID
	l.LastSyncedAt = sql.NullTime{Time: at, Valid: true}
	l.LastError = sql.NullString{}
}

// MarkFailed records msg verbatim and leaves RemoteID untouched.
func (l *SyncLink) MarkFailed(msg string) {
	l.LastError = sql.NullString{String: msg, Valid: true}
}

type SyncRun struct {
	ID           string         `db:"id"`
	EntityType   string         `db:"entity_type"`
	Trigger      string         `db:"trigger_source"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Synced       int            `db:"synced"`
	Failed       int            `db:"failed"`
	Skipped      int            `db:"skipped"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
