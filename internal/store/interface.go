package store

import (
	"context"
)

// Store is the durable state of the service: the sync ledger, the history of
// bulk runs and a small key-value table used for credentials.
//
// Getters return (nil, nil) when the row does not exist.
type Store interface {
	// Sync links
	GetLink(ctx context.Context, entityType string, localID int64) (*SyncLink, error)
	GetLinkByRemoteID(ctx context.Context, entityType, remoteID string) (*SyncLink, error)
	SaveLink(ctx context.Context, link *SyncLink) error
	ListLinks(ctx context.Context, entityType string, limit, offset int) ([]*SyncLink, error)
	SettledIDs(ctx context.Context, entityType string, localIDs []int64) (map[int64]bool, error)
	DeleteLinks(ctx context.Context, entityType string) error

	// History
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	UpdateSyncRun(ctx context.Context, run *SyncRun) error
	GetSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error)

	// Key-value
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
	DeleteValue(ctx context.Context, key string) error

	// General
	Close() error
}
