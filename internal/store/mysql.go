package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
)

//go:embed schema_mysql.sql
var mysqlSchema string

var mysqlDialect = dialect{
	upsertLink: `INSERT INTO sync_links (` + linkColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  remote_id = VALUES(remote_id),
			  natural_key = VALUES(natural_key),
			  payload_hash = VALUES(payload_hash),
			  last_synced_at = VALUES(last_synced_at),
			  last_error = VALUES(last_error),
			  updated_at = VALUES(updated_at)`,
	upsertValue: `INSERT INTO kv_store (k, v, updated_at) VALUES (?, ?, ?)
			  ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`,
}

type MySQLStore struct {
	*sqlStore
}

func NewMySQLStore(cfg config.StateStorage) (*MySQLStore, error) {
	dc := mysql.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.MultiStatements = true

	db, err := sql.Open("mysql", dc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if _, err := db.ExecContext(context.Background(), mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &MySQLStore{sqlStore: newSQLStore(db, mysqlDialect)}, nil
}
