// Package database opens the shop database the local entities are read from.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

type Database struct {
	DB     *sql.DB
	Config config.DatabaseConnection
}

// DSN builds the driver connection string for cfg. Times are read as UTC.
func DSN(cfg config.DatabaseConnection) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.MultiStatements = true
	mc.Timeout = 10 * time.Second
	mc.ReadTimeout = 30 * time.Second
	return mc.FormatDSN()
}

// NewDatabase connects to the shop database, waiting for it to come up.
func NewDatabase(cfg config.DatabaseConnection) (*Database, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	d := &Database{DB: db, Config: cfg}
	if err := d.waitReady(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	// Reads only; a small pool is enough.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to shop database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return d, nil
}

func (d *Database) waitReady(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = d.Ping(ctx); err == nil {
			return nil
		}
		logger.Log.Info("Waiting for shop DB...", zap.Error(err), zap.Int("attempt", attempt))
		select {
		case <-time.After(connectBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", connectAttempts, err)
}

func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// ReadTx runs fn in a read-only transaction so multi-table reads see one
// snapshot. The transaction is always rolled back.
func (d *Database) ReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(tx)
}
