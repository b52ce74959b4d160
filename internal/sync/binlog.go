package sync

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/go-mysql-org/go-mysql/schema"
	"go.uber.org/zap"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/metrics"
	"xero-sync-service/internal/shop"
)

// Sink accepts change events. It blocks while the receiver is full.
type Sink interface {
	Submit(ctx context.Context, e ChangeEvent) error
}

type watchedTable struct {
	entityType shop.EntityType
	idColumn   string
}

// BinlogListener tails the shop database binlog and reports row changes on
// the configured tables as ChangeEvents.
type BinlogListener struct {
	cfg    config.DatabaseConnection
	canal  *canal.Canal
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	tables map[string]watchedTable
}

func NewBinlogListener(cfg config.ShopConfig, sink Sink) (*BinlogListener, error) {
	tables, err := watchedTables(cfg.Tables)
	if err != nil {
		return nil, err
	}

	var tableRegex []string
	for name := range tables {
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$",
			regexp.QuoteMeta(cfg.Database.Database), regexp.QuoteMeta(name)))
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port),
		User:     cfg.Database.ReplicationUser,
		Password: cfg.Database.ReplicationPassword,
		Flavor:   "mysql",
		ServerID: cfg.ServerID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // binlog only, no initial dump
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &BinlogListener{
		cfg:    cfg.Database,
		canal:  c,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		tables: tables,
	}

	c.SetEventHandler(&eventHandler{listener: l})

	return l, nil
}

func watchedTables(tables []config.TableConfig) (map[string]watchedTable, error) {
	out := make(map[string]watchedTable, len(tables))
	for _, t := range tables {
		entityType, err := shop.ParseEntityType(t.EntityType)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		idColumn := t.IDColumn
		if idColumn == "" {
			idColumn = "id"
		}
		out[t.Name] = watchedTable{entityType: entityType, idColumn: idColumn}
	}
	return out, nil
}

// Start follows the binlog from the current master position; history is not
// replayed.
func (l *BinlogListener) Start() error {
	pos, err := l.canal.GetMasterPos()
	if err != nil {
		return fmt.Errorf("failed to read master position: %w", err)
	}

	logger.Log.Info("Starting binlog listener",
		zap.String("host", l.cfg.Host),
		zap.String("file", pos.Name),
		zap.Uint32("pos", pos.Pos))

	go func() {
		if err := l.canal.RunFrom(pos); err != nil && l.ctx.Err() == nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	return nil
}

func (l *BinlogListener) Stop() {
	l.cancel()
	l.canal.Close()
	logger.Log.Info("Stopped binlog listener")
}

// changeEvents turns one rows event into a ChangeEvent per affected row.
// Update events carry before and after images; the after image is used.
func (l *BinlogListener) changeEvents(action string, table *schema.Table, rows [][]interface{}, header *replication.EventHeader) []ChangeEvent {
	watched, ok := l.tables[table.Name]
	if !ok {
		return nil
	}

	var eventType EventType
	step, first := 1, 0
	switch action {
	case canal.InsertAction:
		eventType = Insert
	case canal.UpdateAction:
		eventType = Update
		step, first = 2, 1
	case canal.DeleteAction:
		eventType = Delete
	default:
		return nil
	}

	col := table.FindColumn(watched.idColumn)
	if col < 0 {
		logger.Log.Warn("Id column not found",
			zap.String("table", table.Name),
			zap.String("column", watched.idColumn))
		return nil
	}

	var ts uint32
	if header != nil {
		ts = header.Timestamp
	}

	var events []ChangeEvent
	for i := first; i < len(rows); i += step {
		if col >= len(rows[i]) {
			continue
		}
		id, ok := toInt64(rows[i][col])
		if !ok {
			continue
		}
		events = append(events, ChangeEvent{
			Type:       eventType,
			EntityType: watched.entityType,
			LocalID:    id,
			Table:      table.Name,
			Timestamp:  ts,
		})
	}
	return events
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	case []byte:
		id, err := strconv.ParseInt(string(n), 10, 64)
		return id, err == nil
	}
	return 0, false
}

type eventHandler struct {
	canal.DummyEventHandler
	listener *BinlogListener
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	events := h.listener.changeEvents(e.Action, e.Table, e.Rows, e.Header)
	if len(events) == 0 {
		return nil
	}

	pos := h.listener.canal.SyncedPosition()
	for _, ev := range events {
		ev.BinlogFile = pos.Name
		ev.BinlogPos = pos.Pos
		metrics.ChangeEventsTotal.WithLabelValues(string(ev.EntityType), string(ev.Type)).Inc()

		// Blocking keeps backpressure on the binlog reader.
		if err := h.listener.sink.Submit(h.listener.ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *eventHandler) String() string {
	return "ChangeEventHandler"
}
