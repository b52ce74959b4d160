package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
)

const referenceTimeout = 30 * time.Second

const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// Status is a snapshot of the auto-sync sources.
type Status struct {
	State      string     `json:"state"`
	Binlog     bool       `json:"binlog"`
	Workers    int        `json:"workers"`
	QueueDepth int        `json:"queue_depth"`
	Scheduler  bool       `json:"scheduler"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	InFlight   int        `json:"in_flight"`
	// TaxMappings counts the shop tax classes mapped to a remote tax type.
	TaxMappings int `json:"tax_mappings"`
}

// Manager owns the sources that feed the engine: the binlog listener, the
// worker pool behind it and the scheduler.
type Manager struct {
	cfg            *config.Config
	engine         *Engine
	reference      *ReferenceData
	binlogListener *BinlogListener
	workerPool     *WorkerPool
	scheduler      *Scheduler
	mu             sync.Mutex
	status         string
}

// NewManager accepts a nil reference when tax rates and accounts are not
// managed.
func NewManager(cfg *config.Config, engine *Engine, reference *ReferenceData) *Manager {
	return &Manager{
		cfg:       cfg,
		engine:    engine,
		reference: reference,
		status:    StatusIdle,
	}
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusRunning {
		return fmt.Errorf("sync manager is already running")
	}

	logger.Log.Info("Starting sync manager")

	if m.reference != nil {
		m.prepareReference()
	}

	m.workerPool = NewWorkerPool(m.cfg.Sync, m.engine)
	m.workerPool.Start()

	if m.cfg.Shop.Binlog {
		listener, err := NewBinlogListener(m.cfg.Shop, m.workerPool)
		if err != nil {
			m.workerPool.Stop()
			return err
		}
		if err := listener.Start(); err != nil {
			listener.Stop()
			m.workerPool.Stop()
			return err
		}
		m.binlogListener = listener
	}

	m.scheduler = NewScheduler(m.cfg.Scheduler, m.engine)
	if m.reference != nil && m.cfg.Scheduler.TaxRatesInterval != "" {
		refresh := func(ctx context.Context) error {
			_, err := m.reference.RefreshTaxRates(ctx)
			return err
		}
		if err := m.scheduler.AddTask("tax rates", m.cfg.Scheduler.TaxRatesInterval, refresh); err != nil {
			m.stopSources()
			return err
		}
	}
	if err := m.scheduler.Start(); err != nil {
		m.stopSources()
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	m.status = StatusRunning
	return nil
}

// prepareReference restores saved tax mappings and, when connected, refreshes
// them and checks the configured accounts. Failures are logged only.
func (m *Manager) prepareReference() {
	ctx, cancel := context.WithTimeout(context.Background(), referenceTimeout)
	defer cancel()

	if err := m.reference.Load(ctx); err != nil {
		logger.Log.Error("Failed to load tax mappings", zap.Error(err))
	}
	if !m.engine.conn.IsConnected() {
		return
	}
	if _, err := m.reference.RefreshTaxRates(ctx); err != nil {
		logger.Log.Error("Failed to refresh tax rates", zap.Error(err))
	}
	if _, err := m.reference.CheckAccounts(ctx); err != nil {
		logger.Log.Error("Failed to check accounts", zap.Error(err))
	}
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusRunning {
		return
	}

	logger.Log.Info("Stopping sync manager")
	m.stopSources()
	m.status = StatusIdle
}

// stopSources stops producers before the pool so queued events are flushed.
func (m *Manager) stopSources() {
	if m.scheduler != nil {
		m.scheduler.Stop()
		m.scheduler = nil
	}
	if m.binlogListener != nil {
		m.binlogListener.Stop()
		m.binlogListener = nil
	}
	if m.workerPool != nil {
		m.workerPool.Stop()
		m.workerPool = nil
	}
}

// Pool is nil while the manager is idle.
func (m *Manager) Pool() *WorkerPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workerPool
}

func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:    m.status,
		Binlog:   m.binlogListener != nil,
		InFlight: m.engine.guard.Len(),
	}
	if m.workerPool != nil {
		st.Workers = len(m.workerPool.workers)
		st.QueueDepth = m.workerPool.QueueDepth()
	}
	if m.reference != nil {
		st.TaxMappings = len(m.reference.TaxMappings())
	}
	if m.scheduler != nil && m.scheduler.Enabled() {
		st.Scheduler = true
		next := m.scheduler.NextRun()
		st.NextRun = &next
	}
	return st
}
