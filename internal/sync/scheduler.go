package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/shop"
)

// BulkSyncer runs bulk syncs and knows which types are enabled.
type BulkSyncer interface {
	SyncAll(ctx context.Context, entityType shop.EntityType, opts BulkOptions) (Summary, error)
	AutoSyncEnabled(entityType shop.EntityType) bool
}

// scheduledOrder puts contacts ahead of the invoices that reference them.
var scheduledOrder = []shop.EntityType{shop.EntityCustomer, shop.EntityProduct, shop.EntityOrder}

type Scheduler struct {
	cfg     config.SchedulerConfig
	syncer  BulkSyncer
	cron    *cron.Cron
	entryID cron.EntryID
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, syncer BulkSyncer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		syncer: syncer,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask schedules fn on spec next to the bulk sync. Tasks run whether or
// not the bulk sync is enabled. Add tasks before Start.
func (s *Scheduler) AddTask(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		err := fn(s.ctx)
		switch {
		case errors.Is(err, auth.ErrNotConnected):
			logger.Log.Info("Not connected, skipping scheduled task", zap.String("task", name))
		case err != nil:
			logger.Log.Error("Scheduled task failed", zap.String("task", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	logger.Log.Info("Scheduled task", zap.String("task", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() error {
	if s.cfg.Enabled {
		logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

		id, err := s.cron.AddFunc(s.cfg.Interval, func() {
			s.triggerSync()
		})
		if err != nil {
			return err
		}
		s.entryID = id
	} else {
		logger.Log.Info("Scheduled sync is disabled")
	}

	if len(s.cron.Entries()) > 0 {
		s.cron.Start()
	}
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Log.Info("Stopped scheduler")
}

// Enabled reports whether a job is scheduled.
func (s *Scheduler) Enabled() bool {
	return s.entryID != 0
}

// NextRun returns the zero time when nothing is scheduled.
func (s *Scheduler) NextRun() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) triggerSync() {
	if !s.running.CompareAndSwap(false, true) {
		logger.Log.Info("Scheduled sync still running, skipping")
		return
	}
	defer s.running.Store(false)

	logger.Log.Info("Triggering scheduled sync")

	for _, entityType := range scheduledOrder {
		if !s.syncer.AutoSyncEnabled(entityType) {
			continue
		}
		_, err := s.syncer.SyncAll(s.ctx, entityType, BulkOptions{Trigger: TriggerScheduled})
		if errors.Is(err, auth.ErrNotConnected) {
			logger.Log.Info("Not connected, skipping scheduled sync")
			return
		}
		if err != nil {
			logger.Log.Error("Scheduled sync failed",
				zap.String("entity_type", string(entityType)),
				zap.Error(err))
		}
		if s.ctx.Err() != nil {
			return
		}
	}
}
