package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/mapping"
	"xero-sync-service/internal/metrics"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/xero"
)

// Catalog reads local entities. Getters return (nil, nil) when the entity
// does not exist.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*shop.Product, error)
	GetCustomer(ctx context.Context, id int64) (*shop.Customer, error)
	GetOrder(ctx context.Context, id int64) (*shop.Order, error)
	ListIDs(ctx context.Context, entityType shop.EntityType, f shop.ListFilter) ([]int64, error)
}

// Remote is the slice of the accounting API the engine writes through.
type Remote interface {
	Finder
	GetItem(ctx context.Context, id string) (*xero.Item, error)
	GetContact(ctx context.Context, id string) (*xero.Contact, error)
	GetInvoice(ctx context.Context, id string) (*xero.Invoice, error)
	CreateItem(ctx context.Context, item xero.Item) (*xero.Item, error)
	UpdateItem(ctx context.Context, id string, item xero.Item) (*xero.Item, error)
	CreateContact(ctx context.Context, contact xero.Contact) (*xero.Contact, error)
	UpdateContact(ctx context.Context, id string, contact xero.Contact) (*xero.Contact, error)
	CreateInvoice(ctx context.Context, invoice xero.Invoice) (*xero.Invoice, error)
	UpdateInvoice(ctx context.Context, id string, invoice xero.Invoice) (*xero.Invoice, error)
}

// Connection reports whether a session with the remote side exists.
type Connection interface {
	IsConnected() bool
}

const (
	reasonInFlight      = "sync already in flight"
	reasonRemoteDeleted = "remote resource deleted"
)

// ErrNotLinked is returned when an entity has no remote counterpart yet.
var ErrNotLinked = errors.New("entity is not linked")

// Engine reconciles local entities with their remote counterparts.
type Engine struct {
	cfg      config.SyncConfig
	catalog  Catalog
	remote   Remote
	conn     Connection
	ledger   store.Store
	mapper   *mapping.Mapper
	locator  *Locator
	guard    *Guard
	notifier Notifier
	now      func() time.Time
}

func NewEngine(cfg config.SyncConfig, catalog Catalog, remote Remote, conn Connection, ledger store.Store, mapper *mapping.Mapper, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &Engine{
		cfg:      cfg,
		catalog:  catalog,
		remote:   remote,
		conn:     conn,
		ledger:   ledger,
		mapper:   mapper,
		locator:  NewLocator(remote),
		guard:    NewGuard(),
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sync pushes one local entity to the remote side, creating or updating the
// counterpart and recording the link. It never returns an error; failures
// are reported in the Result and recorded on the link.
func (e *Engine) Sync(ctx context.Context, entityType shop.EntityType, localID int64) (res Result) {
	res = Result{EntityType: entityType, LocalID: localID}

	if !e.guard.TryAcquire(entityType, localID) {
		logger.Log.Debug("Sync already in flight",
			zap.String("entity_type", string(entityType)),
			zap.Int64("local_id", localID))
		return e.skip(res, reasonInFlight)
	}
	defer e.guard.Release(entityType, localID)

	metrics.SyncInFlight.Inc()
	defer metrics.SyncInFlight.Dec()

	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(string(entityType)).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Sync panicked",
				zap.String("entity_type", string(entityType)),
				zap.Int64("local_id", localID),
				zap.Any("panic", r))
			res = e.fail(ctx, res, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	if !e.conn.IsConnected() {
		return e.skip(res, "not connected")
	}

	switch entityType {
	case shop.EntityProduct:
		return e.syncProduct(ctx, res)
	case shop.EntityCustomer:
		return e.syncCustomer(ctx, res)
	case shop.EntityOrder:
		return e.syncOrder(ctx, res)
	}
	return e.failed(ctx, res, fmt.Errorf("unknown entity type %q", entityType))
}

func (e *Engine) syncProduct(ctx context.Context, res Result) Result {
	link, err := e.link(ctx, res)
	if err != nil {
		return e.failed(ctx, res, err)
	}

	p, err := e.catalog.GetProduct(ctx, res.LocalID)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	if p == nil {
		return e.skip(res, "not found")
	}

	item := e.mapper.Item(*p)
	match, err := e.locator.LocateItem(ctx, link, item)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}

	remoteID, action, err := e.upsert(ctx, match,
		func() (string, error) {
			created, err := e.remote.CreateItem(ctx, item)
			if err != nil {
				return "", err
			}
			return created.ItemID, nil
		},
		func(id string) (string, error) {
			updated, err := e.remote.UpdateItem(ctx, id, item)
			if err != nil {
				return "", err
			}
			return updated.ItemID, nil
		})
	res.Action = action
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	return e.succeed(ctx, res, link, remoteID, item.Code, payloadHash(item))
}

func (e *Engine) syncCustomer(ctx context.Context, res Result) Result {
	link, err := e.link(ctx, res)
	if err != nil {
		return e.failed(ctx, res, err)
	}

	c, err := e.catalog.GetCustomer(ctx, res.LocalID)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	if c == nil {
		return e.skip(res, "not found")
	}

	contact := e.mapper.Contact(*c)
	match, err := e.locator.LocateContact(ctx, link, contact)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}

	remoteID, action, err := e.upsert(ctx, match,
		func() (string, error) {
			created, err := e.remote.CreateContact(ctx, contact)
			if err != nil {
				return "", err
			}
			return created.ContactID, nil
		},
		func(id string) (string, error) {
			updated, err := e.remote.UpdateContact(ctx, id, contact)
			if err != nil {
				return "", err
			}
			return updated.ContactID, nil
		})
	res.Action = action
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	return e.succeed(ctx, res, link, remoteID, contact.EmailAddress, payloadHash(contact))
}

func (e *Engine) syncOrder(ctx context.Context, res Result) Result {
	link, err := e.link(ctx, res)
	if err != nil {
		return e.failed(ctx, res, err)
	}

	o, err := e.catalog.GetOrder(ctx, res.LocalID)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	if o == nil {
		return e.skip(res, "not found")
	}
	if !e.invoiceable(o.Status) {
		return e.skip(res, fmt.Sprintf("order status %q is not invoiced", o.Status))
	}

	contactID := e.contactFor(ctx, o.CustomerID)
	invoice := e.mapper.Invoice(*o, contactID)
	match, err := e.locator.LocateInvoice(ctx, link, invoice.Reference)
	if err != nil {
		return e.fail(ctx, res, link, err)
	}

	remoteID, action, err := e.upsert(ctx, match,
		func() (string, error) {
			created, err := e.remote.CreateInvoice(ctx, invoice)
			if err != nil {
				return "", err
			}
			return created.InvoiceID, nil
		},
		func(id string) (string, error) {
			updated, err := e.remote.UpdateInvoice(ctx, id, invoice)
			if err != nil {
				return "", err
			}
			return updated.InvoiceID, nil
		})
	res.Action = action
	if err != nil {
		return e.fail(ctx, res, link, err)
	}
	return e.succeed(ctx, res, link, remoteID, invoice.Reference, payloadHash(invoice))
}

// contactFor returns the remote contact of an order's customer, syncing the
// customer first when it has no link yet. Guest orders and failed customer
// syncs fall back to the inline billing contact.
func (e *Engine) contactFor(ctx context.Context, customerID int64) string {
	if customerID == 0 {
		return ""
	}
	link, err := e.ledger.GetLink(ctx, string(shop.EntityCustomer), customerID)
	if err == nil && link.Linked() {
		return link.RemoteID
	}

	res := e.Sync(ctx, shop.EntityCustomer, customerID)
	if res.Outcome == OutcomeSynced {
		return res.RemoteID
	}
	if res.Reason == reasonInFlight {
		logger.Log.Warn("Customer sync in flight, invoicing with billing contact",
			zap.Int64("customer_id", customerID),
			zap.String("reason", res.Reason))
		return ""
	}
	logger.Log.Info("Invoicing without linked contact",
		zap.Int64("customer_id", customerID),
		zap.String("customer_outcome", string(res.Outcome)),
		zap.String("reason", res.Reason))
	return ""
}

func (e *Engine) invoiceable(status string) bool {
	if len(e.cfg.InvoiceStatuses) == 0 {
		return true
	}
	for _, s := range e.cfg.InvoiceStatuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

// upsert updates the matched resource or creates a new one. A linked
// resource that no longer exists remotely is recreated.
func (e *Engine) upsert(ctx context.Context, match Match, create func() (string, error), update func(id string) (string, error)) (string, Action, error) {
	if match.RemoteID != "" {
		id, err := update(match.RemoteID)
		if err == nil {
			if id == "" {
				id = match.RemoteID
			}
			return id, ActionUpdated, nil
		}
		if match.Source != SourceLink || !xero.IsNotFound(err) {
			return "", ActionUpdated, err
		}
		logger.Log.Warn("Linked resource missing remotely, recreating",
			zap.String("remote_id", match.RemoteID))
	}

	id, err := create()
	if err == nil && id == "" {
		err = errors.New("created resource has no id")
	}
	return id, ActionCreated, err
}

func (e *Engine) link(ctx context.Context, res Result) (*store.SyncLink, error) {
	link, err := e.ledger.GetLink(ctx, string(res.EntityType), res.LocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync link: %w", err)
	}
	if link == nil {
		link = &store.SyncLink{EntityType: string(res.EntityType), LocalID: res.LocalID}
	}
	return link, nil
}

func (e *Engine) succeed(ctx context.Context, res Result, link *store.SyncLink, remoteID, naturalKey, hash string) Result {
	if link.PayloadHash == hash && link.RemoteID == remoteID {
		logger.Log.Debug("Payload unchanged since last sync",
			zap.String("entity_type", string(res.EntityType)),
			zap.Int64("local_id", res.LocalID))
	}

	link.NaturalKey = naturalKey
	link.PayloadHash = hash
	link.MarkSynced(remoteID, e.now())
	res.RemoteID = remoteID

	if err := e.ledger.SaveLink(ctx, link); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("failed to record sync link: %w", err)
		e.notifier.Failed(ctx, e.event(res))
		return res
	}

	res.Outcome = OutcomeSynced
	e.notifier.Synced(ctx, e.event(res))
	return res
}

// fail records the error on the link, keeping every other field of it. A
// nil link is read back from the ledger first; when that read fails nothing
// is written. Losing the session mid-sync is a skip, not a failure.
func (e *Engine) fail(ctx context.Context, res Result, link *store.SyncLink, err error) Result {
	if errors.Is(err, auth.ErrNotConnected) {
		return e.skip(res, "not connected")
	}

	if link == nil {
		stored, getErr := e.link(ctx, res)
		if getErr != nil {
			logger.Log.Error("Failed to read sync link, failure not recorded",
				zap.String("entity_type", string(res.EntityType)),
				zap.Int64("local_id", res.LocalID),
				zap.Error(getErr))
			return e.failed(ctx, res, err)
		}
		link = stored
	}

	res.RemoteID = link.RemoteID
	link.MarkFailed(err.Error())
	if saveErr := e.ledger.SaveLink(ctx, link); saveErr != nil {
		logger.Log.Error("Failed to record sync failure",
			zap.String("entity_type", string(res.EntityType)),
			zap.Int64("local_id", res.LocalID),
			zap.Error(saveErr))
	}
	return e.failed(ctx, res, err)
}

// failed reports a failure without touching the ledger.
func (e *Engine) failed(ctx context.Context, res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	e.notifier.Failed(ctx, e.event(res))
	return res
}

func (e *Engine) skip(res Result, reason string) Result {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	metrics.SyncTotal.WithLabelValues(string(res.EntityType), string(OutcomeSkipped), string(res.Action)).Inc()
	return res
}

func (e *Engine) event(res Result) Event {
	ev := Event{
		EntityType: res.EntityType,
		LocalID:    res.LocalID,
		RemoteID:   res.RemoteID,
		Action:     res.Action,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// AutoSyncEnabled reports whether change-triggered sync is on for the type.
func (e *Engine) AutoSyncEnabled(entityType shop.EntityType) bool {
	switch entityType {
	case shop.EntityProduct:
		return e.cfg.AutoSync.Products
	case shop.EntityCustomer:
		return e.cfg.AutoSync.Customers
	case shop.EntityOrder:
		return e.cfg.AutoSync.Orders
	}
	return false
}

// OnEntityCreated is the host hook for a newly created local entity.
func (e *Engine) OnEntityCreated(ctx context.Context, entityType shop.EntityType, localID int64) Result {
	return e.onChange(ctx, entityType, localID)
}

// OnEntityUpdated is the host hook for a modified local entity.
func (e *Engine) OnEntityUpdated(ctx context.Context, entityType shop.EntityType, localID int64) Result {
	return e.onChange(ctx, entityType, localID)
}

func (e *Engine) onChange(ctx context.Context, entityType shop.EntityType, localID int64) Result {
	if !e.AutoSyncEnabled(entityType) {
		return Result{
			EntityType: entityType,
			LocalID:    localID,
			Outcome:    OutcomeSkipped,
			Reason:     "auto-sync disabled",
		}
	}
	return e.Sync(ctx, entityType, localID)
}

// SyncAll syncs the entities of one type in ascending id order and records
// the run. Unless opts.Force is set, entities that already have a remote
// counterpart and synced cleanly last time are left out.
func (e *Engine) SyncAll(ctx context.Context, entityType shop.EntityType, opts BulkOptions) (Summary, error) {
	if !e.conn.IsConnected() {
		return Summary{}, auth.ErrNotConnected
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.BulkPageSize
	}

	summary := Summary{
		RunID:      newRunID(),
		EntityType: entityType,
		Trigger:    opts.Trigger,
		StartedAt:  e.now(),
	}
	run := &store.SyncRun{
		ID:         summary.RunID,
		EntityType: string(entityType),
		Trigger:    opts.Trigger,
		StartedAt:  summary.StartedAt,
		Status:     store.RunStatusRunning,
	}
	if err := e.ledger.CreateSyncRun(ctx, run); err != nil {
		return summary, fmt.Errorf("failed to record sync run: %w", err)
	}

	logger.Log.Info("Bulk sync started",
		zap.String("run_id", summary.RunID),
		zap.String("entity_type", string(entityType)),
		zap.String("trigger", opts.Trigger),
		zap.Bool("force", opts.Force))

	ids, err := e.pendingIDs(ctx, entityType, limit, opts.Force)
	if err == nil {
		summary.Considered = len(ids)
		for _, id := range ids {
			if err = ctx.Err(); err != nil {
				break
			}
			summary.add(e.Sync(ctx, entityType, id))
		}
	}

	summary.CompletedAt = e.now()
	run.CompletedAt.Time, run.CompletedAt.Valid = summary.CompletedAt, true
	run.Synced, run.Failed, run.Skipped = summary.Synced, summary.Failed, summary.Skipped
	run.Status = store.RunStatusCompleted
	if err != nil {
		run.Status = store.RunStatusFailed
		run.ErrorMessage.String, run.ErrorMessage.Valid = err.Error(), true
	}

	// The run is closed even if the caller's context is done.
	if updateErr := e.ledger.UpdateSyncRun(context.WithoutCancel(ctx), run); updateErr != nil {
		logger.Log.Error("Failed to update sync run", zap.String("run_id", run.ID), zap.Error(updateErr))
	}
	metrics.BulkRunsTotal.WithLabelValues(string(entityType), opts.Trigger, run.Status).Inc()

	logger.Log.Info("Bulk sync finished",
		zap.String("run_id", summary.RunID),
		zap.String("status", run.Status),
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	return summary, err
}

// pendingIDs pages through the catalog until limit ids are collected. Unless
// force is set, settled entities are left out; links whose last sync failed
// are retried.
func (e *Engine) pendingIDs(ctx context.Context, entityType shop.EntityType, limit int, force bool) ([]int64, error) {
	filter := shop.ListFilter{Limit: limit}
	if entityType == shop.EntityOrder {
		filter.Statuses = e.cfg.InvoiceStatuses
	}

	var ids []int64
	for len(ids) < limit {
		page, err := e.catalog.ListIDs(ctx, entityType, filter)
		if err != nil {
			return ids, err
		}
		if len(page) == 0 {
			break
		}

		settled := map[int64]bool{}
		if !force {
			settled, err = e.ledger.SettledIDs(ctx, string(entityType), page)
			if err != nil {
				return ids, err
			}
		}
		for _, id := range page {
			if !settled[id] && len(ids) < limit {
				ids = append(ids, id)
			}
		}

		if len(page) < filter.Limit {
			break
		}
		filter.AfterID = page[len(page)-1]
	}
	return ids, nil
}

// HandleRemoteChange applies a change reported by the remote side. Only
// deletions change local state: the link loses its remote id so the next sync
// creates a fresh counterpart.
func (e *Engine) HandleRemoteChange(ctx context.Context, change RemoteChange) error {
	entityType, err := entityTypeForResource(change.ResourceType)
	if err != nil {
		return err
	}

	if !strings.EqualFold(change.EventType, "DELETE") {
		logger.Log.Info("Remote change received",
			zap.String("resource_type", change.ResourceType),
			zap.String("resource_id", change.ResourceID),
			zap.String("event_type", change.EventType))
		return nil
	}

	link, err := e.ledger.GetLinkByRemoteID(ctx, string(entityType), change.ResourceID)
	if err != nil {
		return err
	}
	if link == nil {
		logger.Log.Debug("Remote deletion for unlinked resource", zap.String("resource_id", change.ResourceID))
		return nil
	}

	return e.resetLink(ctx, link)
}

// resetLink drops the remote id of a link whose resource is gone so the next
// sync creates a fresh counterpart.
func (e *Engine) resetLink(ctx context.Context, link *store.SyncLink) error {
	remoteID := link.RemoteID
	link.RemoteID = ""
	link.MarkFailed(reasonRemoteDeleted)
	if err := e.ledger.SaveLink(ctx, link); err != nil {
		return err
	}
	logger.Log.Info("Link reset after remote deletion",
		zap.String("entity_type", link.EntityType),
		zap.Int64("local_id", link.LocalID),
		zap.String("resource_id", remoteID))
	return nil
}

// LinkCheck is the result of looking up a linked resource remotely.
type LinkCheck struct {
	EntityType shop.EntityType `json:"entity_type"`
	LocalID    int64           `json:"local_id"`
	RemoteID   string          `json:"remote_id"`
	Exists     bool            `json:"exists"`
	Reset      bool            `json:"reset"`
}

// VerifyLink fetches the linked resource. A resource the remote side no
// longer has resets the link, as a remote deletion would.
func (e *Engine) VerifyLink(ctx context.Context, entityType shop.EntityType, localID int64) (LinkCheck, error) {
	check := LinkCheck{EntityType: entityType, LocalID: localID}
	if !e.conn.IsConnected() {
		return check, auth.ErrNotConnected
	}
	link, err := e.ledger.GetLink(ctx, string(entityType), localID)
	if err != nil {
		return check, err
	}
	if !link.Linked() {
		return check, ErrNotLinked
	}
	check.RemoteID = link.RemoteID

	switch entityType {
	case shop.EntityProduct:
		_, err = e.remote.GetItem(ctx, link.RemoteID)
	case shop.EntityCustomer:
		_, err = e.remote.GetContact(ctx, link.RemoteID)
	case shop.EntityOrder:
		_, err = e.remote.GetInvoice(ctx, link.RemoteID)
	default:
		return check, fmt.Errorf("unknown entity type %q", entityType)
	}

	if xero.IsNotFound(err) {
		if err := e.resetLink(ctx, link); err != nil {
			return check, err
		}
		check.Reset = true
		return check, nil
	}
	if err != nil {
		return check, err
	}
	check.Exists = true
	return check, nil
}

func entityTypeForResource(resourceType string) (shop.EntityType, error) {
	switch strings.ToUpper(resourceType) {
	case "ITEM", "ITEMS":
		return shop.EntityProduct, nil
	case "CONTACT", "CONTACTS":
		return shop.EntityCustomer, nil
	case "INVOICE", "INVOICES":
		return shop.EntityOrder, nil
	}
	return "", fmt.Errorf("unknown resource type %q", resourceType)
}

// ResetLinks forgets every link of the type, or of all types when
// entityType is empty.
func (e *Engine) ResetLinks(ctx context.Context, entityType shop.EntityType) error {
	if err := e.ledger.DeleteLinks(ctx, string(entityType)); err != nil {
		return err
	}
	logger.Log.Warn("Sync links reset", zap.String("entity_type", string(entityType)))
	return nil
}

// OnDisconnect runs after the session is dropped.
func (e *Engine) OnDisconnect(ctx context.Context) error {
	if !e.cfg.ResetLinksOnDisconnect {
		return nil
	}
	return e.ResetLinks(ctx, "")
}
