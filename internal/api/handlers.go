package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/sync"
)

const maxListLimit = 500

func entityParam(w http.ResponseWriter, r *http.Request) (shop.EntityType, bool) {
	entityType, err := shop.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return entityType, true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeResult(w http.ResponseWriter, res sync.Result) {
	status := http.StatusOK
	if res.Outcome == sync.OutcomeFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, newResultResponse(res))
}

func (h *Handler) SyncEntity(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	writeResult(w, h.syncer.Sync(r.Context(), entityType, id))
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityParam(w, r)
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	opts := sync.BulkOptions{
		Limit:   queryInt(r, "limit", 0),
		Force:   force,
		Trigger: sync.TriggerManual,
	}

	summary, err := h.syncer.SyncAll(r.Context(), entityType, opts)
	switch {
	case errors.Is(err, auth.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		logger.Log.Error("Bulk sync failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("entity_type", string(entityType)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

// EntityChanged lets the shop report a created or updated entity. The
// action query parameter defaults to "updated".
func (h *Handler) EntityChanged(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	switch action := r.URL.Query().Get("action"); action {
	case "created":
		writeResult(w, h.syncer.OnEntityCreated(r.Context(), entityType, id))
	case "", "updated":
		writeResult(w, h.syncer.OnEntityUpdated(r.Context(), entityType, id))
	default:
		writeError(w, http.StatusBadRequest, "action must be created or updated")
	}
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	link, err := h.ledger.GetLink(r.Context(), string(entityType), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	writeJSON(w, http.StatusOK, newLinkResponse(link))
}

// VerifyLink checks that the linked resource still exists remotely.
func (h *Handler) VerifyLink(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	check, err := h.syncer.VerifyLink(r.Context(), entityType, id)
	switch {
	case errors.Is(err, sync.ErrNotLinked):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, check)
	}
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	var entityType string
	if v := r.URL.Query().Get("entity"); v != "" {
		parsed, err := shop.ParseEntityType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entityType = string(parsed)
	}

	limit := min(queryInt(r, "limit", 100), maxListLimit)
	links, err := h.ledger.ListLinks(r.Context(), entityType, limit, queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, newLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetLinks forgets links of one type, or of every type for "all".
func (h *Handler) ResetLinks(w http.ResponseWriter, r *http.Request) {
	var entityType shop.EntityType
	if chi.URLParam(r, "entity") != "all" {
		var ok bool
		if entityType, ok = entityParam(w, r); !ok {
			return
		}
	}

	if err := h.syncer.ResetLinks(r.Context(), entityType); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", 20), maxListLimit)
	runs, err := h.ledger.GetSyncRuns(r.Context(), limit, queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// RemoteEvents applies a batch of remote changes relayed by the host.
func (h *Handler) RemoteEvents(w http.ResponseWriter, r *http.Request) {
	var changes []sync.RemoteChange
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var failed []string
	for _, change := range changes {
		if err := h.syncer.HandleRemoteChange(r.Context(), change); err != nil {
			logger.Log.Warn("Remote change not applied",
				zap.String("request_id", RequestIDFrom(r.Context())),
				zap.String("resource_id", change.ResourceID),
				zap.Error(err))
			failed = append(failed, change.ResourceID)
		}
	}

	if len(failed) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "not applied: "+strings.Join(failed, ", "))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": len(changes)})
}

func (h *Handler) CheckAccounts(w http.ResponseWriter, r *http.Request) {
	check, err := h.reference.CheckAccounts(r.Context())
	if err != nil {
		writeReferenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handler) TaxMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reference.TaxMappings())
}

func (h *Handler) RefreshTaxRates(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.reference.RefreshTaxRates(r.Context())
	if err != nil {
		writeReferenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func writeReferenceError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrNotConnected) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection": h.session.Status(),
		"sync":       h.monitor.GetStatus(),
	})
}
