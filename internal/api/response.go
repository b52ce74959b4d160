package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/sync"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt returns def when the parameter is absent or not a positive number.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

type resultResponse struct {
	EntityType string `json:"entity_type"`
	LocalID    int64  `json:"local_id"`
	Outcome    string `json:"outcome"`
	Action     string `json:"action,omitempty"`
	RemoteID   string `json:"remote_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newResultResponse(res sync.Result) resultResponse {
	out := resultResponse{
		EntityType: string(res.EntityType),
		LocalID:    res.LocalID,
		Outcome:    string(res.Outcome),
		Action:     string(res.Action),
		RemoteID:   res.RemoteID,
		Reason:     res.Reason,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

type linkResponse struct {
	EntityType   string     `json:"entity_type"`
	LocalID      int64      `json:"local_id"`
	RemoteID     string     `json:"remote_id"`
	NaturalKey   string     `json:"natural_key"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func newLinkResponse(l *store.SyncLink) linkResponse {
	out := linkResponse{
		EntityType: l.EntityType,
		LocalID:    l.LocalID,
		RemoteID:   l.RemoteID,
		NaturalKey: l.NaturalKey,
		LastError:  l.LastError.String,
		UpdatedAt:  l.UpdatedAt,
	}
	if l.LastSyncedAt.Valid {
		t := l.LastSyncedAt.Time
		out.LastSyncedAt = &t
	}
	return out
}

type runResponse struct {
	ID          string     `json:"id"`
	EntityType  string     `json:"entity_type"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Synced      int        `json:"synced"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
}

func newRunResponse(run *store.SyncRun) runResponse {
	out := runResponse{
		ID:         run.ID,
		EntityType: run.EntityType,
		Trigger:    run.Trigger,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		Synced:     run.Synced,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
		Error:      run.ErrorMessage.String,
	}
	if run.CompletedAt.Valid {
		t := run.CompletedAt.Time
		out.CompletedAt = &t
	}
	return out
}
