package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/logger"
)

// Connect starts the authorization flow. Browsers asking with ?redirect=true
// are sent straight to the consent page.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	url, _, err := h.session.AuthorizationURL()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if redirect, _ := strconv.ParseBool(r.URL.Query().Get("redirect")); redirect {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}

	if err := h.session.VerifyState(q.Get("state")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	state, err := h.session.ExchangeCode(r.Context(), code)
	if err != nil {
		logger.Log.Error("Authorization failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, auth.ErrNoTenant) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected":   true,
		"tenant_id":   state.TenantID,
		"tenant_name": state.TenantName,
	})
}

func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.syncer.OnDisconnect(r.Context()); err != nil {
		logger.Log.Error("Failed to reset links after disconnect", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}
