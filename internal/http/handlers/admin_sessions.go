package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lucasdeangeli4scale/disparaai/internal/campaign"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type sessionRegistry interface {
	Snapshot(userID string) (session.View, bool)
	Delete(userID string) bool
}

type campaignReader interface {
	Get(ctx context.Context, campaignID string) (campaign.Summary, error)
}

// AdminHandler serves the debug views of sessions and campaigns.
type AdminHandler struct {
	sessions  sessionRegistry
	snapshots session.Snapshotter
	campaigns campaignReader
	logger    *logging.Logger
}

// NewAdminHandler builds the handler. snapshots and campaigns may be nil.
func NewAdminHandler(sessions sessionRegistry, snapshots session.Snapshotter, campaigns campaignReader, logger *logging.Logger) *AdminHandler {
	if sessions == nil {
		panic("handlers: session registry required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{sessions: sessions, snapshots: snapshots, campaigns: campaigns, logger: logger}
}

// GetSession returns the live view of a session, falling back to the last
// published snapshot when this process does not hold it.
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if view, ok := h.sessions.Snapshot(userID); ok {
		writeJSON(w, http.StatusOK, sessionResponse{View: view, Source: "memory"})
		return
	}
	if h.snapshots != nil {
		view, ok, err := h.snapshots.Load(r.Context(), userID)
		if err != nil {
			h.logger.Error("session snapshot lookup failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "snapshot lookup failed")
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, sessionResponse{View: view, Source: "snapshot"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found")
}

type sessionResponse struct {
	session.View
	Source string `json:"source"`
}

// DeleteSession drops a session so the user's next message starts fresh.
func (h *AdminHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !h.sessions.Delete(userID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Info("session deleted by admin", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		writeError(w, http.StatusServiceUnavailable, "campaign store not configured")
		return
	}
	id := chi.URLParam(r, "campaignID")
	summary, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.logger.Error("campaign lookup failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
