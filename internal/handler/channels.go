package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oncallhq/mmbridge/internal/server/middleware"
	"github.com/oncallhq/mmbridge/internal/store"
)

// Enqueuer is the slice of the worker queue the handler needs.
type Enqueuer interface {
	EnqueueChannelSync(ctx context.Context, orgID int64) error
}

// ChannelHandler serves the host-session endpoints: connecting and
// disconnecting an organization's Mattermost integration and listing the
// synced channels.
type ChannelHandler struct {
	store *store.Store
	queue Enqueuer
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(s *store.Store, queue Enqueuer) *ChannelHandler {
	return &ChannelHandler{store: s, queue: queue}
}

// Connect handles POST /mattermost/connect. Connecting twice is rejected:
// existing channel rows mean a sync already ran (or is running), and the
// periodic job keeps them converged from then on.
func (h *ChannelHandler) Connect(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	count, err := h.store.CountChannels(r.Context(), session.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check existing channels")
		return
	}
	if count > 0 {
		writeError(w, http.StatusBadRequest, "Organization already has Mattermost channels connected")
		return
	}

	if err := h.queue.EnqueueChannelSync(r.Context(), session.OrganizationID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to schedule channel sync")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "sync scheduled"})
}

// Disconnect handles POST /mattermost/disconnect: all channel rows for the
// organization are removed and the action is recorded in the audit log.
func (h *ChannelHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	deleted, err := h.store.DeleteAllChannels(r.Context(), session.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to remove channels")
		return
	}

	// The disconnect itself succeeded; a lost audit row is not worth a 500.
	detail := fmt.Sprintf("removed %d channels", deleted)
	h.store.RecordAuditEvent(r.Context(), session.OrganizationID, "mattermost_disconnect", detail)

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// ListChannels handles GET /mattermost/channels, scoped to the caller's
// organization.
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	channels, err := h.store.ListChannels(r.Context(), session.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list channels")
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// GetChannel handles GET /mattermost/channels/{channelID} by public ID.
func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	publicID := chi.URLParam(r, "channelID")

	ch, err := h.store.GetChannelByPublicID(r.Context(), session.OrganizationID, publicID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch channel")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
