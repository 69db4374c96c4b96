// Package sync converges local channel rows with the Mattermost server's
// public channel list, one organization at a time.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oncallhq/mmbridge/internal/mattermost"
	"github.com/oncallhq/mmbridge/internal/store"
)

// markerTTL bounds how long a sync run may hold its organization's marker.
// A crashed run unblocks the organization once the TTL lapses.
const markerTTL = 15 * time.Minute

// ChannelLister is the slice of the Mattermost client the syncer needs.
type ChannelLister interface {
	GetPublicChannels(ctx context.Context) []mattermost.PublicChannel
}

// Syncer runs the channel reconciliation job. The whole operation is
// idempotent: re-running against an unchanged remote list is a no-op, and
// two overlapping runs produce the same converged state.
type Syncer struct {
	store  *store.Store
	client ChannelLister
	marker Marker
	logger *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(s *store.Store, client ChannelLister, marker Marker, logger *slog.Logger) *Syncer {
	return &Syncer{store: s, client: client, marker: marker, logger: logger}
}

// markerKey is the per-organization mutual-exclusion key.
func markerKey(orgID int64) string {
	return fmt.Sprintf("mattermost:populate_channels:%d", orgID)
}

// SyncChannels fetches the organization's remote public channels and
// converges the local rows to match. When another run holds the marker the
// call logs and returns nil so the queue does not retry a job that is
// already being done. Any other failure propagates for retry.
func (s *Syncer) SyncChannels(ctx context.Context, orgID int64) error {
	runID := uuid.NewString()
	key := markerKey(orgID)

	acquired, err := s.marker.Acquire(ctx, key, runID, markerTTL)
	if err != nil {
		return fmt.Errorf("acquire sync marker: %w", err)
	}
	if !acquired {
		s.logger.Info("skipping channel sync, another run in flight",
			"organization_id", orgID, "run_id", runID)
		return nil
	}

	remote := s.client.GetPublicChannels(ctx)

	upserts := make([]store.ChannelUpsert, 0, len(remote))
	for _, ch := range remote {
		upserts = append(upserts, store.ChannelUpsert{
			ChannelID:   ch.ChannelID,
			ChannelName: ch.ChannelName,
		})
	}

	if err := s.store.ReconcileChannels(ctx, orgID, upserts); err != nil {
		// Marker intentionally left in place: the queue retries with
		// backoff, and the TTL reclaims it if retries stop.
		return fmt.Errorf("reconcile channels for organization %d: %w", orgID, err)
	}

	if err := s.marker.Release(ctx, key, runID); err != nil {
		s.logger.Warn("failed to release sync marker, ttl will reclaim it",
			"organization_id", orgID, "error", err)
	}

	s.logger.Info("channel sync complete",
		"organization_id", orgID, "remote_channels", len(remote), "run_id", runID)
	return nil
}
