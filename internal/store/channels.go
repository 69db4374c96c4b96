package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/oncallhq/mmbridge/internal/model"
)

// bulkBatchSize caps how many rows a single INSERT/UPDATE/DELETE statement
// touches during reconciliation.
const bulkBatchSize = 5000

// ListChannels returns all channel rows for an organization ordered by
// channel name.
func (s *Store) ListChannels(ctx context.Context, orgID int64) ([]model.Channel, error) {
	channels := []model.Channel{}
	err := s.db.SelectContext(ctx, &channels,
		`SELECT * FROM channels WHERE organization_id = ? ORDER BY channel_name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// GetChannelByPublicID fetches one channel scoped to an organization.
func (s *Store) GetChannelByPublicID(ctx context.Context, orgID int64, publicID string) (*model.Channel, error) {
	var ch model.Channel
	err := s.db.GetContext(ctx, &ch,
		`SELECT * FROM channels WHERE organization_id = ? AND public_id = ?`, orgID, publicID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

// CountChannels returns the number of channel rows for an organization.
func (s *Store) CountChannels(ctx context.Context, orgID int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM channels WHERE organization_id = ?`, orgID); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return n, nil
}

// DeleteAllChannels removes every channel row for an organization. Used on
// disconnect.
func (s *Store) DeleteAllChannels(ctx context.Context, orgID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE organization_id = ?`, orgID)
	if err != nil {
		return 0, fmt.Errorf("delete channels: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ChannelUpsert is one remote channel as seen by the sync job.
type ChannelUpsert struct {
	ChannelID   string
	ChannelName string
}

// ReconcileChannels converges local channel rows for one organization
// toward the given remote channel list: missing rows are created, rows
// present on both sides get their name refreshed, rows absent remotely are
// deleted. The whole reconciliation runs in a single transaction so a
// failure in any batch leaves local state untouched rather than partially
// converged.
func (s *Store) ReconcileChannels(ctx context.Context, orgID int64, remote []ChannelUpsert) error {
	existing, err := s.ListChannels(ctx, orgID)
	if err != nil {
		return err
	}

	existingIDs := make(map[string]struct{}, len(existing))
	for _, ch := range existing {
		existingIDs[ch.ChannelID] = struct{}{}
	}
	remoteByID := make(map[string]ChannelUpsert, len(remote))
	for _, r := range remote {
		remoteByID[r.ChannelID] = r
	}

	var toCreate, toUpdate []ChannelUpsert
	for _, r := range remote {
		if _, ok := existingIDs[r.ChannelID]; ok {
			toUpdate = append(toUpdate, r)
		} else {
			toCreate = append(toCreate, r)
		}
	}
	var toDelete []string
	for id := range existingIDs {
		if _, ok := remoteByID[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertChannelBatches(ctx, tx, orgID, toCreate); err != nil {
		return err
	}
	if err := updateChannelNameBatches(ctx, tx, orgID, toUpdate); err != nil {
		return err
	}
	if err := deleteChannelBatches(ctx, tx, orgID, toDelete); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertChannelBatches(ctx context.Context, tx *sqlx.Tx, orgID int64, rows []ChannelUpsert) error {
	for start := 0; start < len(rows); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(rows))
		for _, r := range rows[start:end] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO channels (public_id, organization_id, channel_id, channel_name)
				 VALUES (?, ?, ?, ?)`,
				uuid.NewString(), orgID, r.ChannelID, r.ChannelName); err != nil {
				return fmt.Errorf("insert channel %s: %w", r.ChannelID, err)
			}
		}
	}
	return nil
}

func updateChannelNameBatches(ctx context.Context, tx *sqlx.Tx, orgID int64, rows []ChannelUpsert) error {
	for start := 0; start < len(rows); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(rows))
		for _, r := range rows[start:end] {
			if _, err := tx.ExecContext(ctx,
				`UPDATE channels SET channel_name = ?, updated_at = CURRENT_TIMESTAMP
				 WHERE organization_id = ? AND channel_id = ?`,
				r.ChannelName, orgID, r.ChannelID); err != nil {
				return fmt.Errorf("update channel %s: %w", r.ChannelID, err)
			}
		}
	}
	return nil
}

func deleteChannelBatches(ctx context.Context, tx *sqlx.Tx, orgID int64, channelIDs []string) error {
	for start := 0; start < len(channelIDs); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(channelIDs))
		batch := channelIDs[start:end]

		query, args, err := sqlx.In(
			`DELETE FROM channels WHERE organization_id = ? AND channel_id IN (?)`,
			orgID, batch)
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete channels: %w", err)
		}
	}
	return nil
}
