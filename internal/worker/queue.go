// Package worker is the background task queue for sync jobs. It runs a
// Watermill router over an in-process pub/sub channel with at-least-once
// delivery: a failed handler is retried with exponential backoff, so a
// transient Mattermost or store error only delays convergence.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/oncallhq/mmbridge/internal/sync"
)

// TopicChannelSync carries channel sync requests, one organization each.
const TopicChannelSync = "channels.sync"

// maxRetries is effectively unlimited for the backoff schedule used; a job
// that still fails after this many attempts needs operator attention anyway.
const maxRetries = 1000

type channelSyncRequest struct {
	OrganizationID int64 `json:"organization_id"`
}

// Queue owns the pub/sub channel and the message router consuming it.
type Queue struct {
	pubSub *gochannel.GoChannel
	router *message.Router
	logger *slog.Logger
}

// NewQueue wires the router with its retry policy and registers the
// channel sync handler. Call Run to start consuming.
func NewQueue(syncer *sync.Syncer, logger *slog.Logger) (*Queue, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      maxRetries,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2,
			Logger:          wmLogger,
		}.Middleware,
	)

	router.AddNoPublisherHandler(
		"channel_sync",
		TopicChannelSync,
		pubSub,
		func(msg *message.Message) error {
			var req channelSyncRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				// Malformed payloads can never succeed; drop instead of retrying.
				logger.Error("dropping malformed sync request", "error", err)
				return nil
			}
			return syncer.SyncChannels(msg.Context(), req.OrganizationID)
		},
	)

	return &Queue{pubSub: pubSub, router: router, logger: logger}, nil
}

// EnqueueChannelSync publishes one sync request for an organization.
func (q *Queue) EnqueueChannelSync(ctx context.Context, orgID int64) error {
	payload, err := json.Marshal(channelSyncRequest{OrganizationID: orgID})
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}
	// The message deliberately does not carry the caller's context: the
	// job must outlive the HTTP request that enqueued it.
	msg := message.NewMessage(watermill.NewUUID(), payload)

	if err := q.pubSub.Publish(TopicChannelSync, msg); err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}
	q.logger.Info("enqueued channel sync", "organization_id", orgID)
	return nil
}

// Run starts the router and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	return q.router.Run(ctx)
}

// Running returns a channel closed once the router is ready to consume.
func (q *Queue) Running() chan struct{} {
	return q.router.Running()
}

// Close shuts down the router and the pub/sub channel.
func (q *Queue) Close() error {
	if err := q.router.Close(); err != nil {
		return err
	}
	return q.pubSub.Close()
}
