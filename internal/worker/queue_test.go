package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/oncallhq/mmbridge/internal/mattermost"
	"github.com/oncallhq/mmbridge/internal/store"
	"github.com/oncallhq/mmbridge/internal/sync"
)

type fakeLister struct {
	channels []mattermost.PublicChannel
}

func (f *fakeLister) GetPublicChannels(_ context.Context) []mattermost.PublicChannel {
	return f.channels
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// End to end: publish a sync request and watch the store converge.
func TestQueueRunsChannelSync(t *testing.T) {
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	org, err := st.CreateOrganization(ctx, "Test Org")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	lister := &fakeLister{channels: []mattermost.PublicChannel{
		{ChannelID: "A", ChannelName: "alerts"},
		{ChannelID: "B", ChannelName: "backend"},
	}}
	syncer := sync.NewSyncer(st, lister, sync.NewMemoryMarker(), testLogger())

	queue, err := NewQueue(syncer, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go queue.Run(runCtx)
	defer queue.Close()

	select {
	case <-queue.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	if err := queue.EnqueueChannelSync(ctx, org.ID); err != nil {
		t.Fatalf("EnqueueChannelSync: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := st.CountChannels(ctx, org.ID)
		if err != nil {
			t.Fatalf("CountChannels: %v", err)
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("channels never converged, have %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	channels, err := st.ListChannels(ctx, org.ID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if channels[0].ChannelName != "alerts" || channels[1].ChannelName != "backend" {
		t.Errorf("unexpected channels: %+v", channels)
	}
}

// A payload that cannot be decoded is dropped, not retried, and does not
// block later messages on the topic.
func TestQueueDropsMalformedPayload(t *testing.T) {
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	org, err := st.CreateOrganization(ctx, "Test Org")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	lister := &fakeLister{channels: []mattermost.PublicChannel{
		{ChannelID: "A", ChannelName: "alerts"},
	}}
	syncer := sync.NewSyncer(st, lister, sync.NewMemoryMarker(), testLogger())

	queue, err := NewQueue(syncer, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go queue.Run(runCtx)
	defer queue.Close()

	select {
	case <-queue.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	raw := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if err := queue.pubSub.Publish(TopicChannelSync, raw); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := queue.EnqueueChannelSync(ctx, org.ID); err != nil {
		t.Fatalf("EnqueueChannelSync: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := st.CountChannels(ctx, org.ID)
		if err != nil {
			t.Fatalf("CountChannels: %v", err)
		}
		if n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("valid message after malformed one never processed, have %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
