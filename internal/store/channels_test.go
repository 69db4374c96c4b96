package store

import (
	"context"
	"sort"
	"testing"
)

func currentState(t *testing.T, s *Store, orgID int64) map[string]string {
	t.Helper()
	rows, err := s.ListChannels(context.Background(), orgID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	state := make(map[string]string, len(rows))
	for _, ch := range rows {
		state[ch.ChannelID] = ch.ChannelName
	}
	return state
}

func TestReconcileConvergence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)

	// Local starts as {A, B, C}.
	seed := []ChannelUpsert{
		{ChannelID: "A", ChannelName: "alerts"},
		{ChannelID: "B", ChannelName: "backend"},
		{ChannelID: "C", ChannelName: "core"},
	}
	if err := s.ReconcileChannels(ctx, orgID, seed); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	// Remote is {B (renamed), C (renamed), D}.
	remote := []ChannelUpsert{
		{ChannelID: "B", ChannelName: "backend-team"},
		{ChannelID: "C", ChannelName: "core-team"},
		{ChannelID: "D", ChannelName: "deploys"},
	}
	if err := s.ReconcileChannels(ctx, orgID, remote); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	state := currentState(t, s, orgID)
	want := map[string]string{"B": "backend-team", "C": "core-team", "D": "deploys"}
	if len(state) != len(want) {
		t.Fatalf("state: got %v, want %v", state, want)
	}
	for id, name := range want {
		if state[id] != name {
			t.Errorf("channel %s: got name %q, want %q", id, state[id], name)
		}
	}

	// Idempotent: immediate re-run is a no-op.
	if err := s.ReconcileChannels(ctx, orgID, remote); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	again := currentState(t, s, orgID)
	if len(again) != len(want) {
		t.Fatalf("after re-run: got %v, want %v", again, want)
	}
}

func TestReconcileEmptyRemoteDeletesAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)

	seed := []ChannelUpsert{{ChannelID: "A", ChannelName: "alerts"}}
	if err := s.ReconcileChannels(ctx, orgID, seed); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}
	if err := s.ReconcileChannels(ctx, orgID, nil); err != nil {
		t.Fatalf("empty reconcile: %v", err)
	}

	n, err := s.CountChannels(ctx, orgID)
	if err != nil {
		t.Fatalf("CountChannels: %v", err)
	}
	if n != 0 {
		t.Errorf("channels remaining: got %d, want 0", n)
	}
}

func TestReconcileScopedToOrganization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)
	org2, err := s.CreateOrganization(ctx, "Other")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	if err := s.ReconcileChannels(ctx, orgID, []ChannelUpsert{{ChannelID: "X", ChannelName: "x"}}); err != nil {
		t.Fatalf("reconcile org1: %v", err)
	}
	if err := s.ReconcileChannels(ctx, org2.ID, []ChannelUpsert{{ChannelID: "X", ChannelName: "other-x"}}); err != nil {
		t.Fatalf("reconcile org2: %v", err)
	}

	// Same remote channel ID may exist under two organizations.
	if got := currentState(t, s, orgID)["X"]; got != "x" {
		t.Errorf("org1 X: got %q, want %q", got, "x")
	}
	if got := currentState(t, s, org2.ID)["X"]; got != "other-x" {
		t.Errorf("org2 X: got %q, want %q", got, "other-x")
	}

	// Disconnecting one organization leaves the other untouched.
	if _, err := s.DeleteAllChannels(ctx, orgID); err != nil {
		t.Fatalf("DeleteAllChannels: %v", err)
	}
	if n, _ := s.CountChannels(ctx, org2.ID); n != 1 {
		t.Errorf("org2 channels: got %d, want 1", n)
	}
}

// A failure partway through rolls back the whole reconcile: here the second
// insert of a duplicated remote ID violates UNIQUE(organization_id,
// channel_id) after the first one succeeded.
func TestReconcileRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)

	seed := []ChannelUpsert{{ChannelID: "A", ChannelName: "alerts"}}
	if err := s.ReconcileChannels(ctx, orgID, seed); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	bad := []ChannelUpsert{
		{ChannelID: "B", ChannelName: "backend"},
		{ChannelID: "B", ChannelName: "backend-dup"},
	}
	if err := s.ReconcileChannels(ctx, orgID, bad); err == nil {
		t.Fatal("reconcile with duplicate remote IDs should fail")
	}

	state := currentState(t, s, orgID)
	if len(state) != 1 || state["A"] != "alerts" {
		t.Errorf("state after failed reconcile: got %v, want only A=alerts", state)
	}
}

func TestGetChannelByPublicID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)

	if err := s.ReconcileChannels(ctx, orgID, []ChannelUpsert{{ChannelID: "A", ChannelName: "alerts"}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rows, err := s.ListChannels(ctx, orgID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}

	got, err := s.GetChannelByPublicID(ctx, orgID, rows[0].PublicID)
	if err != nil {
		t.Fatalf("GetChannelByPublicID: %v", err)
	}
	if got.ChannelID != "A" {
		t.Errorf("ChannelID: got %q, want %q", got.ChannelID, "A")
	}

	if _, err := s.GetChannelByPublicID(ctx, orgID, "missing"); err != ErrNotFound {
		t.Errorf("missing channel: got %v, want ErrNotFound", err)
	}
}

func TestListChannelsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, s)

	seed := []ChannelUpsert{
		{ChannelID: "1", ChannelName: "zulu"},
		{ChannelID: "2", ChannelName: "alpha"},
		{ChannelID: "3", ChannelName: "mike"},
	}
	if err := s.ReconcileChannels(ctx, orgID, seed); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := s.ListChannels(ctx, orgID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	names := make([]string, len(rows))
	for i, ch := range rows {
		names[i] = ch.ChannelName
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("channels not sorted by name: %v", names)
	}
}
