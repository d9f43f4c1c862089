package retention

import (
	"context"
	"testing"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func setup(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func seedConv(t *testing.T, id string) {
	t.Helper()
	c := models.Conversation{ID: id, Kind: models.KindGroup, Name: id, Members: []string{"alice", "bob"}}
	if err := store.SaveConversation(c); err != nil {
		t.Fatalf("save conversation: %v", err)
	}
}

func cfgWithMaxAge(maxAge time.Duration, dryRun bool) *config.Config {
	cfg := &config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.MaxAge = config.Duration(maxAge)
	cfg.Retention.DryRun = dryRun
	return cfg
}

func TestRunOncePurgesAgedTombstones(t *testing.T) {
	setup(t)
	seedConv(t, "c1")

	old := models.Message{
		Conversation: "c1", Sender: "alice",
		Body: models.Tombstone, Deleted: true,
		TS: time.Now().Add(-48 * time.Hour).UnixNano(),
	}
	if err := store.AppendMessage(&old); err != nil {
		t.Fatalf("append: %v", err)
	}
	fresh := models.Message{
		Conversation: "c1", Sender: "alice",
		Body: models.Tombstone, Deleted: true,
	}
	if err := store.AppendMessage(&fresh); err != nil {
		t.Fatalf("append: %v", err)
	}
	live := models.Message{
		Conversation: "c1", Sender: "bob", Body: "keep me",
		TS: time.Now().Add(-48 * time.Hour).UnixNano(),
	}
	if err := store.AppendMessage(&live); err != nil {
		t.Fatalf("append: %v", err)
	}
	// an old message deleted moments ago ages from its deletion time,
	// not its creation time
	recentlyDeleted := models.Message{
		Conversation: "c1", Sender: "bob",
		Body: models.Tombstone, Deleted: true,
		TS:        time.Now().Add(-48 * time.Hour).UnixNano(),
		DeletedTS: time.Now().UnixNano(),
	}
	if err := store.AppendMessage(&recentlyDeleted); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := RunOnce(context.Background(), cfgWithMaxAge(24*time.Hour, false)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := store.GetMessage(old.ID); err != store.ErrNotFound {
		t.Fatalf("aged tombstone should be purged, got %v", err)
	}
	if _, err := store.GetMessage(fresh.ID); err != nil {
		t.Fatalf("fresh tombstone must survive: %v", err)
	}
	if _, err := store.GetMessage(live.ID); err != nil {
		t.Fatalf("old live message must survive: %v", err)
	}
	if _, err := store.GetMessage(recentlyDeleted.ID); err != nil {
		t.Fatalf("freshly deleted message must survive: %v", err)
	}
}

func TestRunOnceDryRunKeepsRecords(t *testing.T) {
	setup(t)
	seedConv(t, "c1")
	old := models.Message{
		Conversation: "c1", Sender: "alice",
		Body: models.Tombstone, Deleted: true,
		TS: time.Now().Add(-48 * time.Hour).UnixNano(),
	}
	if err := store.AppendMessage(&old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := RunOnce(context.Background(), cfgWithMaxAge(24*time.Hour, true)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.GetMessage(old.ID); err != nil {
		t.Fatalf("dry run must not purge: %v", err)
	}
}

func TestRunOnceSkipsWithoutMaxAge(t *testing.T) {
	setup(t)
	seedConv(t, "c1")
	old := models.Message{
		Conversation: "c1", Sender: "alice",
		Body: models.Tombstone, Deleted: true,
		TS: time.Now().Add(-48 * time.Hour).UnixNano(),
	}
	if err := store.AppendMessage(&old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := RunOnce(context.Background(), cfgWithMaxAge(0, false)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.GetMessage(old.ID); err != nil {
		t.Fatalf("no-max-age run must not purge: %v", err)
	}
}
