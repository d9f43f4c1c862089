package directory

import (
	"errors"
	"testing"

	"chatrelay/pkg/hub"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/userdir"
)

func setup(t *testing.T) *Directory {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(hub.New(hub.Config{}), userdir.NewMemory())
}

func TestCreateDirectIsIdempotent(t *testing.T) {
	d := setup(t)
	c1, err := d.CreateDirect("alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c1.Kind != models.KindDirect || len(c1.Members) != 2 {
		t.Fatalf("unexpected conversation %+v", c1)
	}
	// reversed order resolves to the same record
	c2, err := d.CreateDirect("bob", "alice")
	if err != nil {
		t.Fatalf("create reversed: %v", err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("expected same conversation, got %s and %s", c1.ID, c2.ID)
	}
}

func TestCreateDirectRejectsSelfAndEmpty(t *testing.T) {
	d := setup(t)
	if _, err := d.CreateDirect("alice", "alice"); err == nil {
		t.Fatalf("expected error for self-pair")
	}
	if _, err := d.CreateDirect("", "bob"); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestCreateGroupIncludesCreatorAndDedupes(t *testing.T) {
	d := setup(t)
	c, err := d.CreateGroup("alice", "eng", "", []string{"bob", "alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Kind != models.KindGroup || c.Creator != "alice" {
		t.Fatalf("unexpected conversation %+v", c)
	}
	if len(c.Members) != 3 {
		t.Fatalf("expected 3 members, got %v", c.Members)
	}
	if c.Members[0] != "alice" {
		t.Fatalf("creator must be a member, got %v", c.Members)
	}
}

func TestJoinAndLeaveGroup(t *testing.T) {
	d := setup(t)
	c, err := d.CreateGroup("alice", "eng", "", []string{"bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.Join(c.ID, "carol"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !d.IsMember(c.ID, "carol") {
		t.Fatalf("carol should be a member")
	}
	// joining twice is a no-op
	if err := d.Join(c.ID, "carol"); err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	members, _ := d.Members(c.ID)
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %v", members)
	}

	if err := d.Leave(c.ID, "carol"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if d.IsMember(c.ID, "carol") {
		t.Fatalf("carol should be gone")
	}
	if err := d.Leave(c.ID, "carol"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestDirectMembershipIsImmutable(t *testing.T) {
	d := setup(t)
	c, err := d.CreateDirect("alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.Join(c.ID, "carol"); !errors.Is(err, ErrDirectImmutable) {
		t.Fatalf("expected ErrDirectImmutable on join, got %v", err)
	}
	if err := d.Leave(c.ID, "bob"); !errors.Is(err, ErrDirectImmutable) {
		t.Fatalf("expected ErrDirectImmutable on leave, got %v", err)
	}
}

func TestLoadWarmsCacheFromStore(t *testing.T) {
	d := setup(t)
	c, err := d.CreateGroup("alice", "eng", "topic", []string{"bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := New(hub.New(hub.Config{}), userdir.NewMemory())
	if _, err := fresh.Get(c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cold cache miss, got %v", err)
	}
	if err := fresh.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := fresh.Get(c.ID)
	if err != nil {
		t.Fatalf("get after load: %v", err)
	}
	if got.Name != "eng" || len(got.Members) != 2 {
		t.Fatalf("unexpected loaded conversation %+v", got)
	}
}

func TestForUserAndTouchLastMessage(t *testing.T) {
	d := setup(t)
	g, _ := d.CreateGroup("alice", "eng", "", []string{"bob"})
	d.CreateGroup("bob", "ops", "", []string{"carol"})

	convs := d.ForUser("alice")
	if len(convs) != 1 || convs[0].ID != g.ID {
		t.Fatalf("expected only alice's conversation, got %+v", convs)
	}

	d.TouchLastMessage(g.ID, "m-1", 42)
	got, _ := d.Get(g.ID)
	if got.LastMessageID != "m-1" || got.LastActivityTS != 42 {
		t.Fatalf("last message pointer not updated: %+v", got)
	}
}
