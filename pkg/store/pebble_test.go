package store

import (
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func openTest(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestAppendAssignsIDAndPreservesOrder(t *testing.T) {
	openTest(t)
	var ids []string
	for i := 0; i < 5; i++ {
		m := models.Message{Conversation: "c1", Sender: "alice", Body: "hi"}
		if err := AppendMessage(&m); err != nil {
			t.Fatalf("append: %v", err)
		}
		if m.ID == "" || m.TS == 0 {
			t.Fatalf("expected assigned id and ts, got %q %d", m.ID, m.TS)
		}
		ids = append(ids, m.ID)
	}
	msgs, err := ListMessages("c1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Fatalf("position %d: expected %s got %s", i, ids[i], m.ID)
		}
	}
}

func TestUpdateKeepsPosition(t *testing.T) {
	openTest(t)
	first := models.Message{Conversation: "c1", Sender: "alice", Body: "one"}
	second := models.Message{Conversation: "c1", Sender: "bob", Body: "two"}
	if err := AppendMessage(&first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendMessage(&second); err != nil {
		t.Fatalf("append: %v", err)
	}
	first.Body = "edited"
	first.Edited = true
	if err := UpdateMessage(first); err != nil {
		t.Fatalf("update: %v", err)
	}
	msgs, err := ListMessages("c1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if msgs[0].ID != first.ID || msgs[0].Body != "edited" || !msgs[0].Edited {
		t.Fatalf("expected edited message to keep first position, got %+v", msgs[0])
	}
	got, err := GetMessage(first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body != "edited" {
		t.Fatalf("id index not updated: %+v", got)
	}
}

func TestListMessagesLimitOffset(t *testing.T) {
	openTest(t)
	for i := 0; i < 10; i++ {
		m := models.Message{Conversation: "c1", Sender: "alice", Body: "x"}
		if err := AppendMessage(&m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	page, err := ListMessages("c1", 3, 4)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page))
	}
	all, _ := ListMessages("c1", 0, 0)
	if page[0].ID != all[4].ID {
		t.Fatalf("offset ignored: got %s expected %s", page[0].ID, all[4].ID)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	openTest(t)
	if _, err := GetMessage("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectIndexIsOrderIndependent(t *testing.T) {
	openTest(t)
	if err := SetDirectIndex("bob", "alice", "conv-1"); err != nil {
		t.Fatalf("set index: %v", err)
	}
	id, err := LookupDirect("alice", "bob")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id != "conv-1" {
		t.Fatalf("expected conv-1, got %s", id)
	}
	if _, err := LookupDirect("alice", "carol"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	openTest(t)
	m := models.Message{Conversation: "c1", Sender: "alice", Body: "hi"}
	if err := AppendMessage(&m); err != nil {
		t.Fatalf("append: %v", err)
	}
	first := time.Now().UTC().UnixNano()
	changed, err := MarkRead(m.ID, "bob", first)
	if err != nil || !changed {
		t.Fatalf("expected first mark to change, got changed=%v err=%v", changed, err)
	}
	changed, err = MarkRead(m.ID, "bob", first+1000)
	if err != nil || changed {
		t.Fatalf("expected repeat mark to be a no-op, got changed=%v err=%v", changed, err)
	}
	receipts, err := ReadBy(m.ID)
	if err != nil {
		t.Fatalf("readby: %v", err)
	}
	if len(receipts) != 1 || receipts[0].UserID != "bob" || receipts[0].ReadAt != first {
		t.Fatalf("expected original receipt preserved, got %+v", receipts)
	}
}

func TestCountUnreadSkipsOwnAndRead(t *testing.T) {
	openTest(t)
	var fromAlice []string
	for i := 0; i < 3; i++ {
		m := models.Message{Conversation: "c1", Sender: "alice", Body: "x"}
		if err := AppendMessage(&m); err != nil {
			t.Fatalf("append: %v", err)
		}
		fromAlice = append(fromAlice, m.ID)
	}
	own := models.Message{Conversation: "c1", Sender: "bob", Body: "mine"}
	if err := AppendMessage(&own); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := CountUnread("c1", "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 unread, got %d", n)
	}
	if _, err := MarkRead(fromAlice[0], "bob", time.Now().UnixNano()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	n, _ = CountUnread("c1", "bob")
	if n != 2 {
		t.Fatalf("expected 2 unread after one read, got %d", n)
	}
}

func TestDeleteMessageRecordPurges(t *testing.T) {
	openTest(t)
	m := models.Message{Conversation: "c1", Sender: "alice", Body: "old"}
	if err := AppendMessage(&m); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := DeleteMessageRecord("c1", m.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := GetMessage(m.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
	msgs, _ := ListMessages("c1", 0, 0)
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}
}

func TestConversationRoundTrip(t *testing.T) {
	openTest(t)
	c := models.Conversation{ID: "conv-a", Kind: models.KindGroup, Name: "eng", Members: []string{"alice", "bob"}}
	if err := SaveConversation(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetConversation("conv-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "eng" || len(got.Members) != 2 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	// messages under the same conv prefix must not pollute the listing
	m := models.Message{Conversation: "conv-a", Sender: "alice", Body: "hi"}
	if err := AppendMessage(&m); err != nil {
		t.Fatalf("append: %v", err)
	}
	all, err := ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ID != "conv-a" {
		t.Fatalf("expected one conversation, got %+v", all)
	}
}
