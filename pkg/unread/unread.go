// Package unread keeps per-(user, conversation) unread counters and
// propagates read receipts. Receipts are durable (message store);
// counters are a cache seeded from the store on first use and then
// maintained incrementally.
package unread

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/hub"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// ErrNotMember rejects read receipts from outside the membership.
var ErrNotMember = errors.New("unread: not a member of the conversation")

type key struct {
	user string
	conv string
}

type Tracker struct {
	h   *hub.Hub
	dir *directory.Directory

	mu     sync.Mutex
	counts map[key]int
}

func New(h *hub.Hub, dir *directory.Directory) *Tracker {
	return &Tracker{h: h, dir: dir, counts: make(map[key]int)}
}

// NoteMessage accounts a freshly persisted message: every member other
// than the sender gains one unread. Called after the store append, so a
// cold cache recomputed from the log already includes the new message.
func (t *Tracker) NoteMessage(convID string, members []string, senderID string) {
	for _, m := range members {
		if m == senderID {
			continue
		}
		k := key{user: m, conv: convID}
		t.mu.Lock()
		if n, ok := t.counts[k]; ok {
			t.counts[k] = n + 1
			t.mu.Unlock()
			continue
		}
		t.mu.Unlock()
		t.seed(k)
	}
}

// MarkMessageRead adds userID to the message's read-by set. Idempotent:
// only the first call mutates state and emits the message_read event to
// the other members.
func (t *Tracker) MarkMessageRead(msgID, userID string) error {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if !t.dir.IsMember(m.Conversation, userID) {
		return ErrNotMember
	}
	readAt := time.Now().UTC().UnixNano()
	changed, err := store.MarkRead(msgID, userID, readAt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if m.Sender != userID {
		k := key{user: userID, conv: m.Conversation}
		t.mu.Lock()
		if n, ok := t.counts[k]; ok && n > 0 {
			t.counts[k] = n - 1
		}
		t.mu.Unlock()
	}
	members, err := t.dir.Members(m.Conversation)
	if err != nil {
		return nil
	}
	t.h.SendToUsers(members, models.NewEnvelope(models.TypeMessageRead, models.MessageReadEventData{
		MessageID: msgID,
		UserID:    userID,
		ReadAt:    readAt,
	}), userID)
	return nil
}

// MarkConversationRead marks every message authored by someone else as
// read for userID and collapses the counter to exactly zero. Each newly
// recorded receipt is fanned out as a message_read event, the same as a
// single-message mark.
func (t *Tracker) MarkConversationRead(convID, userID string) error {
	if !t.dir.IsMember(convID, userID) {
		return ErrNotMember
	}
	msgs, err := store.ListMessages(convID, 0, 0)
	if err != nil {
		return err
	}
	readAt := time.Now().UTC().UnixNano()
	var marked []string
	for _, m := range msgs {
		if m.Sender == userID {
			continue
		}
		changed, err := store.MarkRead(m.ID, userID, readAt)
		if err != nil {
			return err
		}
		if changed {
			marked = append(marked, m.ID)
		}
	}
	t.mu.Lock()
	t.counts[key{user: userID, conv: convID}] = 0
	t.mu.Unlock()
	if len(marked) == 0 {
		return nil
	}
	members, err := t.dir.Members(convID)
	if err != nil {
		return nil
	}
	for _, id := range marked {
		t.h.SendToUsers(members, models.NewEnvelope(models.TypeMessageRead, models.MessageReadEventData{
			MessageID: id,
			UserID:    userID,
			ReadAt:    readAt,
		}), userID)
	}
	return nil
}

// Count returns the unread counter for (userID, convID), never negative.
func (t *Tracker) Count(userID, convID string) int {
	k := key{user: userID, conv: convID}
	t.mu.Lock()
	if n, ok := t.counts[k]; ok {
		t.mu.Unlock()
		if n < 0 {
			return 0
		}
		return n
	}
	t.mu.Unlock()
	return t.seed(k)
}

// seed recomputes a counter from the store and installs it, unless an
// incremental update won the race in the meantime.
func (t *Tracker) seed(k key) int {
	n, err := store.CountUnread(k.conv, k.user)
	if err != nil {
		return 0
	}
	t.mu.Lock()
	if cur, ok := t.counts[k]; ok {
		t.mu.Unlock()
		return cur
	}
	t.counts[k] = n
	t.mu.Unlock()
	return n
}
