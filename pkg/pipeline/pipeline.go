// Package pipeline validates, persists and fans out message lifecycle
// events. All mutation of one conversation's history is serialized on a
// stripe lock keyed by conversation id, so every member observes
// messages in persistence order; unrelated conversations proceed
// concurrently.
package pipeline

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/hub"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/typing"
	"chatrelay/pkg/unread"
)

const lockStripes = 64

var (
	// ErrNotMember rejects operations from outside the membership.
	ErrNotMember = errors.New("pipeline: not a member of the conversation")
	// ErrNotSender rejects edit/delete by anyone but the original sender.
	ErrNotSender = errors.New("pipeline: only the original sender may modify a message")
	// ErrDeleted rejects edits to a tombstone.
	ErrDeleted = errors.New("pipeline: message is deleted")
)

type Pipeline struct {
	h   *hub.Hub
	dir *directory.Directory
	typ *typing.Tracker
	unr *unread.Tracker

	locks [lockStripes]sync.Mutex
}

func New(h *hub.Hub, dir *directory.Directory, typ *typing.Tracker, unr *unread.Tracker) *Pipeline {
	return &Pipeline{h: h, dir: dir, typ: typ, unr: unr}
}

func (p *Pipeline) lockFor(convID string) *sync.Mutex {
	fh := fnv.New32a()
	_, _ = fh.Write([]byte(convID))
	return &p.locks[fh.Sum32()%lockStripes]
}

// Send persists a new message and fans it out to every member's live
// connection. The returned message is the canonical persisted record;
// the dispatcher acknowledges it to the sender separately from the
// broadcast. Nothing is broadcast when persistence fails.
func (p *Pipeline) Send(convID, senderID, body, replyToID string, attachments []models.Attachment) (models.Message, error) {
	if !p.dir.IsMember(convID, senderID) {
		return models.Message{}, ErrNotMember
	}

	l := p.lockFor(convID)
	l.Lock()

	var parent models.Message
	if replyToID != "" {
		var err error
		parent, err = store.GetMessage(replyToID)
		if err != nil {
			l.Unlock()
			return models.Message{}, fmt.Errorf("reply parent: %w", err)
		}
		if parent.Conversation != convID {
			l.Unlock()
			return models.Message{}, errors.New("pipeline: reply parent belongs to another conversation")
		}
	}

	m := models.Message{
		Conversation: convID,
		Sender:       senderID,
		Body:         body,
		Attachments:  attachments,
		ReplyTo:      replyToID,
		TS:           time.Now().UTC().UnixNano(),
	}
	if err := store.AppendMessage(&m); err != nil {
		l.Unlock()
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}
	if replyToID != "" {
		parent.ReplyCount++
		if err := store.UpdateMessage(parent); err != nil {
			logger.Warn("reply_count_update_failed", "parent", replyToID, "error", err)
		}
	}

	p.dir.TouchLastMessage(convID, m.ID, m.TS)

	members, err := p.dir.Members(convID)
	if err != nil {
		members = nil
	}
	p.unr.NoteMessage(convID, members, senderID)
	p.h.SendToUsers(members, models.NewEnvelope(models.TypeNewMessage, models.NewMessageData{Message: m}), "")
	l.Unlock()

	// sending implies the sender stopped typing
	p.typ.Stop(convID, senderID)

	logger.Info("message_sent", "conversation", convID, "msg_id", m.ID, "sender", senderID)
	return m, nil
}

// Edit rewrites the body of a message. Permitted only for the original
// sender, forever; there is no moderator override and no time window.
func (p *Pipeline) Edit(msgID, requesterID, newBody string) (models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Sender != requesterID {
		return models.Message{}, ErrNotSender
	}

	l := p.lockFor(m.Conversation)
	l.Lock()
	defer l.Unlock()

	// re-read under the lock so a concurrent reaction or delete on the
	// same record is not overwritten with the stale copy
	m, err = store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Deleted {
		return models.Message{}, ErrDeleted
	}

	m.Body = newBody
	m.Edited = true
	m.EditedTS = time.Now().UTC().UnixNano()
	if err := store.UpdateMessage(m); err != nil {
		return models.Message{}, err
	}
	p.broadcast(m.Conversation, models.NewEnvelope(models.TypeMessageUpdated, models.NewMessageData{Message: m}))
	return m, nil
}

// Delete soft-deletes a message: the body becomes a tombstone and the
// attachments and reactions are cleared, while id and creation timestamp
// survive so reply chains are not orphaned.
func (p *Pipeline) Delete(msgID, requesterID string) (models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Sender != requesterID {
		return models.Message{}, ErrNotSender
	}

	l := p.lockFor(m.Conversation)
	l.Lock()
	defer l.Unlock()

	// re-read under the lock so a concurrent reaction or edit on the
	// same record is not overwritten with the stale copy
	m, err = store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}

	m.Body = models.Tombstone
	m.Attachments = nil
	m.Reactions = nil
	m.Deleted = true
	m.DeletedTS = time.Now().UTC().UnixNano()
	if err := store.UpdateMessage(m); err != nil {
		return models.Message{}, err
	}
	p.broadcast(m.Conversation, models.NewEnvelope(models.TypeMessageDeleted, models.MessageDeletedData{
		MessageID:      msgID,
		ConversationID: m.Conversation,
	}))
	logger.Info("message_deleted", "conversation", m.Conversation, "msg_id", msgID)
	return m, nil
}

// React toggles the (userID, emoji) pair on a message and returns the
// updated reaction list. A second identical call removes the reaction.
func (p *Pipeline) React(msgID, userID, emoji string) ([]models.Reaction, error) {
	if emoji == "" {
		return nil, errors.New("pipeline: emoji is required")
	}
	m, err := store.GetMessage(msgID)
	if err != nil {
		return nil, err
	}
	if !p.dir.IsMember(m.Conversation, userID) {
		return nil, ErrNotMember
	}

	l := p.lockFor(m.Conversation)
	l.Lock()
	defer l.Unlock()

	// re-read under the lock so concurrent toggles don't lose updates
	m, err = store.GetMessage(msgID)
	if err != nil {
		return nil, err
	}
	reactions := m.ToggleReaction(userID, emoji)
	if err := store.UpdateMessage(m); err != nil {
		return nil, err
	}
	p.broadcast(m.Conversation, models.NewEnvelope(models.TypeMessageReaction, models.MessageReactionData{
		MessageID: msgID,
		Reactions: reactions,
	}))
	return reactions, nil
}

// Thread returns the direct children of a parent message in creation
// order.
func (p *Pipeline) Thread(parentID string) ([]models.Message, error) {
	return store.ListThread(parentID)
}

func (p *Pipeline) broadcast(convID string, env models.Envelope) {
	members, err := p.dir.Members(convID)
	if err != nil {
		return
	}
	p.h.SendToUsers(members, env, "")
}
