// Package dispatch routes inbound envelopes to the engine components and
// shapes their results back into outbound envelopes. Every failure class
// is answered with an error envelope on the same connection; nothing
// thrown here can take down another connection's loop.
package dispatch

import (
	"encoding/json"
	"errors"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/hub"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/pipeline"
	"chatrelay/pkg/store"
	"chatrelay/pkg/typing"
	"chatrelay/pkg/unread"
	"chatrelay/pkg/userdir"
	"chatrelay/pkg/validation"
)

type Dispatcher struct {
	h     *hub.Hub
	dir   *directory.Directory
	pipe  *pipeline.Pipeline
	typ   *typing.Tracker
	unr   *unread.Tracker
	users *userdir.Memory
}

func New(h *hub.Hub, dir *directory.Directory, pipe *pipeline.Pipeline, typ *typing.Tracker, unr *unread.Tracker, users *userdir.Memory) *Dispatcher {
	return &Dispatcher{h: h, dir: dir, pipe: pipe, typ: typ, unr: unr, users: users}
}

// HandleEnvelope implements hub.Handler.
func (d *Dispatcher) HandleEnvelope(c *hub.Client, env models.Envelope) {
	if env.Type == models.TypeAuthenticate {
		d.authenticate(c, env.Data)
		return
	}
	if !c.Authenticated() {
		c.SendError("validation", "authenticate first")
		return
	}
	switch env.Type {
	case models.TypeJoinConversation:
		d.join(c, env.Data)
	case models.TypeLeaveConversation:
		d.leave(c, env.Data)
	case models.TypeSendMessage:
		d.send(c, env.Data)
	case models.TypeTypingStart:
		d.typingStart(c, env.Data)
	case models.TypeTypingStop:
		d.typingStop(c, env.Data)
	case models.TypeMessageRead:
		d.messageRead(c, env.Data)
	case models.TypeGetPresence:
		d.getPresence(c, env.Data)
	case models.TypeGetConversations:
		d.getConversations(c)
	default:
		logger.Debug("unknown_envelope_type", "type", env.Type, "user", c.UserID)
		c.SendError("protocol", "unknown envelope type: "+env.Type)
	}
}

func (d *Dispatcher) authenticate(c *hub.Client, raw json.RawMessage) {
	var data models.AuthenticateData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.SendError("protocol", "invalid authenticate payload")
		return
	}
	if err := validation.ValidateAuthenticate(data); err != nil {
		c.SendError("validation", err.Error())
		return
	}
	// A store outage that prevents the handshake is fatal to this one
	// connection, never to the process.
	if !store.Ready() {
		c.SendError("persistence", "store unavailable")
		c.Close()
		return
	}
	d.users.Put(userdir.Profile{UserID: data.UserID, DisplayName: data.UserName, Avatar: data.Avatar})
	d.h.Admit(c, data.UserID, data.UserName)
	c.Send(models.NewEnvelope(models.TypeAuthenticated, models.AuthenticatedData{
		UserID:      data.UserID,
		OnlineUsers: d.h.OnlineUserIDs(),
	}))
}

func (d *Dispatcher) join(c *hub.Client, raw json.RawMessage) {
	var data models.JoinConversationData
	if err := json.Unmarshal(raw, &data); err != nil || data.ConversationID == "" {
		c.SendError("validation", "conversationId is required")
		return
	}
	if err := d.dir.Join(data.ConversationID, c.UserID); err != nil {
		c.SendError(classOf(err), err.Error())
		return
	}
	c.Send(models.NewEnvelope(models.TypeConversationJoined, models.ConversationJoinedData{
		ConversationID: data.ConversationID,
	}))
}

func (d *Dispatcher) leave(c *hub.Client, raw json.RawMessage) {
	var data models.LeaveConversationData
	if err := json.Unmarshal(raw, &data); err != nil || data.ConversationID == "" {
		c.SendError("validation", "conversationId is required")
		return
	}
	if err := d.dir.Leave(data.ConversationID, c.UserID); err != nil {
		c.SendError(classOf(err), err.Error())
	}
}

func (d *Dispatcher) send(c *hub.Client, raw json.RawMessage) {
	var data models.SendMessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.SendError("protocol", "invalid send_message payload")
		return
	}
	if err := validation.ValidateSend(data); err != nil {
		c.SendError("validation", err.Error())
		return
	}
	m, err := d.pipe.Send(data.ConversationID, c.UserID, data.Message, data.ReplyToID, data.Attachments)
	if err != nil {
		c.SendError(classOf(err), err.Error())
		return
	}
	// ack distinct from the broadcast, so the sender can reconcile an
	// optimistic local echo
	c.Send(models.NewEnvelope(models.TypeMessageSent, models.MessageSentData{
		MessageID: m.ID,
		Timestamp: m.TS,
	}))
}

func (d *Dispatcher) typingStart(c *hub.Client, raw json.RawMessage) {
	var data models.TypingData
	if err := json.Unmarshal(raw, &data); err != nil || data.ConversationID == "" {
		c.SendError("validation", "conversationId is required")
		return
	}
	if !d.dir.IsMember(data.ConversationID, c.UserID) {
		c.SendError("permission", "not a member of the conversation")
		return
	}
	d.typ.Start(data.ConversationID, c.UserID)
}

func (d *Dispatcher) typingStop(c *hub.Client, raw json.RawMessage) {
	var data models.TypingData
	if err := json.Unmarshal(raw, &data); err != nil || data.ConversationID == "" {
		c.SendError("validation", "conversationId is required")
		return
	}
	d.typ.Stop(data.ConversationID, c.UserID)
}

func (d *Dispatcher) messageRead(c *hub.Client, raw json.RawMessage) {
	var data models.MessageReadData
	if err := json.Unmarshal(raw, &data); err != nil || data.MessageID == "" {
		c.SendError("validation", "messageId is required")
		return
	}
	if err := d.unr.MarkMessageRead(data.MessageID, c.UserID); err != nil {
		c.SendError(classOf(err), err.Error())
	}
}

func (d *Dispatcher) getPresence(c *hub.Client, raw json.RawMessage) {
	var data models.GetPresenceData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			c.SendError("protocol", "invalid get_presence payload")
			return
		}
	}
	var entries []models.PresenceEntry
	if len(data.UserIDs) == 0 {
		entries = d.h.Active()
	} else {
		active := make(map[string]models.PresenceEntry)
		for _, e := range d.h.Active() {
			active[e.UserID] = e
		}
		for _, id := range data.UserIDs {
			if e, ok := active[id]; ok {
				entries = append(entries, e)
			} else {
				entries = append(entries, models.PresenceEntry{UserID: id, IsOnline: false})
			}
		}
	}
	c.Send(models.NewEnvelope(models.TypePresenceUpdate, models.PresenceListData{Presence: entries}))
}

func (d *Dispatcher) getConversations(c *hub.Client) {
	convs := d.dir.ForUser(c.UserID)
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		out = append(out, models.ConversationSummary{
			Conversation: conv,
			UnreadCount:  d.unr.Count(c.UserID, conv.ID),
		})
	}
	c.Send(models.NewEnvelope(models.TypeConversationList, models.ConversationListData{Conversations: out}))
}

// classOf maps engine errors onto the error-envelope taxonomy used for
// metrics labels.
func classOf(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrNotMember),
		errors.Is(err, pipeline.ErrNotSender),
		errors.Is(err, unread.ErrNotMember),
		errors.Is(err, directory.ErrNotMember),
		errors.Is(err, directory.ErrDirectImmutable):
		return "permission"
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return "validation"
	default:
		return "persistence"
	}
}
