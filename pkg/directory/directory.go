// Package directory owns conversation records and their membership sets.
// Mutation is serialized per conversation id across a stripe of locks, so
// unrelated conversations never contend while concurrent join/leave/send
// on one conversation cannot lose updates.
package directory

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"chatrelay/pkg/hub"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/userdir"
	"chatrelay/pkg/validation"
)

const lockStripes = 64

var (
	ErrNotFound = errors.New("directory: conversation not found")
	// ErrDirectImmutable rejects join/leave on a 2-party conversation.
	ErrDirectImmutable = errors.New("directory: direct conversations have fixed membership")
	ErrNotMember       = errors.New("directory: user is not a member")
)

type Directory struct {
	h     *hub.Hub
	users userdir.Directory

	mu    sync.RWMutex
	convs map[string]*models.Conversation

	locks [lockStripes]sync.Mutex
	// directMu serializes direct-pair lookup+create so the idempotence
	// guarantee does not depend on two racing code paths agreeing.
	directMu sync.Mutex

	// onLeave clears ephemeral per-user state (typing) when membership
	// is dropped; installed by the application wiring.
	onLeave func(convID, userID string)
}

func New(h *hub.Hub, users userdir.Directory) *Directory {
	return &Directory{
		h:     h,
		users: users,
		convs: make(map[string]*models.Conversation),
	}
}

// SetOnLeave installs the hook run after a user leaves a conversation.
func (d *Directory) SetOnLeave(fn func(convID, userID string)) { d.onLeave = fn }

// Load warms the in-memory cache from the store. Called once at startup.
func (d *Directory) Load() error {
	convs, err := store.ListConversations()
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	d.mu.Lock()
	for i := range convs {
		c := convs[i]
		d.convs[c.ID] = &c
	}
	d.mu.Unlock()
	logger.Info("conversations_loaded", "count", len(convs))
	return nil
}

// lockFor returns the stripe lock serializing mutation of convID.
func (d *Directory) lockFor(convID string) *sync.Mutex {
	fh := fnv.New32a()
	_, _ = fh.Write([]byte(convID))
	return &d.locks[fh.Sum32()%lockStripes]
}

// CreateDirect returns the direct conversation between the unordered
// pair (a, b), creating it on first request. Both argument orders
// resolve to the same record.
func (d *Directory) CreateDirect(a, b string) (models.Conversation, error) {
	if a == "" || b == "" {
		return models.Conversation{}, errors.New("directory: both user ids are required")
	}
	if a == b {
		return models.Conversation{}, errors.New("directory: direct conversation needs two distinct users")
	}

	d.directMu.Lock()
	defer d.directMu.Unlock()

	if id, err := store.LookupDirect(a, b); err == nil {
		if c, gerr := d.Get(id); gerr == nil {
			return c, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Conversation{}, err
	}

	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:        store.NewConversationID(),
		Kind:      models.KindDirect,
		Members:   []string{a, b},
		CreatedTS: now,
	}
	if err := store.SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	if err := store.SetDirectIndex(a, b, c.ID); err != nil {
		return models.Conversation{}, err
	}
	d.mu.Lock()
	d.convs[c.ID] = &c
	d.mu.Unlock()
	logger.Info("direct_conversation_created", "conversation", c.ID)
	return c, nil
}

// CreateGroup creates a group conversation. The creator is always a
// member even when omitted from the participant list.
func (d *Directory) CreateGroup(creator, name, description string, participants []string) (models.Conversation, error) {
	if err := validation.ValidateGroup(creator, name, participants); err != nil {
		return models.Conversation{}, err
	}
	members := []string{creator}
	for _, p := range participants {
		if p == creator {
			continue
		}
		dup := false
		for _, m := range members {
			if m == p {
				dup = true
				break
			}
		}
		if !dup {
			members = append(members, p)
		}
	}
	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:          store.NewConversationID(),
		Kind:        models.KindGroup,
		Name:        name,
		Description: description,
		Creator:     creator,
		Members:     members,
		CreatedTS:   now,
	}
	if err := store.SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	d.mu.Lock()
	d.convs[c.ID] = &c
	d.mu.Unlock()
	logger.Info("group_conversation_created", "conversation", c.ID, "members", len(members))
	return c, nil
}

// Join adds userID to a group conversation and announces it to the
// membership. Direct conversations reject membership changes.
func (d *Directory) Join(convID, userID string) error {
	l := d.lockFor(convID)
	l.Lock()
	c, err := d.ref(convID)
	if err != nil {
		l.Unlock()
		return err
	}
	if c.Kind == models.KindDirect {
		l.Unlock()
		return ErrDirectImmutable
	}
	changed := c.AddMember(userID)
	snapshot := *c
	members := append([]string(nil), c.Members...)
	if changed {
		if err := store.SaveConversation(snapshot); err != nil {
			c.RemoveMember(userID)
			l.Unlock()
			return err
		}
	}
	l.Unlock()

	if changed {
		d.h.SendToUsers(members, models.NewEnvelope(models.TypeUserJoined, models.MembershipEventData{
			ConversationID: convID,
			UserID:         userID,
			UserName:       userdir.DisplayName(d.users, userID),
		}), "")
	}
	return nil
}

// Leave drops userID from a group conversation, clears the leaver's
// ephemeral state, and announces user_left to the remaining members.
func (d *Directory) Leave(convID, userID string) error {
	l := d.lockFor(convID)
	l.Lock()
	c, err := d.ref(convID)
	if err != nil {
		l.Unlock()
		return err
	}
	if c.Kind == models.KindDirect {
		l.Unlock()
		return ErrDirectImmutable
	}
	if !c.RemoveMember(userID) {
		l.Unlock()
		return ErrNotMember
	}
	snapshot := *c
	remaining := append([]string(nil), c.Members...)
	if err := store.SaveConversation(snapshot); err != nil {
		c.AddMember(userID)
		l.Unlock()
		return err
	}
	l.Unlock()

	if d.onLeave != nil {
		d.onLeave(convID, userID)
	}
	d.h.SendToUsers(remaining, models.NewEnvelope(models.TypeUserLeft, models.MembershipEventData{
		ConversationID: convID,
		UserID:         userID,
		UserName:       userdir.DisplayName(d.users, userID),
	}), "")
	return nil
}

// Get returns a copy of the conversation record.
func (d *Directory) Get(convID string) (models.Conversation, error) {
	d.mu.RLock()
	c, ok := d.convs[convID]
	d.mu.RUnlock()
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	out := *c
	out.Members = append([]string(nil), c.Members...)
	return out, nil
}

// ref returns the live cached record; callers hold the stripe lock.
func (d *Directory) ref(convID string) (*models.Conversation, error) {
	d.mu.RLock()
	c, ok := d.convs[convID]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Members returns the current membership set.
func (d *Directory) Members(convID string) ([]string, error) {
	c, err := d.Get(convID)
	if err != nil {
		return nil, err
	}
	return c.Members, nil
}

// IsMember reports whether userID currently holds membership.
func (d *Directory) IsMember(convID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.convs[convID]
	return ok && c.HasMember(userID)
}

// ForUser returns every conversation userID is a member of.
func (d *Directory) ForUser(userID string) []models.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Conversation
	for _, c := range d.convs {
		if c.HasMember(userID) {
			cp := *c
			cp.Members = append([]string(nil), c.Members...)
			out = append(out, cp)
		}
	}
	return out
}

// TouchLastMessage updates the cached most-recent-message pointer after a
// successful send. Persisted best-effort; the message log is the source
// of truth.
func (d *Directory) TouchLastMessage(convID, msgID string, ts int64) {
	l := d.lockFor(convID)
	l.Lock()
	c, err := d.ref(convID)
	if err != nil {
		l.Unlock()
		return
	}
	c.LastMessageID = msgID
	c.LastActivityTS = ts
	snapshot := *c
	l.Unlock()
	if err := store.SaveConversation(snapshot); err != nil {
		logger.Warn("last_message_persist_failed", "conversation", convID, "error", err)
	}
}
