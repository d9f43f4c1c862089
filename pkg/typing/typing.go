// Package typing tracks ephemeral per-(conversation, user) typing
// indicators. Nothing here is persisted; an indicator lives until an
// explicit stop, a send, a leave, a disconnect, or the TTL sweep.
package typing

import (
	"context"
	"sync"
	"time"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/hub"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/userdir"
)

const (
	// TTL is how long an indicator survives without a refresh.
	TTL = 30 * time.Second
	// SweepInterval is the period of the background expiry pass.
	SweepInterval = 10 * time.Second
)

type key struct {
	conv string
	user string
}

type Tracker struct {
	h     *hub.Hub
	dir   *directory.Directory
	users userdir.Directory

	mu     sync.Mutex
	active map[key]time.Time

	ttl   time.Duration
	sweep time.Duration
}

func New(h *hub.Hub, dir *directory.Directory, users userdir.Directory) *Tracker {
	return &Tracker{
		h:      h,
		dir:    dir,
		users:  users,
		active: make(map[key]time.Time),
		ttl:    TTL,
		sweep:  SweepInterval,
	}
}

// Run drives the TTL sweeper until ctx is canceled. The sweep collects
// expired keys under the lock and broadcasts outside it, so it never
// blocks message delivery.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("typing_sweeper_stopping")
			return
		case <-ticker.C:
			t.sweepExpired(time.Now())
		}
	}
}

// Start upserts the indicator timestamp and announces it to the other
// members. A repeat start refreshes rather than duplicates.
func (t *Tracker) Start(convID, userID string) {
	t.mu.Lock()
	t.active[key{convID, userID}] = time.Now()
	t.mu.Unlock()
	t.announce(convID, userID, true)
}

// Stop removes the indicator if present and announces the stop.
func (t *Tracker) Stop(convID, userID string) {
	t.mu.Lock()
	_, present := t.active[key{convID, userID}]
	delete(t.active, key{convID, userID})
	t.mu.Unlock()
	if present {
		t.announce(convID, userID, false)
	}
}

// ClearUser drops every indicator owned by userID. This is the
// disconnect path: no connection may leak a stale "is typing".
func (t *Tracker) ClearUser(userID string) {
	t.mu.Lock()
	var convs []string
	for k := range t.active {
		if k.user == userID {
			convs = append(convs, k.conv)
			delete(t.active, k)
		}
	}
	t.mu.Unlock()
	for _, convID := range convs {
		t.announce(convID, userID, false)
	}
}

// IsTyping reports whether an unexpired indicator exists.
func (t *Tracker) IsTyping(convID, userID string) bool {
	t.mu.Lock()
	ts, ok := t.active[key{convID, userID}]
	t.mu.Unlock()
	return ok && time.Since(ts) < t.ttl
}

func (t *Tracker) sweepExpired(now time.Time) {
	telemetry.TypingSweeps.Inc()
	t.mu.Lock()
	var expired []key
	for k, ts := range t.active {
		if now.Sub(ts) >= t.ttl {
			expired = append(expired, k)
			delete(t.active, k)
		}
	}
	t.mu.Unlock()
	for _, k := range expired {
		logger.Debug("typing_expired", "conversation", k.conv, "user", k.user)
		t.announce(k.conv, k.user, false)
	}
}

func (t *Tracker) announce(convID, userID string, isTyping bool) {
	members, err := t.dir.Members(convID)
	if err != nil {
		return
	}
	t.h.SendToUsers(members, models.NewEnvelope(models.TypeUserTyping, models.UserTypingData{
		ConversationID: convID,
		UserID:         userID,
		UserName:       userdir.DisplayName(t.users, userID),
		IsTyping:       isTyping,
	}), userID)
}
