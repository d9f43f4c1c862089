package models

// ConversationKind distinguishes 2-party direct conversations from
// N-party groups.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

type Conversation struct {
	ID   string           `json:"id"`
	Kind ConversationKind `json:"kind"`
	// Name and Description apply to group conversations only.
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Creator     string `json:"creatorId,omitempty"`
	// Members is stored unordered; additions are ordered events.
	Members        []string `json:"members"`
	CreatedTS      int64    `json:"createdTs"`
	LastActivityTS int64    `json:"lastActivityTs,omitempty"`
	LastMessageID  string   `json:"lastMessageId,omitempty"`
}

// HasMember reports whether userID currently holds membership.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// AddMember appends userID if not already present and reports whether the
// set changed.
func (c *Conversation) AddMember(userID string) bool {
	if c.HasMember(userID) {
		return false
	}
	c.Members = append(c.Members, userID)
	return true
}

// RemoveMember deletes userID and reports whether the set changed.
func (c *Conversation) RemoveMember(userID string) bool {
	for i, m := range c.Members {
		if m == userID {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return true
		}
	}
	return false
}
