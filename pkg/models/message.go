package models

// Tombstone replaces the body of a soft-deleted message. The record keeps
// its id and timestamps so reply chains stay intact.
const Tombstone = "message deleted"

// Attachment describes a file referenced by a message. Upload handling is
// external; the engine only carries the descriptor.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Reaction is one (user, emoji) pair on a message. The pair is unique per
// message; posting it again toggles it off.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID           string       `json:"id"`
	Conversation string       `json:"conversationId"`
	Sender       string       `json:"senderId"`
	Body         string       `json:"body"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	// ReplyTo links one level up to a parent message id.
	ReplyTo    string `json:"replyToId,omitempty"`
	ReplyCount int    `json:"replyCount,omitempty"`
	// TS is the creation timestamp (ns). Never changes after creation.
	TS        int64      `json:"ts"`
	Edited    bool       `json:"edited,omitempty"`
	EditedTS  int64      `json:"editedTs,omitempty"`
	Deleted   bool       `json:"isDeleted,omitempty"`
	DeletedTS int64      `json:"deletedTs,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// HasReaction reports whether the (user, emoji) pair is present.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ToggleReaction adds the (user, emoji) pair if absent and removes it if
// present, returning the resulting list.
func (m *Message) ToggleReaction(userID, emoji string) []Reaction {
	for i, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return m.Reactions
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
	return m.Reactions
}
