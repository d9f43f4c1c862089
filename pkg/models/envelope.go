package models

import "encoding/json"

// Envelope is the wire frame carried in both directions over the
// persistent connection: {"type": ..., "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client -> server envelope types.
const (
	TypeAuthenticate      = "authenticate"
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
	TypeTypingStart       = "typing_start"
	TypeTypingStop        = "typing_stop"
	TypeMessageRead       = "message_read"
	TypeGetPresence       = "get_presence"
	TypeGetConversations  = "get_conversations"
)

// Server -> client envelope types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAuthenticated         = "authenticated"
	TypeConversationJoined    = "conversation_joined"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeNewMessage            = "new_message"
	TypeMessageSent           = "message_sent"
	TypeMessageUpdated        = "message_updated"
	TypeMessageDeleted        = "message_deleted"
	TypeMessageReaction       = "message_reaction"
	TypeUserTyping            = "user_typing"
	TypePresenceUpdate        = "presence_update"
	TypeConversationList      = "conversation_list"
	TypeError                 = "error"
)

// NewEnvelope marshals v into the data field of an envelope of the given
// type. Marshal failures are impossible for the payload structs defined
// in this package, so the error is swallowed.
func NewEnvelope(typ string, v any) Envelope {
	b, _ := json.Marshal(v)
	return Envelope{Type: typ, Data: b}
}

// --- inbound payloads ---

type AuthenticateData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Avatar   string `json:"avatar,omitempty"`
}

type JoinConversationData struct {
	ConversationID string `json:"conversationId"`
}

type LeaveConversationData struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageData struct {
	ConversationID string       `json:"conversationId"`
	Message        string       `json:"message"`
	ReplyToID      string       `json:"replyToId,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversationId"`
}

type MessageReadData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type GetPresenceData struct {
	UserIDs []string `json:"userIds"`
}

// --- outbound payloads ---

type ConnectionEstablishedData struct {
	Timestamp int64 `json:"timestamp"`
}

type AuthenticatedData struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type ConversationJoinedData struct {
	ConversationID string `json:"conversationId"`
}

type MembershipEventData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type NewMessageData struct {
	Message Message `json:"message"`
}

type MessageSentData struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type MessageDeletedData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MessageReactionData struct {
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

type UserTypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageReadEventData struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    int64  `json:"readAt"`
}

type PresenceUpdateData struct {
	UserID    string `json:"userId"`
	IsOnline  bool   `json:"isOnline"`
	Timestamp int64  `json:"timestamp"`
}

type PresenceEntry struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type PresenceListData struct {
	Presence []PresenceEntry `json:"presence"`
}

type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	UnreadCount  int          `json:"unreadCount"`
}

type ConversationListData struct {
	Conversations []ConversationSummary `json:"conversations"`
}

type ErrorData struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}
