package store

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// NewMessageID returns a store-assigned message id. Ids sort in creation
// order, so the same string doubles as the sortable key suffix.
func NewMessageID() string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// Key layout:
//   conv:<convID>:msg:<msgID>   message record, msgID sorts by creation time
//   conv:<convID>:meta          conversation metadata
//   latest:msg:<msgID>          current version of a message, for id lookup
//   direct:<a>|<b>              sorted-pair index -> direct conversation id
//   read:msg:<msgID>:<userID>   read receipt, value is readAt (ns)

func msgKey(convID, msgID string) []byte {
	return []byte("conv:" + convID + ":msg:" + msgID)
}

func msgPrefix(convID string) []byte {
	return []byte("conv:" + convID + ":msg:")
}

func convMetaKey(convID string) []byte {
	return []byte("conv:" + convID + ":meta")
}

func latestKey(msgID string) []byte {
	return []byte("latest:msg:" + msgID)
}

// DirectPairKey derives the deterministic lookup key for the unordered
// pair (a, b), so both argument orders resolve to the same conversation.
func DirectPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "direct:" + a + "|" + b
}

func readKey(msgID, userID string) []byte {
	return []byte("read:msg:" + msgID + ":" + userID)
}

func readPrefix(msgID string) []byte {
	return []byte("read:msg:" + msgID + ":")
}
