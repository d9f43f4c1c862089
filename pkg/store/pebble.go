package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
)

var db *pebble.DB

// ErrNotFound is returned when a message, conversation or index entry
// does not exist.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// AppendMessage persists a new message record. When the message carries
// no id or timestamp the store assigns them; the returned message is the
// canonical persisted form. Message ids sort in persistence order inside
// a conversation, which is what gives the pipeline its ordering
// guarantee.
func AppendMessage(m *models.Message) error {
	if db == nil {
		return notOpened()
	}
	if m.Conversation == "" {
		return fmt.Errorf("message missing conversation id")
	}
	if m.ID == "" {
		m.ID = NewMessageID()
	}
	if m.TS == 0 {
		m.TS = time.Now().UTC().UnixNano()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(msgKey(m.Conversation, m.ID), data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "conversation", m.Conversation, "msg_id", m.ID, "error", err)
		return err
	}
	if err := db.Set(latestKey(m.ID), data, pebble.Sync); err != nil {
		logger.Error("append_message_index_failed", "msg_id", m.ID, "error", err)
		return err
	}
	telemetry.MessagesPersisted.Inc()
	logger.Debug("message_appended", "conversation", m.Conversation, "msg_id", m.ID)
	return nil
}

// UpdateMessage rewrites a message record in place. The key is derived
// from the original id, so the record keeps its position in the
// conversation history; only the mutable fields change.
func UpdateMessage(m models.Message) error {
	if db == nil {
		return notOpened()
	}
	if m.ID == "" || m.Conversation == "" {
		return fmt.Errorf("message missing id or conversation id")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(msgKey(m.Conversation, m.ID), data, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg_id", m.ID, "error", err)
		return err
	}
	if err := db.Set(latestKey(m.ID), data, pebble.Sync); err != nil {
		logger.Error("update_message_index_failed", "msg_id", m.ID, "error", err)
		return err
	}
	return nil
}

// GetMessage returns the current version of a message by id.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get(latestKey(msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages for a conversation in persistence order,
// skipping offset records and returning at most limit (0 = no limit).
func ListMessages(convID string, limit, offset int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := msgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	skipped := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid stored message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ListThread returns the direct children of a parent message, in
// creation order.
func ListThread(parentID string) ([]models.Message, error) {
	parent, err := GetMessage(parentID)
	if err != nil {
		return nil, err
	}
	msgs, err := ListMessages(parent.Conversation, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []models.Message
	for _, m := range msgs {
		if m.ReplyTo == parentID {
			out = append(out, m)
		}
	}
	return out, nil
}

// DeleteMessageRecord removes a message and its id index entirely. Used
// by retention when purging aged tombstones, not by the soft-delete path.
func DeleteMessageRecord(convID, msgID string) error {
	if db == nil {
		return notOpened()
	}
	if err := db.Delete(msgKey(convID, msgID), pebble.Sync); err != nil {
		return err
	}
	return db.Delete(latestKey(msgID), pebble.Sync)
}

// SaveConversation stores conversation metadata under its reserved key.
func SaveConversation(c models.Conversation) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := db.Set(convMetaKey(c.ID), data, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	return nil
}

// GetConversation returns stored conversation metadata by id.
func GetConversation(convID string) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, notOpened()
	}
	v, closer, err := db.Get(convMetaKey(convID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return c, ErrNotFound
		}
		return c, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all stored conversation metadata.
func ListConversations() ([]models.Conversation, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !bytes.HasSuffix(k, []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("invalid stored conversation at %s: %w", k, err)
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// SetDirectIndex records the sorted-pair index for a direct conversation.
func SetDirectIndex(a, b, convID string) error {
	if db == nil {
		return notOpened()
	}
	return db.Set([]byte(DirectPairKey(a, b)), []byte(convID), pebble.Sync)
}

// LookupDirect resolves the direct conversation id for the unordered
// pair (a, b), or ErrNotFound.
func LookupDirect(a, b string) (string, error) {
	if db == nil {
		return "", notOpened()
	}
	v, closer, err := db.Get([]byte(DirectPairKey(a, b)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// MarkRead records a read receipt for (msgID, userID). It is idempotent:
// the first call writes the receipt and returns true, repeats return
// false with the original readAt left untouched.
func MarkRead(msgID, userID string, readAt int64) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	key := readKey(msgID, userID)
	if _, closer, err := db.Get(key); err == nil {
		closer.Close()
		return false, nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return false, err
	}
	val := strconv.FormatInt(readAt, 10)
	if err := db.Set(key, []byte(val), pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// IsRead reports whether userID has read the message.
func IsRead(msgID, userID string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get(readKey(msgID, userID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// ReadReceipt is one (user, readAt) entry in a message's read-by set.
type ReadReceipt struct {
	UserID string `json:"userId"`
	ReadAt int64  `json:"readAt"`
}

// ReadBy returns the read-by set of a message.
func ReadBy(msgID string) ([]ReadReceipt, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := readPrefix(msgID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []ReadReceipt
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		userID := strings.TrimPrefix(string(iter.Key()), string(prefix))
		ts, _ := strconv.ParseInt(string(iter.Value()), 10, 64)
		out = append(out, ReadReceipt{UserID: userID, ReadAt: ts})
	}
	return out, iter.Error()
}

// CountUnread recomputes the unread count for (userID, convID) from the
// log: messages authored by someone else and not yet marked read.
func CountUnread(convID, userID string) (int, error) {
	msgs, err := ListMessages(convID, 0, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Sender == userID {
			continue
		}
		read, err := IsRead(m.ID, userID)
		if err != nil {
			return 0, err
		}
		if !read {
			n++
		}
	}
	return n, nil
}
