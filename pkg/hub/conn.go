package hub

import (
	"encoding/json"
	"time"

	"github.com/valyala/bytebufferpool"

	"chatrelay/pkg/models"
)

// Conn is the transport handle a client owns. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// EncodeEnvelope serializes an envelope through a pooled buffer, so the
// per-event encode on the fan-out path does not grow the heap. The
// returned slice is an exact-size copy safe to share across recipients.
func EncodeEnvelope(env models.Envelope) ([]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(env); err != nil {
		return nil, err
	}
	// Encoder appends a trailing newline; keep it, WS frames don't care.
	out := make([]byte, len(bb.B))
	copy(out, bb.B)
	return out, nil
}
