package hub

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"chatrelay/pkg/models"
)

// fakeConn satisfies Conn without a network. Reads block-fail with EOF;
// writes are recorded.
type fakeConn struct {
	mu     sync.Mutex
	closed bool
	frames [][]byte
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }
func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeConn) SetReadLimit(int64)                 {}
func (f *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)  {}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestAdmitRegistersIdentity(t *testing.T) {
	h := New(Config{})
	c := h.NewTestClient(&fakeConn{})
	h.Admit(c, "alice", "Alice")
	if !h.IsOnline("alice") {
		t.Fatalf("expected alice online")
	}
	if got := h.LookupName("alice"); got != "Alice" {
		t.Fatalf("expected display name Alice, got %q", got)
	}
	if len(h.Active()) != 1 {
		t.Fatalf("expected one active entry")
	}
}

func TestAdmitSupersedesOldConnection(t *testing.T) {
	h := New(Config{})
	oldConn := &fakeConn{}
	old := h.NewTestClient(oldConn)
	h.Admit(old, "alice", "Alice")

	newer := h.NewTestClient(&fakeConn{})
	h.Admit(newer, "alice", "Alice")

	if !oldConn.isClosed() {
		t.Fatalf("expected superseded transport to be closed")
	}
	if !h.IsOnline("alice") {
		t.Fatalf("alice must stay online on the newer connection")
	}

	// the superseded connection's cleanup must not evict the newer one
	h.Remove(old)
	if !h.IsOnline("alice") {
		t.Fatalf("removing superseded connection cleared presence")
	}
	h.Remove(newer)
	if h.IsOnline("alice") {
		t.Fatalf("expected alice offline after authoritative removal")
	}
}

func TestSendToUsersSkipsExcept(t *testing.T) {
	h := New(Config{})
	alice := h.NewTestClient(&fakeConn{})
	bob := h.NewTestClient(&fakeConn{})
	h.Admit(alice, "alice", "Alice")
	h.Admit(bob, "bob", "Bob")
	// drain the presence events queued during admit
	for len(alice.send) > 0 {
		<-alice.send
	}
	for len(bob.send) > 0 {
		<-bob.send
	}

	env := models.NewEnvelope(models.TypeNewMessage, map[string]string{"x": "y"})
	h.SendToUsers([]string{"alice", "bob", "carol"}, env, "alice")

	if len(alice.send) != 0 {
		t.Fatalf("excluded recipient received envelope")
	}
	if len(bob.send) != 1 {
		t.Fatalf("expected exactly one envelope for bob, got %d", len(bob.send))
	}
	var got models.Envelope
	if err := json.Unmarshal(<-bob.send, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != models.TypeNewMessage {
		t.Fatalf("unexpected type %q", got.Type)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	h := New(Config{SendBuffer: 1})
	c := h.NewTestClient(&fakeConn{})
	if ok := c.Send(models.NewEnvelope(models.TypeError, nil)); !ok {
		t.Fatalf("first send should fit the queue")
	}
	if ok := c.Send(models.NewEnvelope(models.TypeError, nil)); ok {
		t.Fatalf("second send should drop on a full queue")
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	env := models.NewEnvelope(models.TypeUserTyping, models.UserTypingData{
		ConversationID: "c1", UserID: "alice", IsTyping: true,
	})
	b, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got models.Envelope
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var data models.UserTypingData
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.UserID != "alice" || !data.IsTyping {
		t.Fatalf("unexpected payload %+v", data)
	}
}
