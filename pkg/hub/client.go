package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxEnvelopeLen = 64 * 1024
)

// Client is one live connection. UserID stays empty until the
// authenticate handshake admits it into the registry.
type Client struct {
	hub  *Hub
	conn Conn

	UserID   string
	UserName string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lim       *rate.Limiter
	lastSeen  atomic.Int64
}

func newClient(h *Hub, conn Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
		lim:  rate.NewLimiter(rate.Limit(h.limitRPS), h.limitBurst),
	}
	c.lastSeen.Store(time.Now().UTC().UnixNano())
	return c
}

// LastSeen returns the timestamp (ns) of the last inbound activity.
func (c *Client) LastSeen() int64 { return c.lastSeen.Load() }

// Authenticated reports whether the handshake completed.
func (c *Client) Authenticated() bool { return c.UserID != "" }

// Send encodes env and enqueues it for delivery. It never blocks: a full
// outbound queue drops the envelope and reports false.
func (c *Client) Send(env models.Envelope) bool {
	b, err := EncodeEnvelope(env)
	if err != nil {
		logger.Error("envelope_encode_failed", "type", env.Type, "error", err)
		return false
	}
	return c.enqueue(b)
}

// SendError replies with an error envelope. class labels the metric only;
// the wire format carries just the message and a timestamp.
func (c *Client) SendError(class, msg string) {
	telemetry.EnvelopeErrors.WithLabelValues(class).Inc()
	c.Send(models.NewEnvelope(models.TypeError, models.ErrorData{
		Error:     msg,
		Timestamp: time.Now().UTC().UnixNano(),
	}))
}

func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		telemetry.FanoutDeliveries.Inc()
		return true
	default:
		telemetry.FanoutDrops.Inc()
		logger.Warn("outbound_queue_full", "user", c.UserID)
		return false
	}
}

// Close shuts the connection down. The read pump observes the closed
// transport and runs the normal cleanup path.
func (c *Client) Close() { c.close() }

// close shuts the transport down exactly once and wakes the write pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump parses inbound envelopes and hands them to the dispatcher.
// It owns connection cleanup: when the loop exits for any reason the
// client leaves the registry through the single Remove path.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxEnvelopeLen)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("connection_read_error", "user", c.UserID, "error", err)
			}
			return
		}
		c.lastSeen.Store(time.Now().UTC().UnixNano())
		if !c.lim.Allow() {
			c.SendError("rate_limit", "rate limit exceeded")
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.SendError("protocol", "invalid envelope")
			continue
		}
		if env.Type == "" {
			c.SendError("protocol", "missing envelope type")
			continue
		}
		c.hub.dispatch(c, env)
	}
}

// writePump drains the outbound queue and keeps the connection alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// drain whatever was queued before shutdown
			for {
				select {
				case b := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
					return
				}
			}
		}
	}
}
