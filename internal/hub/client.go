package hub

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size. SDP fits easily; the rest is headroom for inline chat images.
	maxMessageSize = 512 * 1024

	// Outbound frames buffered per connection before the hub starts dropping.
	sendBuffer = 256
)

// Client is one websocket connection to the relay.
type Client struct {
	// ID is the connection id handed out in the welcome frame.
	ID string

	// Name is the display name; empty until the connection joins.
	Name string

	// Send is drained by WritePump. Only the hub writes to or closes it.
	Send chan *Message

	hub     *Hub
	conn    *websocket.Conn
	limiter *ratelimit.Bucket

	joined bool
	seq    uint64
}

// NewClient wraps an upgraded connection. limiter throttles every frame but
// call signaling; nil means no limit.
func NewClient(h *Hub, conn *websocket.Conn, limiter *ratelimit.Bucket) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Send:    make(chan *Message, sendBuffer),
		hub:     h,
		conn:    conn,
		limiter: limiter,
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("read failed", "client", c.ID, "error", err)
			}
			return
		}

		if c.limiter != nil && !isSignaling(msg.Type) && c.limiter.TakeAvailable(1) == 0 {
			c.hub.log.Warn("rate limit exceeded, frame dropped", "client", c.ID, "type", msg.Type)
			continue
		}

		msg.client = c
		if !c.hub.submit(&msg) {
			return
		}
	}
}

// isSignaling reports frames that carry call setup. They bypass the rate
// limit; a dropped answer or candidate leaves a link stuck.
func isSignaling(typ string) bool {
	switch typ {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.log.Warn("write failed", "client", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
