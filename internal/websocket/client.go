package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 4 * 1024

	sendBuffer = 32
)

// Client is a single snapshot stream connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	ConversationID string
	UserID         string

	abnormal  atomic.Bool
	closeOnce sync.Once
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, conversationID, userID string) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		ConversationID: conversationID,
		UserID:         userID,
	}
}

// Abnormal reports whether the peer went away without a close handshake.
func (c *Client) Abnormal() bool { return c.abnormal.Load() }

func (c *Client) disconnect() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ReadPump watches the connection for closure. Incoming data frames are
// ignored; the stream is one-way.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.disconnect()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.abnormal.Store(true)
				c.hub.logger.Debug().Err(err).Str("user", c.UserID).Msg("connection lost")
			}
			return
		}
	}
}

// WritePump pumps frames from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.disconnect()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one frame per snapshot; concatenating would break JSON parsing
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
