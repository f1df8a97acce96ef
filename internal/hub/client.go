package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

// Client is one live websocket connection. The identity is set at handshake
// and never changes afterwards. All inbound events for a connection are
// handled sequentially by its single read pump.
type Client struct {
	ID       string
	Identity domain.Identity
	Conn     *websocket.Conn
	Send     chan []byte

	cfg       config.WebSocketConfig
	closeOnce sync.Once
}

// NewClient creates a client for an upgraded connection.
func NewClient(id string, identity domain.Identity, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		cfg:      cfg,
	}
}

// ReadPump reads frames from the connection and hands each one to handler.
// Frames are processed to completion one at a time, which keeps events from
// a single connection ordered. onClose runs exactly once when the pump
// exits, regardless of how the connection died.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.closeOnce.Do(func() { onClose(c) })
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.L().Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains the send channel onto the connection and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent marshals v and queues it for delivery. Events to a slow client
// are dropped rather than blocking the caller.
func (c *Client) SendEvent(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.SendRaw(data)
	return nil
}

// SendRaw queues pre-marshaled bytes for delivery, dropping on backlog.
func (c *Client) SendRaw(data []byte) {
	select {
	case c.Send <- data:
	default:
	}
}
