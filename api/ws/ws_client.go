package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/whiteboard/models"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Large strokes are the
	// biggest frames.
	maxMessageSize = 1024 * 512

	// Outbound frames queued per connection before new ones are dropped.
	sendQueueSize = 128

	// Rate limiting: 60 messages per second with a burst of 120. Cursor
	// moves arrive at pointer sampling rate.
	messagesPerSecond = 60
	burstLimit        = 120
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, identity models.Identity, handler MessageHandler) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		connId:   uuid.Must(uuid.NewV4()).String(),
		identity: identity,
		handler:  handler,
		Send:     make(chan []byte, sendQueueSize),
		limiter:  rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the relay.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	connId   string
	identity models.Identity
	handler  MessageHandler
	Send     chan []byte // Buffered channel of outbound messages.
	limiter  *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func (c *Client) ConnectionId() string {
	return c.connId
}

func (c *Client) Identity() models.Identity {
	return c.identity
}

// Deliver queues frame without blocking. A slow reader loses frames rather
// than stalling the room.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		log.Printf("Dropping frame for %s: send queue full", c.connId)
		return false
	}
}

// closeSend stops delivery and lets WritePump finish the connection.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection %s for user %s: message rate limit exceeded", c.connId, c.identity.Id)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Relay shutting down"),
			)
			return
		}
	}
}
