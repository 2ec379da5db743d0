package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/whiteboard/protocol"
	"github.com/zlnvch/whiteboard/relay"
	"github.com/zlnvch/whiteboard/service"
)

const Subprotocol = "whiteboard-v1"

type Handler struct {
	Service *service.Service
	Relay   *relay.Relay
	Hub     *Hub
}

func NewHandler(svc *service.Service, r *relay.Relay, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Relay:   r,
		Hub:     hub,
	}
}

// NewWsUpgrader accepts browsers from allowedOrigin and clients that send no
// Origin at all. An empty allowedOrigin accepts every origin.
func (h *Handler) NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
		Subprotocols: []string{Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 || strings.TrimSpace(protocolsSplit[0]) != Subprotocol {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	identity, authErr := h.Service.AuthenticateToken(token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, identity, h.HandleWsMessage)
	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// HandleWsMessage runs on the client's read goroutine, so events from one
// connection reach the relay in the order they were sent.
func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	event, err := protocol.Decode(messageBytes)
	if err != nil {
		log.Printf("Dropping frame from %s: %v", client.connId, err)
		return
	}

	if !protocol.ClientOriginated(event.Type()) {
		log.Printf("Dropping %s from %s: not a client event", event.Type(), client.connId)
		return
	}

	switch e := event.(type) {
	case protocol.JoinRoom:
		h.handleJoin(client, e)

	case protocol.DrawLine:
		if h.broadcast(client, e.RoomId, messageBytes) {
			h.Service.RecordStroke(e.RoomId)
		}

	case protocol.Clear:
		h.broadcast(client, e.RoomId, messageBytes)

	case protocol.CursorMove:
		// The sender's identity comes from the connection, not the frame
		e.ConnectionId = client.connId
		e.Username = client.identity.DisplayName
		h.encodeAndBroadcast(client, e)

	case protocol.SendMessage:
		h.handleChat(client, e)
	}
}

func (h *Handler) handleJoin(client *Client, join protocol.JoinRoom) {
	if err := service.ValidateRoomId(join.RoomId); err != nil {
		log.Printf("Join from %s rejected: %v", client.connId, err)
		return
	}

	if current, ok := h.Relay.Registry().RoomOf(client.connId); ok && current == join.RoomId {
		return
	}

	if previous, emptied := h.Relay.Join(context.Background(), client, join.RoomId); previous != "" {
		h.Service.MemberLeft(previous, emptied)
	}
	h.Service.MemberJoined(join.RoomId)
}

func (h *Handler) handleChat(client *Client, send protocol.SendMessage) {
	msg := send.Message
	if err := service.ValidateChatText(msg.Text); err != nil {
		log.Printf("Chat from %s rejected: %v", client.connId, err)
		return
	}
	if msg.Id == "" {
		msg.Id = uuid.Must(uuid.NewV4()).String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.Sender = client.identity.DisplayName

	if h.encodeAndBroadcast(client, protocol.ReceiveMessage{RoomId: send.RoomId, Message: msg}) {
		h.Service.RecordMessage(send.RoomId)
	}
}

func (h *Handler) encodeAndBroadcast(client *Client, event protocol.Event) bool {
	frame, err := protocol.Encode(event)
	if err != nil {
		log.Printf("Failed to encode %s: %v", event.Type(), err)
		return false
	}
	return h.broadcast(client, event.Room(), frame)
}

func (h *Handler) broadcast(client *Client, roomId string, frame []byte) bool {
	if _, err := h.Relay.Broadcast(context.Background(), client, roomId, frame); err != nil {
		if errors.Is(err, relay.ErrNotMember) {
			log.Printf("Dropping frame from %s for room %s: not a member", client.connId, roomId)
		} else {
			log.Printf("Broadcast to room %s failed: %v", roomId, err)
		}
		return false
	}
	return true
}
