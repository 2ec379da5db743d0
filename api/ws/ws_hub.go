package ws

import (
	"context"
	"log"

	"github.com/zlnvch/whiteboard/relay"
	"github.com/zlnvch/whiteboard/service"
)

const maxConnectionsPerUser = 5

// Hub tracks open connections per user and takes closed connections out of
// the relay. Room membership itself lives in the relay.
type Hub struct {
	relay         *relay.Relay
	service       *service.Service
	OpenCh        chan *Client
	CloseCh       chan *Client
	userToClients map[string]map[*Client]struct{}
}

func NewHub(r *relay.Relay, svc *service.Service) *Hub {
	return &Hub{
		relay:         r,
		service:       svc,
		OpenCh:        make(chan *Client, 256),
		CloseCh:       make(chan *Client, 256),
		userToClients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			userId := client.identity.Id
			if _, ok := h.userToClients[userId]; !ok {
				h.userToClients[userId] = make(map[*Client]struct{})
			}

			if len(h.userToClients[userId]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", userId, maxConnectionsPerUser)
				client.closeSend()
				continue
			}

			h.userToClients[userId][client] = struct{}{}

		case client := <-h.CloseCh:
			h.leaveRoom(client)

			userId := client.identity.Id
			delete(h.userToClients[userId], client)
			if len(h.userToClients[userId]) == 0 {
				delete(h.userToClients, userId)
			}
			client.closeSend()
		}
	}
}

func (h *Hub) leaveRoom(client *Client) {
	if roomId, emptied := h.relay.Leave(context.Background(), client.connId); roomId != "" {
		h.service.MemberLeft(roomId, emptied)
	}
}
