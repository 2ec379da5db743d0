package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/zlnvch/whiteboard/protocol"
)

var ErrNotMember = errors.New("sender is not a member of the room")

// A stalled bus must not hold up the caller, which may be the hub loop.
const publishTimeout = 2 * time.Second

// Bus carries frames between relay processes that share rooms.
type Bus interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error
}

type busMessage struct {
	Origin string `json:"origin"`
	Sender string `json:"sender"`
	Room   string `json:"room"`
	Frame  []byte `json:"frame"`
}

// Relay fans frames out to the other members of a room. It never looks
// inside the frames it forwards.
type Relay struct {
	registry   *Registry
	bus        Bus
	instanceId string

	subMu sync.Mutex
	subs  map[string]context.CancelFunc
}

type Option func(*Relay)

// WithBus shares rooms with other relay processes publishing on the same bus.
func WithBus(bus Bus, instanceId string) Option {
	return func(r *Relay) {
		r.bus = bus
		r.instanceId = instanceId
	}
}

func New(opts ...Option) *Relay {
	r := &Relay{
		registry: NewRegistry(),
		subs:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

func busChannel(roomId string) string {
	return "room:" + roomId
}

// Join adds m to roomId. Joining the current room again is a no-op; joining
// another room moves m and tells the old room it left. It returns the room m
// left, if any, and whether that room is now empty on this relay.
func (r *Relay) Join(ctx context.Context, m Member, roomId string) (string, bool) {
	previous, previousEmptied, created := r.registry.Join(m, roomId)
	if previous != "" {
		r.departed(ctx, m.ConnectionId(), previous, previousEmptied)
	}
	if created && r.bus != nil {
		r.subscribe(roomId)
	}
	return previous, previousEmptied
}

// Broadcast delivers frame to every other member of roomId, preserving the
// order in which a single sender calls it. It returns how many local members
// accepted the frame. A room with no other members is not an error.
func (r *Relay) Broadcast(ctx context.Context, sender Member, roomId string, frame []byte) (int, error) {
	senderId := sender.ConnectionId()
	if current, ok := r.registry.RoomOf(senderId); !ok || current != roomId {
		return 0, ErrNotMember
	}

	delivered := r.deliverLocal(roomId, senderId, frame)
	r.publish(ctx, roomId, senderId, frame)
	return delivered, nil
}

// Leave removes the connection from its room, tells the remaining members,
// and drops the room when it is empty. It returns the room left ("" when the
// connection had none) and whether it emptied on this relay.
func (r *Relay) Leave(ctx context.Context, connId string) (string, bool) {
	roomId, emptied := r.registry.Leave(connId)
	if roomId == "" {
		return "", false
	}
	r.departed(ctx, connId, roomId, emptied)
	return roomId, emptied
}

func (r *Relay) departed(ctx context.Context, connId string, roomId string, emptied bool) {
	frame, err := protocol.Encode(protocol.MemberLeft{RoomId: roomId, ConnectionId: connId})
	if err != nil {
		log.Printf("Failed to encode member-left for %s: %v", connId, err)
	} else {
		r.deliverLocal(roomId, connId, frame)
		r.publish(ctx, roomId, connId, frame)
	}

	if emptied {
		r.unsubscribe(roomId)
	}
}

func (r *Relay) deliverLocal(roomId string, exclude string, frame []byte) int {
	delivered := 0
	for _, m := range r.registry.Snapshot(roomId, exclude) {
		if m.Deliver(frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Relay) publish(ctx context.Context, roomId string, senderId string, frame []byte) {
	if r.bus == nil {
		return
	}
	msg, err := json.Marshal(busMessage{Origin: r.instanceId, Sender: senderId, Room: roomId, Frame: frame})
	if err != nil {
		log.Printf("Failed to marshal bus message for room %s: %v", roomId, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.bus.Publish(ctx, busChannel(roomId), msg); err != nil {
		log.Printf("Failed to publish to room %s: %v", roomId, err)
	}
}

func (r *Relay) subscribe(roomId string) {
	ctx, cancel := context.WithCancel(context.Background())
	err := r.bus.Subscribe(ctx, busChannel(roomId), func(message []byte) {
		var msg busMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid bus message on room %s: %v", roomId, err)
			return
		}
		if msg.Origin == r.instanceId {
			return
		}
		r.deliverLocal(roomId, msg.Sender, msg.Frame)
	})
	if err != nil {
		cancel()
		log.Printf("Failed to subscribe to room %s, serving local members only: %v", roomId, err)
		return
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	// The room may have emptied, or been recreated and subscribed again,
	// while Subscribe was in flight.
	if _, exists := r.subs[roomId]; exists || r.registry.Size(roomId) == 0 {
		cancel()
		return
	}
	r.subs[roomId] = cancel
}

func (r *Relay) unsubscribe(roomId string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if cancel, ok := r.subs[roomId]; ok {
		cancel()
		delete(r.subs, roomId)
	}
}

// Close drops every bus subscription.
func (r *Relay) Close() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for roomId, cancel := range r.subs {
		cancel()
		delete(r.subs, roomId)
	}
}
