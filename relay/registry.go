package relay

import "sync"

// Member is one connection as seen by the relay.
type Member interface {
	ConnectionId() string
	// Deliver queues frame for the connection. It must not block and returns
	// false when the frame was dropped (queue full or connection gone).
	Deliver(frame []byte) bool
}

// Registry maps room ids to their member connections. Join and Leave take
// the write lock; broadcasts read a snapshot under the read lock, so a
// member that left a moment ago may still see one stray frame.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]Member
	memberRoom map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:      make(map[string]map[string]Member),
		memberRoom: make(map[string]string),
	}
}

// Join puts m in roomId, removing it from any other room first. previous is
// the room m was moved out of, previousEmptied reports whether that left it
// empty, and created whether roomId came into existence with this call.
func (r *Registry) Join(m Member, roomId string) (previous string, previousEmptied bool, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connId := m.ConnectionId()
	if current, ok := r.memberRoom[connId]; ok {
		if current == roomId {
			r.rooms[roomId][connId] = m
			return "", false, false
		}
		previous = current
		previousEmptied = r.removeLocked(connId, current)
	}

	members, ok := r.rooms[roomId]
	if !ok {
		members = make(map[string]Member)
		r.rooms[roomId] = members
		created = true
	}
	members[connId] = m
	r.memberRoom[connId] = roomId

	return previous, previousEmptied, created
}

// Leave removes the connection from whatever room it is in.
func (r *Registry) Leave(connId string) (roomId string, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomId, ok := r.memberRoom[connId]
	if !ok {
		return "", false
	}
	return roomId, r.removeLocked(connId, roomId)
}

func (r *Registry) removeLocked(connId string, roomId string) bool {
	delete(r.memberRoom, connId)
	delete(r.rooms[roomId], connId)
	if len(r.rooms[roomId]) == 0 {
		delete(r.rooms, roomId)
		return true
	}
	return false
}

// Snapshot returns the members of roomId other than exclude.
func (r *Registry) Snapshot(roomId string, exclude string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomId]
	out := make([]Member, 0, len(members))
	for connId, m := range members {
		if connId != exclude {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) RoomOf(connId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomId, ok := r.memberRoom[connId]
	return roomId, ok
}

func (r *Registry) Size(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomId])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
