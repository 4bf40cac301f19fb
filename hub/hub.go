package hub

import (
	"log/slog"
	"sync"

	"chat-relay-server/domain"
	"chat-relay-server/metrics"
)

type binding struct {
	conn     domain.Connection
	identity string
	roomKey  string
}

// Registry owns three consistent indices over live connections: the
// per-connection binding, the room member sets, and the per-identity
// connection sets (one identity may have several devices online). All
// mutation goes through the mutex; handlers run on separate goroutines.
type Registry struct {
	mu         sync.RWMutex
	bindings   map[string]binding
	rooms      map[string]map[string]domain.Connection
	identities map[string]map[string]domain.Connection
}

func New() *Registry {
	return &Registry{
		bindings:   make(map[string]binding),
		rooms:      make(map[string]map[string]domain.Connection),
		identities: make(map[string]map[string]domain.Connection),
	}
}

// Join binds conn to self and the room shared with target, replacing any
// prior binding for the same connection. Room and identity sets are
// created lazily. Returns the room key.
func (r *Registry) Join(conn domain.Connection, self, target string) string {
	key := domain.RoomKey(self, target)

	r.mu.Lock()
	if prev, ok := r.bindings[conn.ID()]; ok {
		r.dropLocked(conn.ID(), prev)
	}
	r.bindings[conn.ID()] = binding{conn: conn, identity: self, roomKey: key}

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]domain.Connection)
		r.rooms[key] = room
	}
	room[conn.ID()] = conn

	conns, ok := r.identities[self]
	if !ok {
		conns = make(map[string]domain.Connection)
		r.identities[self] = conns
	}
	conns[conn.ID()] = conn
	members := len(room)
	r.mu.Unlock()

	slog.Info("client joined", "identity", self, "room", key, "members", members)
	return key
}

// Release removes conn from all three indices. Releasing an unbound
// connection is a no-op.
func (r *Registry) Release(conn domain.Connection) {
	r.mu.Lock()
	b, ok := r.bindings[conn.ID()]
	if ok {
		r.dropLocked(conn.ID(), b)
		delete(r.bindings, conn.ID())
	}
	r.mu.Unlock()

	if ok {
		slog.Info("client released", "identity", b.identity, "room", b.roomKey)
	}
}

// dropLocked removes a connection from the room and identity sets of a
// binding. The identity entry is pruned when its set empties; the room
// entry may stay behind empty. Caller holds the write lock.
func (r *Registry) dropLocked(connID string, b binding) {
	if room, ok := r.rooms[b.roomKey]; ok {
		delete(room, connID)
	}
	if conns, ok := r.identities[b.identity]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.identities, b.identity)
		}
	}
}

// Binding reports the identity and room currently bound to conn.
func (r *Registry) Binding(conn domain.Connection) (string, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[conn.ID()]
	if !ok {
		return "", "", false
	}
	return b.identity, b.roomKey, true
}

// DispatchToRoom sends payload to every member of the room, best effort.
// A send to a closed or congested connection is skipped, never an error.
func (r *Registry) DispatchToRoom(roomKey string, payload []byte) {
	for _, conn := range r.roomSnapshot(roomKey) {
		if err := conn.Send(payload); err != nil {
			slog.Debug("room send skipped", "room", roomKey, "clientId", conn.ID(), "error", err)
		}
	}
	metrics.RoomDispatches.Inc()
}

// DispatchToIdentity sends payload to every open connection bound to the
// identity, regardless of room membership.
func (r *Registry) DispatchToIdentity(identity string, payload []byte) {
	for _, conn := range r.identitySnapshot(identity) {
		if !conn.Open() {
			continue
		}
		if err := conn.Send(payload); err != nil {
			slog.Debug("identity send skipped", "identity", identity, "clientId", conn.ID(), "error", err)
		}
	}
}

func (r *Registry) roomSnapshot(roomKey string) []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	conns := make([]domain.Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) identitySnapshot(identity string) []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.identities[identity]
	if !ok {
		return nil
	}
	conns := make([]domain.Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports live room, identity, and connection counts.
func (r *Registry) Stats() (rooms, identities, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, room := range r.rooms {
		if len(room) > 0 {
			rooms++
		}
	}
	return rooms, len(r.identities), len(r.bindings)
}
