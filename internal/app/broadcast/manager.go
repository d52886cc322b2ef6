// Package broadcast groups live connections by room so a frame can reach
// every connection watching a room without the sender knowing them.
package broadcast

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
)

var ErrUnknownConnection = errors.New("unknown connection")

// PublishResult reports delivery stats to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ConnectionID
}

type entry struct {
	user  domain.UserID
	conn  core.SignalConnection
	rooms map[domain.RoomID]struct{}
}

// Manager is a threadsafe in-memory set of broadcast groups.
// It never closes adapter-owned resources except through Policy.
type Manager struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*entry
	groups map[domain.RoomID]map[domain.ConnectionID]struct{}
	policy Policy
}

func NewManager(policy Policy) *Manager {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Manager{
		conns:  make(map[domain.ConnectionID]*entry),
		groups: make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
		policy: policy,
	}
}

// Attach makes a connection addressable. It reports false if the ID is taken.
func (m *Manager) Attach(id domain.ConnectionID, user domain.UserID, conn core.SignalConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; ok {
		return false
	}
	m.conns[id] = &entry{user: user, conn: conn, rooms: make(map[domain.RoomID]struct{})}
	log.Debug().Str("module", "broadcast").Str("conn", string(id)).Str("user", string(user)).Msg("attached")
	return true
}

// Detach forgets a connection and returns the rooms it was watching.
func (m *Manager) Detach(id domain.ConnectionID) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]domain.RoomID, 0, len(e.rooms))
	for room := range e.rooms {
		m.leaveLocked(room, id)
		rooms = append(rooms, room)
	}
	delete(m.conns, id)
	log.Debug().Str("module", "broadcast").Str("conn", string(id)).Int("rooms", len(rooms)).Msg("detached")
	return rooms
}

// Join adds an attached connection to a room's group.
func (m *Manager) Join(room domain.RoomID, id domain.ConnectionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	g, ok := m.groups[room]
	if !ok {
		g = make(map[domain.ConnectionID]struct{})
		m.groups[room] = g
	}
	g[id] = struct{}{}
	e.rooms[room] = struct{}{}
	return nil
}

func (m *Manager) Leave(room domain.RoomID, id domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(room, id)
}

func (m *Manager) leaveLocked(room domain.RoomID, id domain.ConnectionID) {
	if e, ok := m.conns[id]; ok {
		delete(e.rooms, room)
	}
	g, ok := m.groups[room]
	if !ok {
		return
	}
	delete(g, id)
	if len(g) == 0 {
		delete(m.groups, room)
	}
}

// Drop dissolves a room's group and returns the connections it held.
func (m *Manager) Drop(room domain.RoomID) []domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groups[room]
	out := make([]domain.ConnectionID, 0, len(g))
	for id := range g {
		if e, ok := m.conns[id]; ok {
			delete(e.rooms, room)
		}
		out = append(out, id)
	}
	delete(m.groups, room)
	return out
}

func (m *Manager) Contains(room domain.RoomID, id domain.ConnectionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[room][id]
	return ok
}

func (m *Manager) Members(room domain.RoomID) []domain.ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ConnectionID, 0, len(m.groups[room]))
	for id := range m.groups[room] {
		out = append(out, id)
	}
	return out
}

// UserOf returns the owner of an attached connection.
func (m *Manager) UserOf(id domain.ConnectionID) (domain.UserID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[id]
	if !ok {
		return "", false
	}
	return e.user, true
}

// Send delivers one frame to one connection.
func (m *Manager) Send(id domain.ConnectionID, f core.Frame) error {
	m.mu.RLock()
	e, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return e.conn.TrySend(f)
}

// Publish fans a frame out to every connection of a room except those listed
// in skip. Delivery is best-effort; slow connections are handed to Policy.
func (m *Manager) Publish(room domain.RoomID, f core.Frame, skip ...domain.ConnectionID) PublishResult {
	type target struct {
		id   domain.ConnectionID
		conn core.SignalConnection
	}
	m.mu.RLock()
	targets := make([]target, 0, len(m.groups[room]))
	for id := range m.groups[room] {
		if contains(skip, id) {
			continue
		}
		if e, ok := m.conns[id]; ok {
			targets = append(targets, target{id: id, conn: e.conn})
		}
	}
	m.mu.RUnlock()

	res := PublishResult{}
	for _, t := range targets {
		if err := t.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, t.id)
			m.onDropped(room, t.id, t.conn, err)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "broadcast").Str("room", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("publish result")
	return res
}

func (m *Manager) onDropped(room domain.RoomID, id domain.ConnectionID, conn core.SignalConnection, err error) {
	metrics.BroadcastDroppedTotal.Inc()
	if !errors.Is(err, core.ErrBackpressure) {
		// Connection already closing; its disconnect will clean up.
		return
	}
	switch m.policy.OnBackPressure(room, id) {
	case CloseConnection:
		log.Warn().Str("module", "broadcast").Str("room", string(room)).Str("conn", string(id)).Msg("closing slow connection")
		conn.Close()
	case DropFrame, NoAction:
	}
}

func contains(ids []domain.ConnectionID, id domain.ConnectionID) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
