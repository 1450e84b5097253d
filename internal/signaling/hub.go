// Package signaling relays participant and track presence between the
// members of a media room.
package signaling

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/metrics"
)

// Membership admits and removes participants against room capacity
type Membership interface {
	Join(ctx context.Context, roomID, identity string) (int, error)
	Leave(ctx context.Context, roomID, identity string) (int, error)
}

// Peer is one connected signaling socket
type Peer interface {
	WriteJSON(v interface{}) error
	Close() error
}

type member struct {
	identity string
	conn     Peer
	writeMu  sync.Mutex
}

func (m *member) send(msg Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteJSON(msg)
}

// Hub tracks the peers of every room
type Hub struct {
	membership Membership
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]map[string]*member
	peers int
}

// NewHub creates a hub
func NewHub(membership Membership, logger logrus.FieldLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		membership: membership,
		logger:     logger.WithField("component", "signaling"),
		metrics:    m,
		rooms:      make(map[string]map[string]*member),
	}
}

// Admit registers conn as identity in roomID. The new peer receives the
// current roster and everyone else learns about the newcomer.
func (h *Hub) Admit(ctx context.Context, roomID, identity string, conn Peer) error {
	if _, err := h.membership.Join(ctx, roomID, identity); err != nil {
		_ = conn.WriteJSON(Message{Type: TypeError, RoomID: roomID, Error: err.Error()})
		return err
	}

	m := &member{identity: identity, conn: conn}

	h.mu.Lock()
	peers, ok := h.rooms[roomID]
	if !ok {
		peers = make(map[string]*member)
		h.rooms[roomID] = peers
	}
	previous := peers[identity]
	peers[identity] = m
	if previous == nil {
		h.peers++
	}
	roster := make([]string, 0, len(peers))
	others := make([]*member, 0, len(peers))
	for id, p := range peers {
		roster = append(roster, id)
		if id != identity {
			others = append(others, p)
		}
	}
	count := h.peers
	h.mu.Unlock()

	h.metrics.SetSignalingPeers(count)

	if previous != nil {
		// Same identity reconnected; the old socket is stale.
		_ = previous.conn.Close()
	}

	sort.Strings(roster)
	if err := m.send(Message{Type: TypeRoster, RoomID: roomID, Participants: roster}); err != nil {
		h.Remove(roomID, identity, conn)
		return err
	}

	if previous == nil {
		h.broadcast(others, Message{Type: TypeParticipantJoined, RoomID: roomID, Participant: identity})
		for _, track := range []string{"audio", "video"} {
			h.broadcast(others, Message{Type: TypeTrackAdded, RoomID: roomID, Participant: identity, Track: track})
		}
	}

	h.logger.WithFields(logrus.Fields{"room_id": roomID, "identity": identity}).Info("peer admitted")
	return nil
}

// Handle applies one client frame. It reports whether the peer asked to leave.
func (h *Hub) Handle(roomID, identity string, msg Message) bool {
	switch msg.Type {
	case TypeTrack:
		if msg.Track == "" || msg.Enabled == nil {
			return false
		}
		kind := TypeTrackRemoved
		if *msg.Enabled {
			kind = TypeTrackAdded
		}
		h.broadcast(h.others(roomID, identity), Message{Type: kind, RoomID: roomID, Participant: identity, Track: msg.Track})
	case TypeLeave:
		return true
	default:
		h.logger.WithField("type", msg.Type).Debug("ignoring signaling frame")
	}
	return false
}

// Remove unregisters conn. A conn already replaced by a newer socket for the
// same identity is ignored.
func (h *Hub) Remove(roomID, identity string, conn Peer) {
	h.mu.Lock()
	peers := h.rooms[roomID]
	m, ok := peers[identity]
	if !ok || m.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(peers, identity)
	if len(peers) == 0 {
		delete(h.rooms, roomID)
	}
	h.peers--
	count := h.peers
	others := make([]*member, 0, len(peers))
	for _, p := range peers {
		others = append(others, p)
	}
	h.mu.Unlock()

	h.metrics.SetSignalingPeers(count)

	if _, err := h.membership.Leave(context.Background(), roomID, identity); err != nil {
		h.logger.WithError(err).WithField("room_id", roomID).Warn("failed to release room membership")
	}

	h.broadcast(others, Message{Type: TypeParticipantLeft, RoomID: roomID, Participant: identity})
	h.logger.WithFields(logrus.Fields{"room_id": roomID, "identity": identity}).Info("peer left")
}

// CloseRoom disconnects every peer of a room
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	peers := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.peers -= len(peers)
	count := h.peers
	h.mu.Unlock()

	h.metrics.SetSignalingPeers(count)
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

// Participants lists the identities connected to a room
func (h *Hub) Participants(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) others(roomID, identity string) []*member {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*member, 0, len(h.rooms[roomID]))
	for id, p := range h.rooms[roomID] {
		if id != identity {
			out = append(out, p)
		}
	}
	return out
}

func (h *Hub) broadcast(to []*member, msg Message) {
	for _, p := range to {
		if err := p.send(msg); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.WithError(err).WithField("identity", p.identity).Debug("signaling write failed")
		}
	}
}
