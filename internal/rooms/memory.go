package rooms

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRoom struct {
	createdAt    time.Time
	participants map[string]struct{}
}

// MemoryStore keeps rooms in process memory
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memoryRoom
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memoryRoom)}
}

func (m *MemoryStore) Ensure(ctx context.Context, roomID string) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[roomID]; ok {
		return false, room.createdAt, nil
	}
	room := &memoryRoom{createdAt: time.Now(), participants: make(map[string]struct{})}
	m.rooms[roomID] = room
	return true, room.createdAt, nil
}

func (m *MemoryStore) Count(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return 0, ErrRoomNotFound
	}
	return len(room.participants), nil
}

func (m *MemoryStore) Join(ctx context.Context, roomID, participant string, capacity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return 0, ErrRoomNotFound
	}
	if _, present := room.participants[participant]; present {
		return len(room.participants), nil
	}
	if len(room.participants) >= capacity {
		return len(room.participants), ErrRoomAtCapacity
	}
	room.participants[participant] = struct{}{}
	return len(room.participants), nil
}

func (m *MemoryStore) Leave(ctx context.Context, roomID, participant string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return 0, nil
	}
	delete(room.participants, participant)
	return len(room.participants), nil
}

func (m *MemoryStore) Members(ctx context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	members := make([]string, 0, len(room.participants))
	for p := range room.participants {
		members = append(members, p)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, roomID)
	return nil
}
