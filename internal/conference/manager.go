package conference

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/media"
)

// Key identifies a live session: one per host and dialogue
type Key struct {
	UserID     uuid.UUID
	DialogueID uuid.UUID
}

// TranscriptFeed accepts the client's recognized transcript so far
type TranscriptFeed interface {
	Push(transcript string) error
}

// AudioFeed accepts raw audio chunks for server-side recognition
type AudioFeed interface {
	PushAudio(chunk []byte) error
}

// Session is a live orchestrator together with the inputs its client
// drives. Transcripts or Audio is nil depending on the recognizer in use.
type Session struct {
	Key          Key
	Orchestrator *Orchestrator
	Permission   *media.PermissionGate
	Transcripts  TranscriptFeed
	Audio        AudioFeed
}

// Factory builds a fresh session for key
type Factory func(key Key) (*Session, error)

// Manager tracks live sessions
type Manager struct {
	factory Factory
	logger  logrus.FieldLogger

	mu       sync.Mutex
	sessions map[Key]*Session
}

func NewManager(factory Factory, logger logrus.FieldLogger) *Manager {
	return &Manager{
		factory:  factory,
		logger:   logger.WithField("component", "conference_manager"),
		sessions: make(map[Key]*Session),
	}
}

// Acquire returns the live session for key, creating it if needed. An
// ended session is replaced.
func (m *Manager) Acquire(key Key) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok && !s.Orchestrator.Snapshot().Ended {
		return s, false, nil
	}

	s, err := m.factory(key)
	if err != nil {
		return nil, false, err
	}
	m.sessions[key] = s
	m.logger.WithField("dialogue_id", key.DialogueID).Info("conference session created")
	return s, true, nil
}

// Get returns the live session for key
func (m *Manager) Get(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// End ends and forgets the session for key
func (m *Manager) End(ctx context.Context, key Key) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Orchestrator.EndSession(ctx)
}

// Shutdown ends every live session
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[Key]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Orchestrator.EndSession(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
