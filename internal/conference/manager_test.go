package conference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/logging"
	"github.com/gendialogue/dialogue-backend/internal/models"
)

type memDialogues struct {
	mu       sync.Mutex
	statuses map[uuid.UUID][]models.DialogueStatus
	summary  map[uuid.UUID]string
}

func (d *memDialogues) UpdateStatus(ctx context.Context, hostID, id uuid.UUID, status models.DialogueStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = append(d.statuses[id], status)
	return nil
}

func (d *memDialogues) UpdateSummary(ctx context.Context, hostID, id uuid.UUID, summary string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.summary[id] = summary
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memDialogues, *fakeTransport) {
	t.Helper()

	dialogues := &memDialogues{
		statuses: make(map[uuid.UUID][]models.DialogueStatus),
		summary:  make(map[uuid.UUID]string),
	}
	transport := newFakeTransport()
	factory := NewFactory(FactoryConfig{
		Provisioner:     &fakeProvisioner{full: make(map[string]bool)},
		Transport:       transport,
		Enricher:        &fakeEnricher{},
		Dialogues:       dialogues,
		ConnectAttempts: 3,
		RetryDelay:      time.Millisecond,
		CaptureDebounce: 0,
		Enrichment:      quiet,
		Logger:          logging.Discard(),
	})
	m := NewManager(factory, logging.Discard())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, dialogues, transport
}

func TestManager_Acquire(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := Key{UserID: uuid.New(), DialogueID: uuid.New()}

	first, created, err := m.Acquire(key)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, first.Transcripts)
	assert.Nil(t, first.Audio)

	again, created, err := m.Acquire(key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, again)

	other, created, err := m.Acquire(Key{UserID: uuid.New(), DialogueID: key.DialogueID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, m.Count())
}

func TestManager_SessionLifecycle(t *testing.T) {
	m, dialogues, _ := newTestManager(t)
	key := Key{UserID: uuid.New(), DialogueID: uuid.New()}

	s, _, err := m.Acquire(key)
	require.NoError(t, err)

	// Initialize waits for the client's permission answer.
	done := make(chan error, 1)
	go func() {
		done <- s.Orchestrator.Initialize(context.Background(), key.DialogueID.String())
	}()
	s.Permission.Resolve(true)
	require.NoError(t, <-done)

	require.NoError(t, s.Orchestrator.StartListening(context.Background()))
	require.NoError(t, s.Transcripts.Push("good morning"))
	require.NoError(t, s.Transcripts.Push("good morning everyone"))

	main, _ := s.Orchestrator.Snapshot().Room(MainRoomKey)
	assert.Equal(t, "good morning everyone", main.RawTranscript)

	require.NoError(t, s.Orchestrator.EditFormattedTranscript(MainRoomKey, "Good morning, everyone."))
	res := s.Orchestrator.CompileFinal(context.Background())
	require.True(t, res.Success)

	require.NoError(t, m.End(context.Background(), key))
	_, ok := m.Get(key)
	assert.False(t, ok)

	dialogues.mu.Lock()
	defer dialogues.mu.Unlock()
	assert.Equal(t, []models.DialogueStatus{
		models.DialogueStatusInProgress,
		models.DialogueStatusCompleted,
	}, dialogues.statuses[key.DialogueID])
	assert.Equal(t, "S(Good morning, everyone.)", dialogues.summary[key.DialogueID])
}

func TestManager_EndedSessionIsReplaced(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := Key{UserID: uuid.New(), DialogueID: uuid.New()}

	s, _, err := m.Acquire(key)
	require.NoError(t, err)
	require.NoError(t, s.Orchestrator.EndSession(context.Background()))

	next, created, err := m.Acquire(key)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, s, next)
}
