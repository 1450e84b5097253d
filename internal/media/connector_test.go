package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/logging"
	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

type fakeProvisioner struct {
	ensureErr error
	tokenErr  error
	ensures   atomic.Int32
	tokens    atomic.Int32
}

func (p *fakeProvisioner) EnsureRoom(ctx context.Context, roomID string) (rooms.Info, error) {
	p.ensures.Add(1)
	if p.ensureErr != nil {
		return rooms.Info{}, p.ensureErr
	}
	return rooms.Info{ID: roomID, Status: rooms.StatusCreated}, nil
}

func (p *fakeProvisioner) IssueToken(ctx context.Context, roomID, identity string) (string, error) {
	p.tokens.Add(1)
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	return "cred-" + roomID, nil
}

type fakeLink struct {
	mu      sync.Mutex
	closed  int
	toggles map[TrackKind]bool
}

func (l *fakeLink) SetTrackEnabled(kind TrackKind, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.toggles == nil {
		l.toggles = make(map[TrackKind]bool)
	}
	l.toggles[kind] = enabled
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

// fakeTransport fails the first failures dials. Every dial emits a
// participant_joined event for "remote" before returning.
type fakeTransport struct {
	failures int
	gate     chan struct{}
	dials    atomic.Int32
	link     *fakeLink
}

func (tr *fakeTransport) Dial(ctx context.Context, req DialRequest, dispatch Dispatch) (Link, error) {
	n := int(tr.dials.Add(1))
	if tr.gate != nil {
		<-tr.gate
	}
	dispatch(Event{Kind: ParticipantJoined, RoomID: req.RoomID, Participant: "remote"})
	if n <= tr.failures {
		return nil, errors.New("dial refused")
	}
	if tr.link == nil {
		tr.link = &fakeLink{}
	}
	return tr.link, nil
}

func grantedGate() *PermissionGate {
	g := NewPermissionGate()
	g.Resolve(true)
	return g
}

func newTestConnector(p Provisioner, tr Transport, gate AccessGate) *Connector {
	return NewConnector(p, tr, gate, ConnectorConfig{
		Identity:   "host",
		Attempts:   3,
		RetryDelay: time.Millisecond,
	}, logging.Discard())
}

func TestConnector_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on third attempt with one roster entry", func(t *testing.T) {
		gate := grantedGate()
		tr := &fakeTransport{failures: 2}
		c := newTestConnector(&fakeProvisioner{}, tr, gate)

		h, err := c.Connect(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, 3, h.Attempts())
		assert.Equal(t, int32(3), tr.dials.Load())

		var events []Event
		h.Attach(func(ev Event) { events = append(events, ev) })
		assert.Len(t, events, 1)
		assert.Equal(t, 1, gate.Holders())
	})

	t.Run("all attempts fail", func(t *testing.T) {
		gate := grantedGate()
		c := newTestConnector(&fakeProvisioner{}, &fakeTransport{failures: 3}, gate)

		h, err := c.Connect(ctx, "main")
		assert.Nil(t, h)

		var tce *TransportConnectError
		require.ErrorAs(t, err, &tce)
		assert.Equal(t, 3, tce.Attempts)
		assert.Equal(t, "main", tce.RoomID)
		assert.Equal(t, 0, gate.Holders(), "access released after failure")
	})

	t.Run("permission denied", func(t *testing.T) {
		gate := NewPermissionGate()
		gate.Resolve(false)
		p := &fakeProvisioner{}
		tr := &fakeTransport{}
		c := newTestConnector(p, tr, gate)

		_, err := c.Connect(ctx, "main")
		assert.ErrorIs(t, err, ErrMediaAccess)
		assert.Equal(t, int32(0), p.ensures.Load())
		assert.Equal(t, int32(0), tr.dials.Load())
	})

	t.Run("capacity is not retried", func(t *testing.T) {
		p := &fakeProvisioner{ensureErr: rooms.ErrRoomAtCapacity}
		tr := &fakeTransport{}
		gate := grantedGate()
		c := newTestConnector(p, tr, gate)

		_, err := c.Connect(ctx, "main")
		assert.ErrorIs(t, err, ErrRoomAtCapacity)
		assert.Equal(t, int32(1), p.ensures.Load())
		assert.Equal(t, int32(0), p.tokens.Load())
		assert.Equal(t, int32(0), tr.dials.Load())
		assert.Equal(t, 0, gate.Holders())
	})

	t.Run("token failure is not retried", func(t *testing.T) {
		p := &fakeProvisioner{tokenErr: errors.New("no token")}
		tr := &fakeTransport{}
		c := newTestConnector(p, tr, grantedGate())

		_, err := c.Connect(ctx, "main")
		assert.Error(t, err)
		assert.Equal(t, int32(1), p.tokens.Load())
		assert.Equal(t, int32(0), tr.dials.Load())
	})

	t.Run("concurrent connect shares the handle", func(t *testing.T) {
		tr := &fakeTransport{gate: make(chan struct{})}
		c := newTestConnector(&fakeProvisioner{}, tr, grantedGate())

		var wg sync.WaitGroup
		handles := make([]*Handle, 2)
		for i := range handles {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := c.Connect(ctx, "main")
				assert.NoError(t, err)
				handles[i] = h
			}(i)
		}

		assert.Eventually(t, func() bool { return tr.dials.Load() == 1 }, time.Second, time.Millisecond)
		close(tr.gate)
		wg.Wait()

		assert.Same(t, handles[0], handles[1])
		assert.Equal(t, int32(1), tr.dials.Load())
	})

	t.Run("failed connect can be retried later", func(t *testing.T) {
		tr := &fakeTransport{failures: 3}
		c := newTestConnector(&fakeProvisioner{}, tr, grantedGate())

		_, err := c.Connect(ctx, "main")
		require.Error(t, err)

		h, err := c.Connect(ctx, "main")
		require.NoError(t, err)
		assert.NotNil(t, h)
	})
}

func TestConnector_Disconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("releases link and access once", func(t *testing.T) {
		gate := grantedGate()
		tr := &fakeTransport{}
		c := newTestConnector(&fakeProvisioner{}, tr, gate)

		h, err := c.Connect(ctx, "main")
		require.NoError(t, err)

		require.NoError(t, c.Disconnect(h))
		require.NoError(t, c.Disconnect(h))
		assert.Equal(t, 1, tr.link.closed)
		assert.Equal(t, 0, gate.Holders())

		assert.ErrorIs(t, c.SetAudioEnabled(h, false), ErrHandleClosed)
	})

	t.Run("nil and partial handles", func(t *testing.T) {
		c := newTestConnector(&fakeProvisioner{}, &fakeTransport{}, grantedGate())
		assert.NoError(t, c.Disconnect(nil))
		assert.NoError(t, c.Disconnect(newHandle("x", grantedGate())))
	})

	t.Run("events after disconnect are dropped", func(t *testing.T) {
		c := newTestConnector(&fakeProvisioner{}, &fakeTransport{}, grantedGate())
		h, err := c.Connect(ctx, "main")
		require.NoError(t, err)

		var got []Event
		h.Attach(func(ev Event) { got = append(got, ev) })
		require.NoError(t, c.Disconnect(h))

		h.deliver(Event{Kind: ParticipantLeft, Participant: "remote"})
		assert.Len(t, got, 1)
	})
}

func TestConnector_Tracks(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestConnector(&fakeProvisioner{}, tr, grantedGate())

	h, err := c.Connect(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, h.AudioEnabled())

	require.NoError(t, c.SetAudioEnabled(h, false))
	require.NoError(t, c.SetVideoEnabled(h, false))

	assert.False(t, h.AudioEnabled())
	assert.False(t, h.VideoEnabled())
	assert.False(t, tr.link.toggles[TrackAudio])
	assert.False(t, tr.link.toggles[TrackVideo])
}

func TestPermissionGate_AcquireWaits(t *testing.T) {
	gate := NewPermissionGate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, gate.Acquire(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		gate.Resolve(true)
	}()
	assert.NoError(t, gate.Acquire(context.Background()))
	assert.Equal(t, 1, gate.Holders())
}
