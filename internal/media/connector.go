package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

const (
	DefaultConnectAttempts = 3
	DefaultRetryDelay      = time.Second
)

// Provisioner is the room provisioning and credential service
type Provisioner interface {
	EnsureRoom(ctx context.Context, roomID string) (rooms.Info, error)
	IssueToken(ctx context.Context, roomID, identity string) (string, error)
}

// DialRequest carries what a transport needs to open one room link
type DialRequest struct {
	RoomID     string
	Identity   string
	Credential string
}

// Link is an open real-time connection
type Link interface {
	SetTrackEnabled(kind TrackKind, enabled bool) error
	Close() error
}

// Transport opens real-time links. Events for the link are passed to
// dispatch, possibly before Dial returns.
type Transport interface {
	Dial(ctx context.Context, req DialRequest, dispatch Dispatch) (Link, error)
}

// ConnectorConfig holds the retry policy and local identity
type ConnectorConfig struct {
	Identity   string
	Attempts   int
	RetryDelay time.Duration
}

// Connector establishes and tears down room connections
type Connector struct {
	provisioner Provisioner
	transport   Transport
	access      AccessGate
	cfg         ConnectorConfig
	logger      logrus.FieldLogger

	mu    sync.Mutex
	conns map[string]*connState
}

type connState struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// NewConnector creates a connector
func NewConnector(provisioner Provisioner, transport Transport, access AccessGate, cfg ConnectorConfig, logger logrus.FieldLogger) *Connector {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConnectAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Connector{
		provisioner: provisioner,
		transport:   transport,
		access:      access,
		cfg:         cfg,
		logger:      logger.WithField("component", "room_connector"),
		conns:       make(map[string]*connState),
	}
}

// Connect opens a connection to roomID. A call for a room that is already
// connecting or connected returns the existing handle.
func (c *Connector) Connect(ctx context.Context, roomID string) (*Handle, error) {
	c.mu.Lock()
	if st, ok := c.conns[roomID]; ok {
		c.mu.Unlock()
		select {
		case <-st.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if st.err != nil {
			return nil, st.err
		}
		return st.handle, nil
	}
	st := &connState{done: make(chan struct{})}
	c.conns[roomID] = st
	c.mu.Unlock()

	h, err := c.establish(ctx, roomID)

	c.mu.Lock()
	st.handle, st.err = h, err
	if err != nil {
		delete(c.conns, roomID)
	}
	c.mu.Unlock()
	close(st.done)

	return h, err
}

func (c *Connector) establish(ctx context.Context, roomID string) (*Handle, error) {
	log := c.logger.WithField("room_id", roomID)

	if err := c.access.Acquire(ctx); err != nil {
		if errors.Is(err, ErrMediaAccess) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire media access: %w", err)
	}

	// Validation-class failures below are not retried.
	info, err := c.provisioner.EnsureRoom(ctx, roomID)
	if err != nil {
		c.access.Release()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"status":       info.Status,
		"participants": info.ParticipantCount,
	}).Debug("room provisioned")

	credential, err := c.provisioner.IssueToken(ctx, roomID, c.cfg.Identity)
	if err != nil {
		c.access.Release()
		return nil, fmt.Errorf("issue token for room %s: %w", roomID, err)
	}

	req := DialRequest{RoomID: roomID, Identity: c.cfg.Identity, Credential: credential}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		h := newHandle(roomID, c.access)

		link, err := c.transport.Dial(ctx, req, h.deliver)
		if err == nil {
			h.link = link
			h.attempts = attempt
			log.WithField("attempt", attempt).Info("room connected")
			return h, nil
		}

		// Events from a failed attempt never reach the caller.
		h.discard()
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("transport connect failed")

		if attempt == c.cfg.Attempts {
			break
		}
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			c.access.Release()
			return nil, &TransportConnectError{RoomID: roomID, Attempts: attempt, Err: ctx.Err()}
		}
	}

	c.access.Release()
	return nil, &TransportConnectError{RoomID: roomID, Attempts: c.cfg.Attempts, Err: lastErr}
}

// Disconnect releases everything the handle holds. It is safe on a nil
// handle and on a handle whose connection never completed.
func (c *Connector) Disconnect(h *Handle) error {
	if h == nil {
		return nil
	}

	c.mu.Lock()
	if st, ok := c.conns[h.roomID]; ok && st.handle == h {
		delete(c.conns, h.roomID)
	}
	c.mu.Unlock()

	return h.close()
}

// SetAudioEnabled toggles the outbound audio track
func (c *Connector) SetAudioEnabled(h *Handle, enabled bool) error {
	return h.setTrack(TrackAudio, enabled)
}

// SetVideoEnabled toggles the outbound video track
func (c *Connector) SetVideoEnabled(h *Handle, enabled bool) error {
	return h.setTrack(TrackVideo, enabled)
}

// Handle is an opaque connection owned by one room
type Handle struct {
	roomID   string
	attempts int
	access   AccessGate
	link     Link

	// deliverMu serializes delivery so buffered and live events keep order.
	deliverMu sync.Mutex

	mu           sync.Mutex
	dispatch     Dispatch
	pending      []Event
	closed       bool
	audioEnabled bool
	videoEnabled bool
}

func newHandle(roomID string, access AccessGate) *Handle {
	return &Handle{
		roomID:       roomID,
		access:       access,
		audioEnabled: true,
		videoEnabled: true,
	}
}

// RoomID returns the room the handle is connected to
func (h *Handle) RoomID() string {
	return h.roomID
}

// Attempts returns how many transport attempts the connection needed
func (h *Handle) Attempts() int {
	return h.attempts
}

// AudioEnabled reports the local audio track state
func (h *Handle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioEnabled
}

// VideoEnabled reports the local video track state
func (h *Handle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoEnabled
}

// Attach sets the dispatch function, first replaying any events that arrived
// before the caller was ready. dispatch must not call back into the handle.
func (h *Handle) Attach(dispatch Dispatch) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	pending := h.pending
	h.pending = nil
	h.dispatch = dispatch
	h.mu.Unlock()

	for _, ev := range pending {
		dispatch(ev)
	}
}

func (h *Handle) deliver(ev Event) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	dispatch := h.dispatch
	if dispatch == nil {
		h.pending = append(h.pending, ev)
	}
	h.mu.Unlock()

	if dispatch != nil {
		dispatch(ev)
	}
}

func (h *Handle) discard() {
	h.mu.Lock()
	h.closed = true
	h.pending = nil
	h.mu.Unlock()
}

func (h *Handle) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.pending = nil
	h.dispatch = nil
	link := h.link
	h.mu.Unlock()

	h.access.Release()
	if link != nil {
		return link.Close()
	}
	return nil
}

func (h *Handle) setTrack(kind TrackKind, enabled bool) error {
	if h == nil {
		return ErrHandleClosed
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	link := h.link
	h.mu.Unlock()

	if err := link.SetTrackEnabled(kind, enabled); err != nil {
		return err
	}

	h.mu.Lock()
	switch kind {
	case TrackAudio:
		h.audioEnabled = enabled
	case TrackVideo:
		h.videoEnabled = enabled
	}
	h.mu.Unlock()
	return nil
}
