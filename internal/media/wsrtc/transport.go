// Package wsrtc is a media.Transport that speaks the signaling protocol over
// a websocket.
package wsrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/media"
	"github.com/gendialogue/dialogue-backend/internal/signaling"
)

const ioTimeout = 10 * time.Second

// Transport dials the signaling endpoint for each room
type Transport struct {
	endpoint string
	logger   logrus.FieldLogger
}

// New creates a transport for the given ws:// or wss:// endpoint
func New(endpoint string, logger logrus.FieldLogger) *Transport {
	return &Transport{
		endpoint: endpoint,
		logger:   logger.WithField("component", "wsrtc"),
	}
}

func (t *Transport) Dial(ctx context.Context, req media.DialRequest, dispatch media.Dispatch) (media.Link, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse signaling endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", req.Credential)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling websocket: %w", err)
	}

	roster, err := readRoster(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	l := &link{
		conn:     conn,
		roomID:   req.RoomID,
		identity: req.Identity,
		dispatch: dispatch,
		logger:   t.logger.WithField("room_id", req.RoomID),
	}
	for _, p := range roster {
		if p != req.Identity {
			dispatch(media.Event{Kind: media.ParticipantJoined, RoomID: req.RoomID, Participant: p})
		}
	}

	go l.readLoop()
	return l, nil
}

func readRoster(conn *websocket.Conn) ([]string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	var msg signaling.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	switch msg.Type {
	case signaling.TypeRoster:
		return msg.Participants, nil
	case signaling.TypeError:
		return nil, fmt.Errorf("signaling rejected join: %s", msg.Error)
	default:
		return nil, fmt.Errorf("unexpected signaling message type %q", msg.Type)
	}
}

type link struct {
	conn     *websocket.Conn
	roomID   string
	identity string
	dispatch media.Dispatch
	logger   logrus.FieldLogger

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
}

func (l *link) SetTrackEnabled(kind media.TrackKind, enabled bool) error {
	return l.write(signaling.Message{Type: signaling.TypeTrack, Track: string(kind), Enabled: &enabled})
}

func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.writeMu.Lock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	_ = l.conn.WriteJSON(signaling.Message{Type: signaling.TypeLeave})
	_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
	l.writeMu.Unlock()

	return l.conn.Close()
}

func (l *link) write(msg signaling.Message) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return media.ErrHandleClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signaling message: %w", err)
	}
	return nil
}

func (l *link) readLoop() {
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(24 * time.Hour)); err != nil {
			return
		}
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				l.logger.WithError(err).Warn("signaling connection lost")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			l.logger.WithError(err).Debug("dropping malformed signaling frame")
			continue
		}
		if ev, ok := l.translate(msg); ok {
			l.dispatch(ev)
		}
	}
}

func (l *link) translate(msg signaling.Message) (media.Event, bool) {
	if msg.Participant == "" || msg.Participant == l.identity {
		return media.Event{}, false
	}

	ev := media.Event{RoomID: l.roomID, Participant: msg.Participant, Track: media.TrackKind(msg.Track)}
	switch msg.Type {
	case signaling.TypeParticipantJoined:
		ev.Kind = media.ParticipantJoined
	case signaling.TypeParticipantLeft:
		ev.Kind = media.ParticipantLeft
	case signaling.TypeTrackAdded:
		ev.Kind = media.TrackAdded
	case signaling.TypeTrackRemoved:
		ev.Kind = media.TrackRemoved
	default:
		return media.Event{}, false
	}
	return ev, true
}
