package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/api/middleware"
	"github.com/gendialogue/dialogue-backend/internal/conference"
	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/services"
)

const conferenceKeyLocal = "conference_key"

// DialogueLookup finds a dialogue owned by the host
type DialogueLookup interface {
	Get(ctx context.Context, hostID, id uuid.UUID) (*models.Dialogue, error)
}

// ConferenceMessage is a client command on the conference socket
type ConferenceMessage struct {
	Type       string `json:"type"`
	Granted    bool   `json:"granted,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Score      int    `json:"score,omitempty"`
	Enabled    bool   `json:"enabled,omitempty"`
}

// ConferenceEvent is a server message on the conference socket
type ConferenceEvent struct {
	Type    string                        `json:"type"`
	Session *conference.View              `json:"session,omitempty"`
	Scope   conference.Scope              `json:"scope,omitempty"`
	Result  *conference.CompilationResult `json:"result,omitempty"`
	Message string                        `json:"message,omitempty"`
}

// ConferenceHandler drives live conference sessions over a websocket
type ConferenceHandler struct {
	manager   *conference.Manager
	dialogues DialogueLookup
	logger    logrus.FieldLogger
}

func NewConferenceHandler(manager *conference.Manager, dialogues DialogueLookup, logger logrus.FieldLogger) *ConferenceHandler {
	return &ConferenceHandler{
		manager:   manager,
		dialogues: dialogues,
		logger:    logger.WithField("component", "conference_ws"),
	}
}

// Authorize resolves the dialogue before the upgrade. Only the host may
// open its conference.
func (h *ConferenceHandler) Authorize(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dialogue ID"})
	}

	if _, err := h.dialogues.Get(c.UserContext(), userContext.UserID, id); err != nil {
		if errors.Is(err, services.ErrDialogueNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Dialogue not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dialogue"})
	}

	c.Locals(conferenceKeyLocal, conference.Key{UserID: userContext.UserID, DialogueID: id})
	return c.Next()
}

// Serve handles one client connection. The session outlives the socket;
// it ends on an explicit end command or server shutdown.
func (h *ConferenceHandler) Serve(c *websocket.Conn) {
	defer c.Close()

	key, ok := c.Locals(conferenceKeyLocal).(conference.Key)
	if !ok {
		return
	}
	log := h.logger.WithField("dialogue_id", key.DialogueID)

	client := &conferenceClient{conn: c}

	session, created, err := h.manager.Acquire(key)
	if err != nil {
		log.WithError(err).Error("failed to create conference session")
		client.sendError(err)
		return
	}
	log.WithField("created", created).Debug("conference client attached")

	unsubscribe := session.Orchestrator.Subscribe(client.sendState)
	defer unsubscribe()
	client.sendState(session.Orchestrator.Snapshot())

	// Cancelled when the client goes away so pending joins stop waiting.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		if mt == websocket.BinaryMessage {
			if session.Audio == nil {
				client.sendError(errors.New("audio chunks are not accepted: clients send recognized transcripts"))
				continue
			}
			if err := session.Audio.PushAudio(data); err != nil {
				client.sendError(err)
			}
			continue
		}

		var msg ConferenceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.sendError(errors.New("invalid message"))
			continue
		}

		if msg.Type == "end" {
			if err := h.manager.End(ctx, key); err != nil {
				log.WithError(err).Warn("conference ended with errors")
			}
			client.sendState(session.Orchestrator.Snapshot())
			return
		}

		if err := h.dispatch(ctx, session, client, msg); err != nil {
			client.sendError(err)
		}
	}
}

func (h *ConferenceHandler) dispatch(ctx context.Context, session *conference.Session, client *conferenceClient, msg ConferenceMessage) error {
	o := session.Orchestrator

	switch msg.Type {
	case "join":
		// Connecting waits for the media permission answer, which arrives
		// on this same socket.
		go func() {
			if err := o.Initialize(ctx, session.Key.DialogueID.String()); err != nil {
				client.sendError(err)
			}
		}()
		return nil
	case "media_permission":
		session.Permission.Resolve(msg.Granted)
		return nil
	case "recognition":
		if session.Transcripts == nil {
			return errors.New("transcripts are not accepted: server-side recognition is in use")
		}
		return session.Transcripts.Push(msg.Transcript)
	case "start_listening":
		// May also wait for the permission answer.
		go func() {
			if err := o.StartListening(ctx); err != nil {
				client.sendError(err)
			}
		}()
		return nil
	case "stop_listening":
		return o.StopListening()
	case "set_active_room":
		return o.SetActiveRoom(msg.RoomID)
	case "create_breakout":
		go func() {
			if _, err := o.CreateBreakout(ctx); err != nil {
				client.sendError(err)
			}
		}()
		return nil
	case "reset_transcript":
		return o.ResetActiveRoomTranscript()
	case "edit_transcript":
		return o.EditFormattedTranscript(msg.RoomID, msg.Text)
	case "rate":
		return o.RecordSatisfactionScore(msg.RoomID, msg.Score)
	case "compile_final":
		go client.sendCompilation(conference.ScopeFinal, o.CompileFinal(context.WithoutCancel(ctx)))
		return nil
	case "compile_breakouts":
		go client.sendCompilation(conference.ScopeBreakouts, o.CompileBreakoutRooms(context.WithoutCancel(ctx)))
		return nil
	case "set_audio":
		return o.SetAudioEnabled(msg.Enabled)
	case "set_video":
		return o.SetVideoEnabled(msg.Enabled)
	case "dismiss_error":
		o.DismissError()
		return nil
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

// conferenceClient serializes writes and drops state copies older than the
// last one sent.
type conferenceClient struct {
	conn interface {
		WriteJSON(v interface{}) error
	}

	mu          sync.Mutex
	lastVersion uint64
	sentState   bool
}

func (cc *conferenceClient) sendState(v conference.View) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.sentState && v.Version < cc.lastVersion {
		return
	}
	cc.sentState = true
	cc.lastVersion = v.Version
	_ = cc.conn.WriteJSON(ConferenceEvent{Type: "state", Session: &v})
}

func (cc *conferenceClient) sendCompilation(scope conference.Scope, result conference.CompilationResult) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	_ = cc.conn.WriteJSON(ConferenceEvent{Type: "compilation", Scope: scope, Result: &result})
}

func (cc *conferenceClient) sendError(err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	_ = cc.conn.WriteJSON(ConferenceEvent{Type: "error", Message: err.Error()})
}
