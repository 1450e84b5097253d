package handlers

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/conference"
	"github.com/gendialogue/dialogue-backend/internal/enrichment"
	"github.com/gendialogue/dialogue-backend/internal/llm"
	"github.com/gendialogue/dialogue-backend/internal/logging"
	"github.com/gendialogue/dialogue-backend/internal/media/wsrtc"
	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/rooms"
	"github.com/gendialogue/dialogue-backend/internal/services"
	"github.com/gendialogue/dialogue-backend/internal/signaling"
)

type conferenceServer struct {
	addr      string
	host      *models.UserContext
	dialogues *services.DialogueService
	manager   *conference.Manager
}

// startConferenceServer runs the conference socket and the media signaling
// socket on one listener, so sessions connect their rooms through it.
func startConferenceServer(t *testing.T) *conferenceServer {
	t.Helper()
	logger := logging.Discard()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	roomService := rooms.NewService(rooms.NewMemoryStore(), rooms.Options{TokenSecret: "secret"}, logger)
	hub := signaling.NewHub(roomService, logger, nil)
	dialogues := services.NewDialogueService(newMemDialogueRepo(), logger)

	hour := enrichment.Policy{QuietPeriod: time.Hour, MinLength: 1}
	manager := conference.NewManager(conference.NewFactory(conference.FactoryConfig{
		Provisioner:     roomService,
		Transport:       wsrtc.New("ws://"+addr+"/rtc", logger),
		Enricher:        llm.NewTextService(llm.NewStubProvider(), "stub", nil, logger),
		Dialogues:       dialogues,
		ConnectAttempts: 2,
		RetryDelay:      10 * time.Millisecond,
		Enrichment:      enrichment.Config{Format: hour, Summarize: hour},
		Logger:          logger,
	}), logger)

	srv := &conferenceServer{addr: addr, host: testUser(), dialogues: dialogues, manager: manager}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.Register(app, "/rtc", roomService)
	h := NewConferenceHandler(manager, dialogues, logger)
	app.Get("/ws/conference/:id", asUser(srv.host), h.Authorize, fiberws.New(h.Serve))

	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
		_ = app.Shutdown()
	})
	return srv
}

func (s *conferenceServer) createDialogue(t *testing.T) *models.Dialogue {
	t.Helper()
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)
	d, err := s.dialogues.Create(context.Background(), s.host.UserID, models.DialogueInput{
		Title:        "Harvest",
		Description:  "Wrap-up",
		StartTime:    &start,
		Participants: 2,
	})
	require.NoError(t, err)
	return d
}

func (s *conferenceServer) dial(t *testing.T, dialogueID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.addr+"/ws/conference/"+dialogueID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ConferenceMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// await reads events until match accepts one
func await(t *testing.T, conn *websocket.Conn, match func(ConferenceEvent) bool) ConferenceEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev ConferenceEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func stateWhere(pred func(conference.View) bool) func(ConferenceEvent) bool {
	return func(ev ConferenceEvent) bool {
		return ev.Type == "state" && ev.Session != nil && pred(*ev.Session)
	}
}

func mainRoom(v conference.View) conference.RoomView {
	room, _ := v.Room(conference.MainRoomKey)
	return room
}

func TestConferenceHandler_Session(t *testing.T) {
	srv := startConferenceServer(t)
	d := srv.createDialogue(t)
	conn := srv.dial(t, d.ID.String())

	first := await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "state" })
	assert.False(t, first.Session.Initialized)

	send(t, conn, ConferenceMessage{Type: "recognition", Transcript: "too early"})
	errEv := await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "error" })
	assert.NotEmpty(t, errEv.Message)

	send(t, conn, ConferenceMessage{Type: "join"})
	send(t, conn, ConferenceMessage{Type: "media_permission", Granted: true})
	joined := await(t, conn, stateWhere(func(v conference.View) bool { return v.Initialized }))
	assert.Equal(t, conference.MainRoomKey, joined.Session.ActiveRoomID)
	assert.True(t, mainRoom(*joined.Session).Connected)

	send(t, conn, ConferenceMessage{Type: "start_listening"})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.Listening }))

	send(t, conn, ConferenceMessage{Type: "recognition", Transcript: "hello everyone"})
	await(t, conn, stateWhere(func(v conference.View) bool {
		return mainRoom(v).RawTranscript == "hello everyone"
	}))

	send(t, conn, ConferenceMessage{Type: "edit_transcript", RoomID: conference.MainRoomKey, Text: "Hello everyone."})
	await(t, conn, stateWhere(func(v conference.View) bool {
		return mainRoom(v).FormattedTranscript == "Hello everyone."
	}))

	send(t, conn, ConferenceMessage{Type: "rate", Score: 9})
	errEv = await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "error" })
	assert.Contains(t, errEv.Message, "9")

	send(t, conn, ConferenceMessage{Type: "rate", Score: 4})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.OverallSatisfaction == 4 }))

	send(t, conn, ConferenceMessage{Type: "compile_final"})
	compiled := await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "compilation" })
	assert.Equal(t, conference.ScopeFinal, compiled.Scope)
	require.NotNil(t, compiled.Result)
	assert.True(t, compiled.Result.Success)
	assert.Equal(t, "Hello everyone.", compiled.Result.Summary)

	got, err := srv.dialogues.Get(context.Background(), srv.host.UserID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DialogueStatusInProgress, got.Status)
	assert.Equal(t, "Hello everyone.", got.Summary)

	send(t, conn, ConferenceMessage{Type: "end"})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.Ended }))

	got, err = srv.dialogues.Get(context.Background(), srv.host.UserID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DialogueStatusCompleted, got.Status)
	assert.Equal(t, 0, srv.manager.Count())
}

func TestConferenceHandler_Breakouts(t *testing.T) {
	srv := startConferenceServer(t)
	d := srv.createDialogue(t)
	conn := srv.dial(t, d.ID.String())

	send(t, conn, ConferenceMessage{Type: "join"})
	send(t, conn, ConferenceMessage{Type: "media_permission", Granted: true})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.Initialized }))

	send(t, conn, ConferenceMessage{Type: "create_breakout"})
	ev := await(t, conn, stateWhere(func(v conference.View) bool { return len(v.Rooms) == 2 }))

	var breakout conference.RoomView
	for _, room := range ev.Session.Rooms {
		if room.Kind == conference.RoomBreakout {
			breakout = room
		}
	}
	require.NotEmpty(t, breakout.ID)
	assert.True(t, strings.HasPrefix(breakout.MediaRoomID, d.ID.String()+"-breakout-"))

	assert.Equal(t, breakout.ID, ev.Session.ActiveRoomID)

	send(t, conn, ConferenceMessage{Type: "set_active_room", RoomID: conference.MainRoomKey})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.ActiveRoomID == conference.MainRoomKey }))

	send(t, conn, ConferenceMessage{Type: "compile_breakouts"})
	compiled := await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "compilation" })
	assert.Equal(t, conference.ScopeBreakouts, compiled.Scope)
	assert.False(t, compiled.Result.Success)
	assert.Equal(t, conference.NoContentMessage, compiled.Result.Message)

	send(t, conn, ConferenceMessage{Type: "set_active_room", RoomID: "nope"})
	errEv := await(t, conn, func(ev ConferenceEvent) bool { return ev.Type == "error" })
	assert.NotEmpty(t, errEv.Message)
}

func TestConferenceHandler_SessionOutlivesSocket(t *testing.T) {
	srv := startConferenceServer(t)
	d := srv.createDialogue(t)

	conn := srv.dial(t, d.ID.String())
	send(t, conn, ConferenceMessage{Type: "join"})
	send(t, conn, ConferenceMessage{Type: "media_permission", Granted: true})
	await(t, conn, stateWhere(func(v conference.View) bool { return v.Initialized }))
	require.NoError(t, conn.Close())

	again := srv.dial(t, d.ID.String())
	ev := await(t, again, func(ev ConferenceEvent) bool { return ev.Type == "state" })
	assert.True(t, ev.Session.Initialized)
	assert.Equal(t, 1, srv.manager.Count())
}

func TestConferenceHandler_UnknownDialogue(t *testing.T) {
	srv := startConferenceServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.addr+"/ws/conference/"+uuid.NewString(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
