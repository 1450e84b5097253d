package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/logging"
	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

type recordingCloser struct {
	closed []string
}

func (r *recordingCloser) CloseRoom(roomID string) {
	r.closed = append(r.closed, roomID)
}

func TestVideoHandlers(t *testing.T) {
	svc := rooms.NewService(rooms.NewMemoryStore(), rooms.Options{Capacity: 1, TokenSecret: "secret"}, logging.Discard())
	closer := &recordingCloser{}
	user := testUser()

	app := fiber.New()
	NewVideoHandlers(svc, closer).RegisterRoutes(app.Group("/api/video", asUser(user)))

	status, body := doJSON(t, app, http.MethodPost, "/api/video/create-room", RoomRequest{RoomName: "town-hall"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "created", body["status"])

	status, body = doJSON(t, app, http.MethodPost, "/api/video/create-room", RoomRequest{RoomName: "town-hall"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "existing", body["status"])

	status, body = doJSON(t, app, http.MethodPost, "/api/video/video-token", RoomRequest{RoomName: "town-hall"})
	require.Equal(t, http.StatusOK, status)
	claims, err := svc.VerifyToken(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "town-hall", claims.RoomID)
	assert.Equal(t, user.UserID.String(), claims.Identity)

	_, err = svc.Join(context.Background(), "town-hall", "someone")
	require.NoError(t, err)
	status, _ = doJSON(t, app, http.MethodPost, "/api/video/create-room", RoomRequest{RoomName: "town-hall"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, app, http.MethodPost, "/api/video/end-room", RoomRequest{RoomName: "town-hall"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"town-hall"}, closer.closed)

	status, _ = doJSON(t, app, http.MethodPost, "/api/video/video-token", RoomRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}
