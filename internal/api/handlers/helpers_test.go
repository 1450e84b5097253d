package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/repository"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*models.User)}
}

func (r *memUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Username == username })
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	return nil
}

func (r *memUserRepo) find(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memDialogueRepo struct {
	mu        sync.Mutex
	dialogues map[uuid.UUID]*models.Dialogue
}

func newMemDialogueRepo() *memDialogueRepo {
	return &memDialogueRepo{dialogues: make(map[uuid.UUID]*models.Dialogue)}
}

func (r *memDialogueRepo) Create(ctx context.Context, d *models.Dialogue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	copied := *d
	r.dialogues[d.ID] = &copied
	return nil
}

func (r *memDialogueRepo) Get(ctx context.Context, hostID, id uuid.UUID) (*models.Dialogue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dialogues[id]
	if !ok || d.HostID != hostID {
		return nil, repository.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *memDialogueRepo) List(ctx context.Context, hostID uuid.UUID) ([]*models.Dialogue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Dialogue{}
	for _, d := range r.dialogues {
		if d.HostID == hostID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memDialogueRepo) Update(ctx context.Context, hostID, id uuid.UUID, updates map[string]interface{}) (*models.Dialogue, error) {
	r.mu.Lock()
	d, ok := r.dialogues[id]
	if !ok || d.HostID != hostID {
		r.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	for key, value := range updates {
		switch key {
		case "title":
			d.Title = value.(string)
		case "description":
			d.Description = value.(string)
		case "start_time":
			d.StartTime = value.(time.Time)
		case "participants":
			d.Participants = value.(int)
		case "summary":
			d.Summary = value.(string)
		case "status":
			d.Status = value.(models.DialogueStatus)
		}
	}
	r.mu.Unlock()
	return r.Get(ctx, hostID, id)
}

func (r *memDialogueRepo) Delete(ctx context.Context, hostID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dialogues[id]
	if !ok || d.HostID != hostID {
		return repository.ErrNotFound
	}
	delete(r.dialogues, id)
	return nil
}

// asUser stands in for the auth middleware
func asUser(user *models.UserContext) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", user.UserID.String())
		c.Locals("user_context", user)
		return c.Next()
	}
}

func testUser() *models.UserContext {
	return &models.UserContext{UserID: uuid.New(), Username: "host", Email: "host@example.com"}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, header ...string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func doJSONList(t *testing.T, app *fiber.App, path string) (int, []map[string]interface{}) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
