package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gendialogue/dialogue-backend/internal/models"
)

// ErrNotFound is returned when a row does not exist or is not visible to
// the caller
var ErrNotFound = errors.New("not found")

// UserRepository defines user storage operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// DialogueRepository defines dialogue storage operations. Every call is
// scoped to the host that owns the dialogue.
type DialogueRepository interface {
	Create(ctx context.Context, dialogue *models.Dialogue) error
	Get(ctx context.Context, hostID, id uuid.UUID) (*models.Dialogue, error)
	List(ctx context.Context, hostID uuid.UUID) ([]*models.Dialogue, error)
	Update(ctx context.Context, hostID, id uuid.UUID, updates map[string]interface{}) (*models.Dialogue, error)
	Delete(ctx context.Context, hostID, id uuid.UUID) error
}
