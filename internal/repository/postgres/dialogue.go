package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/repository"
)

const dialogueColumns = `id, title, description, start_time, host_id, participants, summary, status, created_at, updated_at`

// updatableDialogueColumns guards the dynamic SET clause
var updatableDialogueColumns = map[string]bool{
	"title":        true,
	"description":  true,
	"start_time":   true,
	"participants": true,
	"summary":      true,
	"status":       true,
}

// DialogueRepository implements repository.DialogueRepository using PostgreSQL
type DialogueRepository struct {
	db *sqlx.DB
}

// NewDialogueRepository creates a new PostgreSQL dialogue repository
func NewDialogueRepository(db *sqlx.DB) repository.DialogueRepository {
	return &DialogueRepository{db: db}
}

// Create inserts a dialogue, filling in ID and timestamps when unset
func (r *DialogueRepository) Create(ctx context.Context, d *models.Dialogue) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO dialogues (` + dialogueColumns + `)
		VALUES (:id, :title, :description, :start_time, :host_id, :participants, :summary, :status, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, d)
	return err
}

// Get retrieves one of the host's dialogues
func (r *DialogueRepository) Get(ctx context.Context, hostID, id uuid.UUID) (*models.Dialogue, error) {
	var d models.Dialogue
	query := `SELECT ` + dialogueColumns + ` FROM dialogues WHERE id = $1 AND host_id = $2`

	if err := r.db.GetContext(ctx, &d, query, id, hostID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List retrieves the host's dialogues, soonest first
func (r *DialogueRepository) List(ctx context.Context, hostID uuid.UUID) ([]*models.Dialogue, error) {
	dialogues := []*models.Dialogue{}
	query := `SELECT ` + dialogueColumns + ` FROM dialogues WHERE host_id = $1 ORDER BY start_time ASC`

	if err := r.db.SelectContext(ctx, &dialogues, query, hostID); err != nil {
		return nil, err
	}
	return dialogues, nil
}

// Update applies column updates and returns the stored row
func (r *DialogueRepository) Update(ctx context.Context, hostID, id uuid.UUID, updates map[string]interface{}) (*models.Dialogue, error) {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		if !updatableDialogueColumns[key] {
			return nil, fmt.Errorf("column %q cannot be updated", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	params := map[string]interface{}{"id": id, "host_id": hostID, "updated_at": time.Now()}
	sets := []string{"updated_at = :updated_at"}
	for _, key := range keys {
		sets = append(sets, key+" = :"+key)
		params[key] = updates[key]
	}

	query := `UPDATE dialogues SET ` + strings.Join(sets, ", ") + ` WHERE id = :id AND host_id = :host_id`
	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, repository.ErrNotFound
	}
	return r.Get(ctx, hostID, id)
}

// Delete removes one of the host's dialogues
func (r *DialogueRepository) Delete(ctx context.Context, hostID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM dialogues WHERE id = $1 AND host_id = $2`, id, hostID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
