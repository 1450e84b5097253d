package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/repository"
)

// ErrDialogueNotFound is returned when the dialogue does not exist or
// belongs to another host
var ErrDialogueNotFound = repository.ErrNotFound

// ValidationError rejects a dialogue field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// DialogueService manages dialogues on behalf of their host
type DialogueService struct {
	repo   repository.DialogueRepository
	logger logrus.FieldLogger
}

// NewDialogueService creates a dialogue service
func NewDialogueService(repo repository.DialogueRepository, logger logrus.FieldLogger) *DialogueService {
	return &DialogueService{
		repo:   repo,
		logger: logger.WithField("component", "dialogues"),
	}
}

// Create stores a new dialogue hosted by hostID
func (s *DialogueService) Create(ctx context.Context, hostID uuid.UUID, in models.DialogueInput) (*models.Dialogue, error) {
	status := in.Status
	if status == "" {
		status = models.DialogueStatusPlanned
	}

	switch {
	case strings.TrimSpace(in.Title) == "":
		return nil, &ValidationError{Field: "title", Message: "is required"}
	case strings.TrimSpace(in.Description) == "":
		return nil, &ValidationError{Field: "description", Message: "is required"}
	case in.StartTime == nil || in.StartTime.IsZero():
		return nil, &ValidationError{Field: "startTime", Message: "is required"}
	case in.Participants < 1:
		return nil, &ValidationError{Field: "participants", Message: "must be at least 1"}
	case !status.Valid():
		return nil, &ValidationError{Field: "status", Message: "must be planned, in-progress or completed"}
	}

	d := &models.Dialogue{
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		StartTime:    *in.StartTime,
		HostID:       hostID,
		Participants: in.Participants,
		Summary:      in.Summary,
		Status:       status,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create dialogue: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"dialogue_id": d.ID, "host_id": hostID}).Info("dialogue created")
	return d, nil
}

// List returns the host's dialogues
func (s *DialogueService) List(ctx context.Context, hostID uuid.UUID) ([]*models.Dialogue, error) {
	return s.repo.List(ctx, hostID)
}

// Get returns one of the host's dialogues
func (s *DialogueService) Get(ctx context.Context, hostID, id uuid.UUID) (*models.Dialogue, error) {
	return s.repo.Get(ctx, hostID, id)
}

// Update applies the non-nil fields of upd
func (s *DialogueService) Update(ctx context.Context, hostID, id uuid.UUID, upd models.DialogueUpdate) (*models.Dialogue, error) {
	updates := make(map[string]interface{})

	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return nil, &ValidationError{Field: "title", Message: "is required"}
		}
		updates["title"] = strings.TrimSpace(*upd.Title)
	}
	if upd.Description != nil {
		if strings.TrimSpace(*upd.Description) == "" {
			return nil, &ValidationError{Field: "description", Message: "is required"}
		}
		updates["description"] = strings.TrimSpace(*upd.Description)
	}
	if upd.StartTime != nil {
		if upd.StartTime.IsZero() {
			return nil, &ValidationError{Field: "startTime", Message: "is required"}
		}
		updates["start_time"] = *upd.StartTime
	}
	if upd.Participants != nil {
		if *upd.Participants < 1 {
			return nil, &ValidationError{Field: "participants", Message: "must be at least 1"}
		}
		updates["participants"] = *upd.Participants
	}
	if upd.Summary != nil {
		updates["summary"] = *upd.Summary
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, &ValidationError{Field: "status", Message: "must be planned, in-progress or completed"}
		}
		updates["status"] = *upd.Status
	}

	if len(updates) == 0 {
		return s.repo.Get(ctx, hostID, id)
	}
	return s.repo.Update(ctx, hostID, id, updates)
}

// Delete removes one of the host's dialogues
func (s *DialogueService) Delete(ctx context.Context, hostID, id uuid.UUID) error {
	return s.repo.Delete(ctx, hostID, id)
}

// UpdateStatus moves a dialogue through its lifecycle
func (s *DialogueService) UpdateStatus(ctx context.Context, hostID, id uuid.UUID, status models.DialogueStatus) error {
	_, err := s.Update(ctx, hostID, id, models.DialogueUpdate{Status: &status})
	return err
}

// UpdateSummary stores a compiled summary on the dialogue
func (s *DialogueService) UpdateSummary(ctx context.Context, hostID, id uuid.UUID, summary string) error {
	_, err := s.Update(ctx, hostID, id, models.DialogueUpdate{Summary: &summary})
	return err
}

// IsValidationError reports whether err is a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
