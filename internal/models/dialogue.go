package models

import (
	"time"

	"github.com/google/uuid"
)

// DialogueStatus tracks a dialogue through its lifecycle
type DialogueStatus string

const (
	DialogueStatusPlanned    DialogueStatus = "planned"
	DialogueStatusInProgress DialogueStatus = "in-progress"
	DialogueStatusCompleted  DialogueStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s DialogueStatus) Valid() bool {
	switch s {
	case DialogueStatusPlanned, DialogueStatusInProgress, DialogueStatusCompleted:
		return true
	}
	return false
}

// Dialogue is a scheduled conversation hosted by one user
type Dialogue struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Title        string         `json:"title" db:"title"`
	Description  string         `json:"description" db:"description"`
	StartTime    time.Time      `json:"startTime" db:"start_time"`
	HostID       uuid.UUID      `json:"host" db:"host_id"`
	Participants int            `json:"participants" db:"participants"`
	Summary      string         `json:"summary" db:"summary"`
	Status       DialogueStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// DialogueInput carries the fields accepted on create
type DialogueInput struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	StartTime    *time.Time     `json:"startTime"`
	Participants int            `json:"participants"`
	Summary      string         `json:"summary"`
	Status       DialogueStatus `json:"status,omitempty"`
}

// DialogueUpdate carries the fields to change; nil fields are left alone.
// The host cannot be changed.
type DialogueUpdate struct {
	Title        *string         `json:"title,omitempty"`
	Description  *string         `json:"description,omitempty"`
	StartTime    *time.Time      `json:"startTime,omitempty"`
	Participants *int            `json:"participants,omitempty"`
	Summary      *string         `json:"summary,omitempty"`
	Status       *DialogueStatus `json:"status,omitempty"`
}
