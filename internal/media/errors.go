package media

import (
	"errors"
	"fmt"

	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

var (
	// ErrMediaAccess is returned when camera or microphone permission is denied
	ErrMediaAccess = errors.New("media access denied")
	// ErrRoomAtCapacity is returned when provisioning reports a full room
	ErrRoomAtCapacity = rooms.ErrRoomAtCapacity
	// ErrHandleClosed is returned for operations on a disconnected handle
	ErrHandleClosed = errors.New("connection handle closed")
)

// TransportConnectError reports that every transport attempt failed
type TransportConnectError struct {
	RoomID   string
	Attempts int
	Err      error
}

func (e *TransportConnectError) Error() string {
	return fmt.Sprintf("connect room %s: transport failed after %d attempts: %v", e.RoomID, e.Attempts, e.Err)
}

func (e *TransportConnectError) Unwrap() error {
	return e.Err
}
