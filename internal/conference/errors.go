package conference

import (
	"errors"
	"fmt"

	"github.com/gendialogue/dialogue-backend/internal/enrichment"
	"github.com/gendialogue/dialogue-backend/internal/media"
)

var (
	ErrNotInitialized = errors.New("conference not initialized")
	ErrSessionEnded   = errors.New("conference session has ended")
	ErrRoomNotFound   = errors.New("room not found")
)

// NoContentMessage is the compilation message when every transcript is empty
const NoContentMessage = "no transcripts available"

// InvalidScoreError rejects a satisfaction rating outside 1 to 5
type InvalidScoreError struct {
	Score int
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid satisfaction score %d: must be between %d and %d", e.Score, MinScore, MaxScore)
}

// EnrichmentFailure is a failed format or summarize call for one room
type EnrichmentFailure struct {
	RoomID string
	Kind   enrichment.Kind
	Err    error
}

func (e *EnrichmentFailure) Error() string {
	return fmt.Sprintf("%s failed for room %s: %v", e.Kind, e.RoomID, e.Err)
}

func (e *EnrichmentFailure) Unwrap() error {
	return e.Err
}

// CompileError is a summarizer failure during compilation
type CompileError struct {
	Scope Scope
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Scope, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies the session's last error for display
type ErrorKind string

const (
	ErrorMediaAccess      ErrorKind = "media_access"
	ErrorRoomAtCapacity   ErrorKind = "room_at_capacity"
	ErrorTransportConnect ErrorKind = "transport_connect"
	ErrorEnrichment       ErrorKind = "enrichment"
	ErrorCompilation      ErrorKind = "compilation"
	ErrorCapture          ErrorKind = "capture"
	ErrorMedia            ErrorKind = "media"
)

func classify(err error) ErrorKind {
	var (
		tce *media.TransportConnectError
		ef  *EnrichmentFailure
		ce  *CompileError
	)
	switch {
	case errors.Is(err, media.ErrMediaAccess):
		return ErrorMediaAccess
	case errors.Is(err, media.ErrRoomAtCapacity):
		return ErrorRoomAtCapacity
	case errors.As(err, &tce):
		return ErrorTransportConnect
	case errors.As(err, &ef):
		return ErrorEnrichment
	case errors.As(err, &ce):
		return ErrorCompilation
	}
	return ErrorMedia
}
