// Package speech turns a recognizer's growing transcript into a stream of
// novel text deltas.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/media"
)

// DefaultDebounce coalesces rapid partial results
const DefaultDebounce = 150 * time.Millisecond

// Recognizer yields the full transcript recognized so far, repeatedly
type Recognizer interface {
	Start(ctx context.Context, onTranscript func(transcript string)) error
	Stop() error
}

// CaptureSession wraps a recognizer with start/stop/reset control and emits
// only text that has not been delivered yet.
type CaptureSession struct {
	recognizer Recognizer
	access     media.AccessGate
	onDelta    func(string)
	debounce   time.Duration
	logger     logrus.FieldLogger

	// deliverMu keeps onDelta calls ordered and non-overlapping.
	deliverMu sync.Mutex

	mu      sync.Mutex
	running bool
	cursor  string
	pending []string
	timer   *time.Timer
	seq     uint64
}

// NewCaptureSession creates a stopped session. A negative debounce selects
// DefaultDebounce and zero delivers each delta immediately.
func NewCaptureSession(recognizer Recognizer, access media.AccessGate, debounce time.Duration, onDelta func(string), logger logrus.FieldLogger) *CaptureSession {
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	return &CaptureSession{
		recognizer: recognizer,
		access:     access,
		onDelta:    onDelta,
		debounce:   debounce,
		logger:     logger.WithField("component", "speech_capture"),
	}
}

// Start acquires microphone access and starts recognition. A denied
// permission is returned as media.ErrMediaAccess.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := s.access.Acquire(ctx); err != nil {
		return err
	}

	if err := s.recognizer.Start(ctx, s.handleTranscript); err != nil {
		s.access.Release()
		return fmt.Errorf("start recognizer: %w", err)
	}

	s.running = true
	s.logger.Debug("capture started")
	return nil
}

// Stop flushes pending deltas and releases the capture device, even when
// the recognizer fails to stop cleanly.
func (s *CaptureSession) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	flushed := s.takePendingLocked()
	s.mu.Unlock()

	defer s.access.Release()

	if flushed != "" {
		s.deliver(flushed)
	}

	if err := s.recognizer.Stop(); err != nil {
		return fmt.Errorf("stop recognizer: %w", err)
	}
	s.logger.Debug("capture stopped")
	return nil
}

// Reset forgets everything delivered so far and notifies the caller with an
// empty delta.
func (s *CaptureSession) Reset() {
	s.mu.Lock()
	s.cursor = ""
	s.pending = nil
	s.stopTimerLocked()
	s.mu.Unlock()

	s.deliver("")
}

// Running reports whether capture is active
func (s *CaptureSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *CaptureSession) handleTranscript(transcript string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	delta := s.advanceLocked(transcript)
	if delta == "" {
		s.mu.Unlock()
		return
	}

	if s.debounce == 0 {
		// Take the delivery lock before releasing mu so concurrent
		// recognizer callbacks cannot reorder.
		s.deliverMu.Lock()
		s.mu.Unlock()
		s.onDelta(delta)
		s.deliverMu.Unlock()
		return
	}

	s.pending = append(s.pending, delta)
	s.stopTimerLocked()
	seq := s.seq
	s.timer = time.AfterFunc(s.debounce, func() { s.flush(seq) })
	s.mu.Unlock()
}

// advanceLocked moves the cursor to transcript and returns the novel part.
func (s *CaptureSession) advanceLocked(transcript string) string {
	switch {
	case strings.HasPrefix(transcript, s.cursor):
		delta := transcript[len(s.cursor):]
		s.cursor = transcript
		return strings.TrimSpace(delta)
	case strings.HasPrefix(s.cursor, transcript):
		// Recognizer re-emitted text we already delivered.
		return ""
	default:
		// Recognizer restarted; drop whatever overlaps the delivered tail.
		delta := TrimOverlap(s.cursor, transcript)
		s.cursor = transcript
		return delta
	}
}

func (s *CaptureSession) flush(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	text := s.takePendingLocked()
	s.mu.Unlock()

	if text != "" {
		s.deliver(text)
	}
}

func (s *CaptureSession) takePendingLocked() string {
	s.stopTimerLocked()
	text := strings.Join(s.pending, " ")
	s.pending = nil
	return text
}

func (s *CaptureSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
}

func (s *CaptureSession) deliver(text string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.onDelta(text)
}
