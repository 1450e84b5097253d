package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrRecognizerStopped is returned when feeding a recognizer that is not running
var ErrRecognizerStopped = errors.New("recognizer not running")

// ClientRecognizer relays transcripts recognized on the client device.
// Push expects the client's full transcript so far.
type ClientRecognizer struct {
	mu           sync.Mutex
	onTranscript func(string)
}

// NewClientRecognizer creates a stopped recognizer
func NewClientRecognizer() *ClientRecognizer {
	return &ClientRecognizer{}
}

func (r *ClientRecognizer) Start(ctx context.Context, onTranscript func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTranscript = onTranscript
	return nil
}

func (r *ClientRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTranscript = nil
	return nil
}

// Push forwards a transcript update. Updates while stopped are dropped.
func (r *ClientRecognizer) Push(transcript string) error {
	r.mu.Lock()
	cb := r.onTranscript
	r.mu.Unlock()

	if cb == nil {
		return ErrRecognizerStopped
	}
	cb(transcript)
	return nil
}

// Transcriber converts one audio chunk to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// AudioRecognizer transcribes pushed audio chunks one at a time and reports
// the concatenated transcript after each chunk.
type AudioRecognizer struct {
	transcriber Transcriber
	format      string
	logger      logrus.FieldLogger

	mu         sync.Mutex
	chunks     chan []byte
	done       chan struct{}
	cancel     context.CancelFunc
	transcript string
}

// NewAudioRecognizer creates a recognizer for chunks in the given container
// format, e.g. "webm".
func NewAudioRecognizer(transcriber Transcriber, format string, logger logrus.FieldLogger) *AudioRecognizer {
	if format == "" {
		format = "webm"
	}
	return &AudioRecognizer{
		transcriber: transcriber,
		format:      format,
		logger:      logger.WithField("component", "audio_recognizer"),
	}
}

func (r *AudioRecognizer) Start(ctx context.Context, onTranscript func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chunks != nil {
		return nil
	}

	// The recognizer outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.chunks = make(chan []byte, 16)
	r.done = make(chan struct{})
	r.cancel = cancel
	r.transcript = ""

	go r.run(runCtx, r.chunks, r.done, onTranscript)
	return nil
}

func (r *AudioRecognizer) Stop() error {
	r.mu.Lock()
	chunks, done, cancel := r.chunks, r.done, r.cancel
	r.chunks, r.done, r.cancel = nil, nil, nil
	r.mu.Unlock()

	if chunks == nil {
		return nil
	}
	close(chunks)
	<-done
	cancel()
	return nil
}

// PushAudio queues a chunk for transcription
func (r *AudioRecognizer) PushAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chunks == nil {
		return ErrRecognizerStopped
	}
	select {
	case r.chunks <- chunk:
		return nil
	default:
		r.logger.Warn("audio queue full, dropping chunk")
		return nil
	}
}

func (r *AudioRecognizer) run(ctx context.Context, chunks <-chan []byte, done chan<- struct{}, onTranscript func(string)) {
	defer close(done)

	for chunk := range chunks {
		text, err := r.transcriber.Transcribe(ctx, chunk, r.format)
		if err != nil {
			r.logger.WithError(err).Warn("transcription failed")
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		r.mu.Lock()
		if r.transcript == "" {
			r.transcript = text
		} else {
			r.transcript += " " + text
		}
		full := r.transcript
		r.mu.Unlock()

		onTranscript(full)
	}
}
