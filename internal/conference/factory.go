package conference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/enrichment"
	"github.com/gendialogue/dialogue-backend/internal/media"
	"github.com/gendialogue/dialogue-backend/internal/metrics"
	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/speech"
)

// DialogueStore is the part of dialogue persistence a session updates
type DialogueStore interface {
	UpdateStatus(ctx context.Context, hostID, dialogueID uuid.UUID, status models.DialogueStatus) error
	UpdateSummary(ctx context.Context, hostID, dialogueID uuid.UUID, summary string) error
}

// FactoryConfig holds what every session shares
type FactoryConfig struct {
	Provisioner media.Provisioner
	Transport   media.Transport
	Enricher    enrichment.Enricher
	// Transcriber enables server-side recognition of audio chunks. When
	// nil, clients send their own recognized transcripts.
	Transcriber     speech.Transcriber
	AudioFormat     string
	Dialogues       DialogueStore
	ConnectAttempts int
	RetryDelay      time.Duration
	CaptureDebounce time.Duration
	Enrichment      enrichment.Config
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
}

// NewFactory returns a Factory that gives every session its own permission
// gate, recognizer, capture session and room connector.
func NewFactory(cfg FactoryConfig) Factory {
	return func(key Key) (*Session, error) {
		logger := cfg.Logger.WithField("dialogue_id", key.DialogueID)

		gate := media.NewPermissionGate()
		connector := media.NewConnector(cfg.Provisioner, cfg.Transport, gate, media.ConnectorConfig{
			Identity:   key.UserID.String(),
			Attempts:   cfg.ConnectAttempts,
			RetryDelay: cfg.RetryDelay,
		}, logger)

		s := &Session{Key: key, Permission: gate}

		var recognizer speech.Recognizer
		if cfg.Transcriber != nil {
			audio := speech.NewAudioRecognizer(cfg.Transcriber, cfg.AudioFormat, logger)
			recognizer, s.Audio = audio, audio
		} else {
			client := speech.NewClientRecognizer()
			recognizer, s.Transcripts = client, client
		}

		var recorder Recorder
		if cfg.Dialogues != nil {
			recorder = &dialogueRecorder{store: cfg.Dialogues, key: key}
		}

		s.Orchestrator = New(Options{
			DialogueID: key.DialogueID.String(),
			Connector:  connector,
			Enricher:   cfg.Enricher,
			Recorder:   recorder,
			Enrichment: cfg.Enrichment,
			Metrics:    cfg.Metrics,
			Logger:     logger,
			NewCapture: func(onDelta func(string)) Capture {
				return speech.NewCaptureSession(recognizer, gate, cfg.CaptureDebounce, onDelta, logger)
			},
		})
		return s, nil
	}
}

type dialogueRecorder struct {
	store DialogueStore
	key   Key
}

func (r *dialogueRecorder) SetStatus(ctx context.Context, status models.DialogueStatus) error {
	return r.store.UpdateStatus(ctx, r.key.UserID, r.key.DialogueID, status)
}

func (r *dialogueRecorder) SetSummary(ctx context.Context, summary string) error {
	return r.store.UpdateSummary(ctx, r.key.UserID, r.key.DialogueID, summary)
}
