package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/auth"
	"github.com/gendialogue/dialogue-backend/internal/conference"
	"github.com/gendialogue/dialogue-backend/internal/config"
	"github.com/gendialogue/dialogue-backend/internal/enrichment"
	"github.com/gendialogue/dialogue-backend/internal/llm"
	"github.com/gendialogue/dialogue-backend/internal/media/wsrtc"
	"github.com/gendialogue/dialogue-backend/internal/metrics"
	"github.com/gendialogue/dialogue-backend/internal/providers"
	"github.com/gendialogue/dialogue-backend/internal/providers/openai"
	"github.com/gendialogue/dialogue-backend/internal/repository/postgres"
	"github.com/gendialogue/dialogue-backend/internal/rooms"
	"github.com/gendialogue/dialogue-backend/internal/signaling"
	"github.com/gendialogue/dialogue-backend/internal/speech"
)

// Services holds all service instances
type Services struct {
	Auth        *auth.Service
	Dialogues   *DialogueService
	Text        *llm.TextService
	Rooms       *rooms.Service
	Hub         *signaling.Hub
	Conferences *conference.Manager
	Metrics     *metrics.Metrics

	redis  *redis.Client
	logger logrus.FieldLogger
}

// NewServices wires every service from configuration. reg receives the
// conference collectors; it may be nil.
func NewServices(ctx context.Context, cfg *config.Config, db *sqlx.DB, reg prometheus.Registerer, logger logrus.FieldLogger) (*Services, error) {
	s := &Services{logger: logger.WithField("component", "services")}

	if reg != nil {
		s.Metrics = metrics.New(reg)
	}

	userRepo := postgres.NewUserRepository(db)
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	s.Auth = auth.NewService(userRepo, jwtService, logger)
	s.Dialogues = NewDialogueService(postgres.NewDialogueRepository(db), logger)

	store, err := s.roomStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Rooms = rooms.NewService(store, rooms.Options{
		Capacity:    cfg.Rooms.Capacity,
		TokenSecret: cfg.Rooms.TokenSecret,
		TokenTTL:    cfg.Rooms.TokenTTL,
	}, logger)
	s.Hub = signaling.NewHub(s.Rooms, logger, s.Metrics)

	provider, err := s.newProvider(cfg.Provider)
	if err != nil {
		s.closeRedis()
		return nil, err
	}
	breaker := llm.NewCircuitBreaker(llm.DefaultBreakerSettings(), logger)
	s.Text = llm.NewTextService(provider, cfg.Provider.Model, breaker, logger)

	var transcriber speech.Transcriber
	if cfg.Conference.Recognizer == "whisper" {
		t, ok := provider.(providers.Transcriber)
		if !ok {
			s.closeRedis()
			return nil, fmt.Errorf("provider %s cannot transcribe audio", provider.Name())
		}
		transcriber = t
	}

	factory := conference.NewFactory(conference.FactoryConfig{
		Provisioner:     s.Rooms,
		Transport:       wsrtc.New(cfg.Rooms.SignalURL, logger),
		Enricher:        s.Text,
		Transcriber:     transcriber,
		AudioFormat:     "webm",
		Dialogues:       s.Dialogues,
		ConnectAttempts: cfg.Conference.ConnectAttempts,
		RetryDelay:      cfg.Conference.ConnectRetryDelay,
		CaptureDebounce: cfg.Conference.CaptureDebounce,
		Enrichment: enrichment.Config{
			Format: enrichment.Policy{
				QuietPeriod: cfg.Enrichment.FormatQuietPeriod,
				MinLength:   cfg.Enrichment.FormatMinLength,
			},
			Summarize: enrichment.Policy{
				QuietPeriod: cfg.Enrichment.SummaryQuietPeriod,
				MinLength:   cfg.Enrichment.SummaryMinLength,
			},
		},
		Metrics: s.Metrics,
		Logger:  logger,
	})
	s.Conferences = conference.NewManager(factory, logger)

	return s, nil
}

func (s *Services) roomStore(ctx context.Context, cfg *config.Config) (rooms.Store, error) {
	switch cfg.Rooms.Store {
	case "", "memory":
		return rooms.NewMemoryStore(), nil
	case "redis":
		client, err := rooms.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connect room store: %w", err)
		}
		s.redis = client
		return rooms.NewRedisStore(client), nil
	}
	return nil, fmt.Errorf("unknown room store %q", cfg.Rooms.Store)
}

func (s *Services) newProvider(cfg config.ProviderConfig) (providers.Provider, error) {
	switch cfg.Type {
	case "stub":
		return llm.NewStubProvider(), nil
	case "", "openai", "openai-compatible":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			s.logger.Warn("no provider API key configured, using the stub provider")
			return llm.NewStubProvider(), nil
		}
		p, err := openai.NewProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
}

// Shutdown ends live conferences and releases shared clients
func (s *Services) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Conferences.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("end conferences: %w", err))
	}
	if err := s.closeRedis(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Services) closeRedis() error {
	if s.redis == nil {
		return nil
	}
	err := s.redis.Close()
	s.redis = nil
	return err
}
