package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/providers"
)

const (
	summarizeSystemPrompt = "You are an AI assistant that creates concise, accurate summaries of dialogue transcripts."
	summarizeUserPrompt   = "Summarize the following dialogue transcript in a clear and concise way:\n\n%s"
	formatSystemPrompt    = "You are an AI assistant that formats dialogue transcripts into clear, properly punctuated text."
	formatUserPrompt      = "Format the following transcript into proper sentences with appropriate punctuation and capitalization:\n\n%s"

	summarizeMaxTokens   = 150
	summarizeTemperature = float32(0.5)
	formatMaxTokens      = 1000
	formatTemperature    = float32(0.3)
)

// ErrEmptyText is returned when asked to enrich blank text
var ErrEmptyText = errors.New("text is required")

// TextService formats and summarizes transcripts through a completion provider
type TextService struct {
	provider providers.Provider
	model    string
	breaker  *CircuitBreaker
	logger   logrus.FieldLogger
}

// NewTextService creates a text service. breaker may be nil.
func NewTextService(provider providers.Provider, model string, breaker *CircuitBreaker, logger logrus.FieldLogger) *TextService {
	return &TextService{
		provider: provider,
		model:    model,
		breaker:  breaker,
		logger:   logger.WithField("component", "text_service"),
	}
}

// Summarize returns a short summary of text
func (s *TextService) Summarize(ctx context.Context, text string) (string, error) {
	return s.complete(ctx, "summarize", summarizeSystemPrompt, summarizeUserPrompt, text, summarizeMaxTokens, summarizeTemperature)
}

// Format returns text rewritten into punctuated sentences
func (s *TextService) Format(ctx context.Context, text string) (string, error) {
	return s.complete(ctx, "format", formatSystemPrompt, formatUserPrompt, text, formatMaxTokens, formatTemperature)
}

func (s *TextService) complete(ctx context.Context, task, system, user, text string, maxTokens int, temperature float32) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	req := providers.CompletionRequest{
		Model: s.model,
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: fmt.Sprintf(user, text)},
		},
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	var content string
	call := func() error {
		resp, err := s.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		content, err = resp.Content()
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(s.provider.Name(), call)
	} else {
		err = call()
	}
	if err != nil {
		s.logger.WithError(err).WithField("task", task).Warn("completion failed")
		return "", fmt.Errorf("%s: %w", task, err)
	}

	return strings.TrimSpace(content), nil
}
