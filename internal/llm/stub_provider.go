package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gendialogue/dialogue-backend/internal/providers"
)

const stubSummaryWords = 25

// StubProvider answers format and summarize prompts locally. It is used
// when no API key is configured.
type StubProvider struct{}

// NewStubProvider creates a stub provider
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (s *StubProvider) Name() string {
	return "stub"
}

func (s *StubProvider) ValidateConfig() error {
	return nil
}

// Complete performs a non-streaming completion
func (s *StubProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if len(req.Messages) < 2 {
		return nil, fmt.Errorf("stub provider needs a system and a user message")
	}

	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content

	var content string
	switch system {
	case formatSystemPrompt:
		content = stubFormat(afterPrompt(user))
	case summarizeSystemPrompt:
		content = stubSummarize(afterPrompt(user))
	default:
		content = "This is a stub response from the stub provider"
	}

	return &providers.CompletionResponse{
		ID:    fmt.Sprintf("stub-%d", time.Now().UnixNano()),
		Model: req.Model,
		Choices: []providers.Choice{
			{
				Message:      providers.Message{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
	}, nil
}

// afterPrompt strips the instruction line that precedes the transcript.
func afterPrompt(user string) string {
	if i := strings.Index(user, "\n\n"); i >= 0 {
		return user[i+2:]
	}
	return user
}

func stubFormat(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	if last := runes[len(runes)-1]; !unicode.IsPunct(last) {
		runes = append(runes, '.')
	}
	return string(runes)
}

func stubSummarize(text string) string {
	words := strings.Fields(text)
	if len(words) > stubSummaryWords {
		return strings.Join(words[:stubSummaryWords], " ") + "..."
	}
	return strings.Join(words, " ")
}
