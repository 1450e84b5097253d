package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

type upperEnricher struct {
	err error
}

func (e upperEnricher) Format(ctx context.Context, text string) (string, error) {
	return strings.ToUpper(text), e.err
}

func (e upperEnricher) Summarize(ctx context.Context, text string) (string, error) {
	return "summary: " + text, e.err
}

func TestAIHandlers(t *testing.T) {
	app := fiber.New()
	NewAIHandlers(upperEnricher{}).RegisterRoutes(app.Group("/api/ai"))

	failing := fiber.New()
	NewAIHandlers(upperEnricher{err: errors.New("provider down")}).RegisterRoutes(failing.Group("/api/ai"))

	tests := []struct {
		name   string
		app    *fiber.App
		path   string
		text   string
		status int
		key    string
		want   string
	}{
		{name: "summarize", app: app, path: "/api/ai/summarize", text: "we met", status: http.StatusOK, key: "summary", want: "summary: we met"},
		{name: "format", app: app, path: "/api/ai/format", text: "we met", status: http.StatusOK, key: "formatted", want: "WE MET"},
		{name: "empty summarize", app: app, path: "/api/ai/summarize", text: "  ", status: http.StatusBadRequest, key: "error", want: "Text is required"},
		{name: "empty format", app: app, path: "/api/ai/format", status: http.StatusBadRequest, key: "error", want: "Text is required"},
		{name: "provider failure", app: failing, path: "/api/ai/format", text: "we met", status: http.StatusBadGateway, key: "error", want: "Error formatting text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, tt.app, http.MethodPost, tt.path, map[string]string{"text": tt.text})
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.want, body[tt.key])
		})
	}
}
