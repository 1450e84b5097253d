package conference

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Scope selects which rooms a compilation covers
type Scope string

const (
	ScopeFinal     Scope = "final"
	ScopeBreakouts Scope = "breakouts"
)

// CompilationResult is the outcome of one compile request
type CompilationResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary"`
	Message string `json:"message"`
}

// TranscriptSource returns formatted transcripts in compile order, main room
// first and breakouts in creation order.
type TranscriptSource interface {
	Transcripts(scope Scope) []string
}

// Summarizer is the enrichment call used to compile
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Compiler aggregates formatted transcripts across rooms on demand. It
// keeps no state between calls.
type Compiler struct {
	source     TranscriptSource
	summarizer Summarizer
	logger     logrus.FieldLogger
}

func NewCompiler(source TranscriptSource, summarizer Summarizer, logger logrus.FieldLogger) *Compiler {
	return &Compiler{
		source:     source,
		summarizer: summarizer,
		logger:     logger.WithField("component", "compiler"),
	}
}

// CompileFinal summarizes the main room together with every breakout
func (c *Compiler) CompileFinal(ctx context.Context) CompilationResult {
	res, _ := c.compile(ctx, ScopeFinal)
	return res
}

// CompileBreakoutRooms summarizes the breakout rooms only
func (c *Compiler) CompileBreakoutRooms(ctx context.Context) CompilationResult {
	res, _ := c.compile(ctx, ScopeBreakouts)
	return res
}

func (c *Compiler) compile(ctx context.Context, scope Scope) (CompilationResult, error) {
	var parts []string
	for _, text := range c.source.Transcripts(scope) {
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return CompilationResult{Success: false, Message: NoContentMessage}, nil
	}

	summary, err := c.summarizer.Summarize(ctx, strings.Join(parts, "\n\n"))
	if err != nil {
		c.logger.WithError(err).WithField("scope", scope).Warn("compilation failed")
		cerr := &CompileError{Scope: scope, Err: err}
		return CompilationResult{Success: false, Message: cerr.Error()}, cerr
	}

	return CompilationResult{
		Success: true,
		Summary: summary,
		Message: "compiled " + pluralRooms(len(parts)),
	}, nil
}

func pluralRooms(n int) string {
	if n == 1 {
		return "1 room"
	}
	return fmt.Sprintf("%d rooms", n)
}
