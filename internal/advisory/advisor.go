package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"fuel-price-alerts/internal/trend"
)

// ErrUnavailable means no advisory text could be produced; the notification omits it.
var ErrUnavailable = errors.New("advisory: unavailable")

// Request is one text-generation call.
type Request struct {
	Instructions    string
	Input           string
	MaxOutputTokens int
}

// TextGenerator produces free text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Options configure an Advisor.
type Options struct {
	Region          string
	Grade           string
	Statistic       string
	MaxOutputTokens int
}

// Advisor turns a price series and its trend features into a one-line outlook.
type Advisor struct {
	gen    TextGenerator
	opts   Options
	logger zerolog.Logger
}

// NewAdvisor builds an Advisor around a text generator.
func NewAdvisor(gen TextGenerator, opts Options, logger zerolog.Logger) *Advisor {
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 40
	}
	return &Advisor{
		gen:    gen,
		opts:   opts,
		logger: logger.With().Str("component", "advisor").Logger(),
	}
}

// Advise makes a single generation call. The reply is trimmed and lowercased; an empty reply
// or a failed call returns ErrUnavailable.
func (a *Advisor) Advise(ctx context.Context, series []float64, features trend.Features) (string, error) {
	prompt := BuildPrompt(PromptInput{
		Region:    a.opts.Region,
		Grade:     a.opts.Grade,
		Statistic: a.opts.Statistic,
		Series:    series,
		Features:  features,
	})
	a.logger.Debug().Str("prompt", prompt).Msg("requesting advisory")

	out, err := a.gen.Generate(ctx, Request{
		Instructions:    Instructions,
		Input:           prompt,
		MaxOutputTokens: a.opts.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out = strings.ToLower(strings.TrimSpace(out))
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	a.logger.Info().Str("advice", out).Msg("advisory generated")
	return out, nil
}
