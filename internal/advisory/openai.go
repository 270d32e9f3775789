package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuel-price-alerts/internal/resilience"
)

const responsesPath = "/responses"

// OpenAIOptions parameterise the Responses API client.
type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Policy  resilience.Policy
}

// OpenAIClient calls the OpenAI Responses API.
type OpenAIClient struct {
	opts    OpenAIOptions
	baseURL string
	client  *resilience.Client
	logger  zerolog.Logger
}

// NewOpenAIClient constructs a text generator backed by the Responses API.
func NewOpenAIClient(opts OpenAIOptions, logger zerolog.Logger, clientOpts ...resilience.Option) *OpenAIClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-5"
	}

	log := logger.With().Str("component", "openai").Logger()
	return &OpenAIClient{
		opts:    opts,
		baseURL: baseURL,
		client:  resilience.New("openai", &http.Client{Timeout: timeout}, opts.Policy, log, clientOpts...),
		logger:  log,
	}
}

// Generate sends one request and returns the concatenated output text.
func (c *OpenAIClient) Generate(ctx context.Context, in Request) (string, error) {
	if c.opts.APIKey == "" {
		return "", errors.New("openai api key not configured")
	}

	body, err := json.Marshal(responsesRequest{
		Model:           c.opts.Model,
		Instructions:    in.Instructions,
		Input:           in.Input,
		MaxOutputTokens: in.MaxOutputTokens,
		Reasoning:       &reasoning{Effort: "minimal"},
		Text:            &textOptions{Verbosity: "low"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+responsesPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send responses request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read responses body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, payload)
	}

	var decoded responsesResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode responses body: %w", err)
	}

	text := decoded.text()
	c.logger.Debug().Str("model", c.opts.Model).Str("status", decoded.Status).Int("chars", len(text)).Msg("responses call complete")
	return text, nil
}

type reasoning struct {
	Effort string `json:"effort"`
}

type textOptions struct {
	Verbosity string `json:"verbosity"`
}

type responsesRequest struct {
	Model           string       `json:"model"`
	Instructions    string       `json:"instructions,omitempty"`
	Input           string       `json:"input"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	Reasoning       *reasoning   `json:"reasoning,omitempty"`
	Text            *textOptions `json:"text,omitempty"`
}

type responsesResponse struct {
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// text prefers the aggregated output_text and otherwise joins every output_text part.
func (r responsesResponse) text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	parts := make([]string, 0)
	for _, item := range r.Output {
		for _, c := range item.Content {
			if (c.Type == "output_text" || c.Type == "message") && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func parseAPIError(status int, payload []byte) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("openai api error (%d): %s", status, apiErr.Error.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("openai api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("openai api error (%d)", status)
}

var _ TextGenerator = (*OpenAIClient)(nil)
