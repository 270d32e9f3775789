package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuel-price-alerts/internal/resilience"
)

// DefaultTitle is the push title used when none is configured.
const DefaultTitle = "Fuel Price Alert"

// Message is one push notification for one recipient.
type Message struct {
	Destination string
	Title       string
	Text        string
}

// Notifier delivers a message to its destination.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// DispatchError reports a failed delivery to one recipient.
type DispatchError struct {
	Destination string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", MaskKey(e.Destination), e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// MaskKey hides all but the first four characters of a user key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// PushoverNotifier sends messages through the Pushover messages API.
type PushoverNotifier struct {
	token   string
	baseURL string
	client  *resilience.Client
	logger  zerolog.Logger
}

// NewPushoverNotifier builds a Pushover dispatcher for an application token.
func NewPushoverNotifier(token, baseURL string, timeout time.Duration, policy resilience.Policy, logger zerolog.Logger, opts ...resilience.Option) *PushoverNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.pushover.net"
	}

	log := logger.With().Str("component", "alert_pushover").Logger()
	return &PushoverNotifier{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  resilience.New("pushover", &http.Client{Timeout: timeout}, policy, log, opts...),
		logger:  log,
	}
}

// Notify posts the message; only HTTP 200 with status 1 counts as delivered.
func (n *PushoverNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Destination == "" {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("empty user key")}
	}

	form := url.Values{}
	form.Set("token", n.token)
	form.Set("user", msg.Destination)
	form.Set("message", msg.Text)
	form.Set("title", titleOrDefault(msg.Title))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/1/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("create pushover request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("send pushover request: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("pushover status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var result struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("decode pushover response: %w", err)}
	}
	if result.Status != 1 {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("pushover status=%d %s", result.Status, strings.Join(result.Errors, "; "))}
	}

	n.logger.Info().Str("user", MaskKey(msg.Destination)).Msg("notification sent (pushover)")
	return nil
}

// TelegramNotifier sends messages through the Telegram Bot API; the destination is a chat id.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *resilience.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram dispatcher.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, policy resilience.Policy, logger zerolog.Logger, opts ...resilience.Option) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	log := logger.With().Str("component", "alert_telegram").Logger()
	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   resilience.New("telegram", &http.Client{Timeout: timeout}, policy, log, opts...),
		logger:   log,
	}
}

// Notify calls sendMessage with the title as the first line.
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	payload := map[string]string{
		"chat_id": msg.Destination,
		"text":    titleOrDefault(msg.Title) + "\n" + msg.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("marshal telegram payload: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("create telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("send telegram request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("telegram status %d", resp.StatusCode)}
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return &DispatchError{Destination: msg.Destination, Err: fmt.Errorf("telegram returned ok=false")}
	}

	n.logger.Info().Str("chat", MaskKey(msg.Destination)).Msg("notification sent (telegram)")
	return nil
}

// LogNotifier writes messages to the logger instead of sending them.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a dispatcher for dry runs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the message.
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info().Str("user", MaskKey(msg.Destination)).Str("title", titleOrDefault(msg.Title)).Msg(msg.Text)
	return nil
}

func titleOrDefault(title string) string {
	if title == "" {
		return DefaultTitle
	}
	return title
}

var (
	_ Notifier = (*PushoverNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
