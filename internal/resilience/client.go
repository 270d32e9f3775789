// Package resilience wraps outbound HTTP calls in bounded retries with exponential backoff and a
// circuit breaker. It sits around the collaborators (pricing feed, text generation, push
// dispatch); nothing in the statistics or ledger code depends on it.
package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Policy configures retries and the breaker.
type Policy struct {
	MaxRetries      int
	MinWait         time.Duration
	MaxWait         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultPolicy returns the defaults used when configuration leaves a field empty.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      2,
		MinWait:         500 * time.Millisecond,
		MaxWait:         10 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MinWait <= 0 {
		p.MinWait = def.MinWait
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	if p.BreakerFailures == 0 {
		p.BreakerFailures = def.BreakerFailures
	}
	if p.BreakerTimeout <= 0 {
		p.BreakerTimeout = def.BreakerTimeout
	}
	return p
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the wait between attempts. Tests use it to avoid real delays.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client executes requests with retry and circuit breaking.
type Client struct {
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    Policy
	userAgent string
	sleep     SleepFunc
	logger    zerolog.Logger
}

// New builds a Client. name identifies the breaker in logs.
func New(name string, httpClient *http.Client, policy Policy, logger zerolog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	policy = policy.withDefaults()
	log := logger.With().Str("component", "resilience").Str("upstream", name).Logger()

	c := &Client{
		http:   httpClient,
		policy: policy,
		sleep:  sleepContext,
		logger: log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     policy.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying transport errors, 429 and 5xx responses. Any response that
// ends the loop is returned with a nil error and an unread body, including a final 5xx once
// retries are spent, so callers keep a single status-handling path. Errors are returned only for
// transport failures, an open breaker, or a cancelled context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	ctx := req.Context()
	attempts := 1 + c.policy.MaxRetries
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.http.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, ctxErr
		}

		last := attempt == attempts-1
		if resp != nil && last {
			return resp, nil
		}

		wait := c.backoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}
		lastErr = err
		if last {
			break
		}

		c.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("retrying upstream call")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// backoff honours Retry-After in seconds, otherwise uses exponential backoff with jitter
// between MinWait and min(MaxWait, MinWait*2^attempt).
func (c *Client) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait := time.Duration(s) * time.Second
			if wait > c.policy.MaxWait {
				wait = c.policy.MaxWait
			}
			return wait
		}
	}

	minWait := float64(c.policy.MinWait)
	ceiling := math.Min(float64(c.policy.MaxWait), minWait*math.Pow(2, float64(attempt)))
	if ceiling <= minWait {
		return c.policy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(ceiling-minWait))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
