package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff is 3 attempts waiting 2s then 4s, never more than 10s.
var DefaultBackoff = BackoffConfig{
	MaxAttempts:     3,
	InitialInterval: 2 * time.Second,
	MaxInterval:     10 * time.Second,
}

// Delay returns the wait after the given failed attempt (1-based).
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.InitialInterval) * math.Pow(2, float64(attempt-1))
	if b.MaxInterval > 0 && delay > float64(b.MaxInterval) {
		return b.MaxInterval
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	Sleep   SleepFunc
}

var (
	// ErrFetchFailed is returned once every attempt of a fetch has failed.
	ErrFetchFailed = errors.New("weather fetch failed")
	// ErrHTTPStatus marks a non-2xx response.
	ErrHTTPStatus = errors.New("unexpected status code")
	// ErrMalformedPayload marks a response body without the expected fields.
	ErrMalformedPayload = errors.New("malformed weather payload")
	// ErrCircuitOpen is returned without attempting a request while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrMissingAPIKey is returned before any request when no API key is configured.
	ErrMissingAPIKey = errors.New("api key is not configured")
	// ErrMissingCity is returned before any request when the location has no city.
	ErrMissingCity = errors.New("location has no city")

	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// doWithResilience runs attempt until it succeeds or the backoff budget is spent,
// routing every attempt through the circuit breaker. It returns the number of
// attempts made.
func doWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	log *zap.SugaredLogger,
	attempt func(ctx context.Context) error,
) (int, error) {
	if cfg.Client == nil {
		return 0, errNoHTTPClient
	}
	if cfg.Backoff.MaxAttempts < 1 || cfg.Backoff.InitialInterval <= 0 {
		return 0, errInvalidConfig
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return n - 1, ctx.Err()
		}

		err := execute(cb, func() error { return attempt(ctx) })
		if err == nil {
			return n, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return n, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}

		lastErr = err
		if n >= cfg.Backoff.MaxAttempts {
			log.Errorw("weather fetch attempts exhausted", "attempts", n, "error", err)
			return n, lastErr
		}

		delay := cfg.Backoff.Delay(n)
		log.Warnw("weather fetch attempt failed",
			"attempt", n,
			"max_attempts", cfg.Backoff.MaxAttempts,
			"retry_in", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return n, err
		}
	}
}

func execute(cb *gobreaker.CircuitBreaker, fn func() error) error {
	if cb == nil {
		return fn()
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// getJSON performs req and decodes a 2xx JSON body into dst.
func getJSON(client *http.Client, req *http.Request, dst any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d: %w", ErrHTTPStatus, resp.StatusCode, errRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %d: %w", ErrHTTPStatus, resp.StatusCode, errServerError)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
