// Package feed fetches the live coefficient from an HTTP JSON endpoint.
//
// The coefficient and optional round identifier are located in the response with
// gjson paths, so the client works against any feed that exposes the reading as JSON.
// Transient failures (network errors, 5xx) are retried with linear backoff; every
// other failure is returned immediately. A weighted semaphore caps the number of
// requests in flight across all subscriber loops sharing one client. A fetch that
// finds the cap reached fails with ErrBusy instead of waiting for a slot.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

// maxBodyBytes bounds how much of a feed response is read.
const maxBodyBytes = 1 << 20

var (
	// ErrValueMissing means the configured value path matched nothing.
	ErrValueMissing = errors.New("coefficient not found in feed response")
	// ErrInvalidValue means the matched value is not a finite number.
	ErrInvalidValue = errors.New("coefficient is not a valid number")
	// ErrBusy means max_concurrent fetches are already in flight.
	ErrBusy = errors.New("too many feed requests in flight")
)

// FetchError describes a failed fetch after all attempts.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed fetch failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClientConfig holds client settings
type ClientConfig struct {
	URL            string
	ValuePath      string
	RoundIDPath    string
	Headers        map[string]string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	MaxConcurrent  int
}

// Client reads coefficients from the feed endpoint
type Client struct {
	url            string
	valuePath      string
	roundIDPath    string
	headers        map[string]string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	sem            *semaphore.Weighted
	now            func() time.Time
}

// NewClient creates a new feed client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &Client{
		url:            cfg.URL,
		valuePath:      cfg.ValuePath,
		roundIDPath:    cfg.RoundIDPath,
		headers:        cfg.Headers,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:            time.Now,
	}
}

// FetchObservation retrieves the current coefficient.
func (c *Client) FetchObservation(ctx context.Context) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, &FetchError{Attempts: 0, Err: err}
	}
	if !c.sem.TryAcquire(1) {
		return models.Observation{}, &FetchError{Attempts: 0, Err: ErrBusy}
	}
	defer c.sem.Release(1)

	body, attempts, err := c.doRequest(ctx)
	if err != nil {
		return models.Observation{}, &FetchError{Attempts: attempts, Err: err}
	}

	obs, err := c.parse(body)
	if err != nil {
		return models.Observation{}, &FetchError{Attempts: attempts, Err: err}
	}
	return obs, nil
}

func (c *Client) parse(body []byte) (models.Observation, error) {
	if !gjson.ValidBytes(body) {
		return models.Observation{}, fmt.Errorf("%w: response is not valid JSON", ErrInvalidValue)
	}

	res := gjson.GetBytes(body, c.valuePath)
	if !res.Exists() {
		return models.Observation{}, fmt.Errorf("%w (path %q)", ErrValueMissing, c.valuePath)
	}

	value, err := parseCoefficient(res)
	if err != nil {
		return models.Observation{}, err
	}

	obs := models.Observation{Value: value, CapturedAt: c.now()}
	if c.roundIDPath != "" {
		if rid := gjson.GetBytes(body, c.roundIDPath); rid.Exists() {
			obs.RoundID = rid.String()
		}
	}
	if err := obs.Validate(); err != nil {
		return models.Observation{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return obs, nil
}

// parseCoefficient accepts JSON numbers and strings such as "2.35" or "2.35x".
func parseCoefficient(res gjson.Result) (float64, error) {
	switch res.Type {
	case gjson.Number:
		return res.Float(), nil
	case gjson.String:
		s := strings.TrimSpace(res.Str)
		s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, res.Str)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: unexpected JSON type %s", ErrInvalidValue, res.Type)
	}
}

// doRequest performs the HTTP request with retry logic and returns the body and
// the number of attempts made.
func (c *Client) doRequest(ctx context.Context) ([]byte, int, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, i, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, i + 1, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, i + 1, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, i + 1, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}
		return body, i + 1, nil
	}

	return nil, c.maxRetries, fmt.Errorf("max retries exceeded: %w", lastErr)
}
