package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/library-catalog/cmd/api/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 10 << 20

// Result is a decoded JSON object. An empty response decodes to an empty Result.
type Result map[string]any

type Config struct {
	BaseURL string
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts, at least 1.
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts. Zero leaves it uncapped.
	MaxBackoff time.Duration
	// RequestsPerSecond throttles attempts. Zero disables throttling.
	RequestsPerSecond float64
	UserAgent         string
}

// Client issues JSON requests against one base URL, retrying server errors,
// timeouts and transport failures with exponential backoff. It owns its
// connection pool until Close.
type Client struct {
	name      string
	cfg       Config
	baseURL   *url.URL
	transport *http.Transport
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func New(name string, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.InitialBackoff < 0 || cfg.MaxBackoff < 0 {
		return nil, errors.New("backoff must not be negative")
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	c := &Client{
		name:      name,
		cfg:       cfg,
		baseURL:   baseURL,
		transport: transport,
		http:      &http.Client{Transport: transport},
		log:       logger.With().Str("component", "httpclient").Str("client", name).Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Backoff is the wait after the failed attempt a (0-based): InitialBackoff * 2^a, capped by MaxBackoff when set.
func (c *Client) Backoff(a int) time.Duration {
	d := c.cfg.InitialBackoff
	for i := 0; i < a; i++ {
		if c.cfg.MaxBackoff > 0 && d >= c.cfg.MaxBackoff {
			break
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if c.cfg.MaxBackoff > 0 && d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

func (c *Client) Get(ctx context.Context, path string, params url.Values) (Result, error) {
	return c.Request(ctx, http.MethodGet, path, params, nil, nil)
}

/*
Sends method to path, relative to the base URL, with params as the query string
and body, when not nil, encoded as JSON. Server errors, timeouts and transport
failures are retried up to MaxRetries attempts; client errors are returned at once.
*/
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any, headers http.Header) (Result, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	target := c.resolve(path, params)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	for a := 0; a < c.cfg.MaxRetries; a++ {
		last := a == c.cfg.MaxRetries-1
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s %s: %w", method, target, err)
			}
		}

		res, err := c.attempt(ctx, a, method, target, payload, headers)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, ctx.Err())
		}

		var upstream *UpstreamError
		var decodeErr *decodeError
		switch {
		case errors.As(err, &decodeErr):
			return nil, fmt.Errorf("%s %s: %w", method, target, err)
		case errors.As(err, &upstream):
			upstream.Attempts = a + 1
			if upstream.StatusCode < 500 || last {
				return nil, upstream
			}
		case last:
			return nil, exhausted(method, target, a+1, err)
		}

		wait := c.Backoff(a)
		c.log.Warn().Err(err).Int("attempt", a+1).Dur("backoff", wait).Msg("retrying request")
		if err := sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, err)
		}
	}
	// MaxRetries >= 1 makes the loop always return.
	return nil, fmt.Errorf("%s %s: no attempt made", method, target)
}

// attempt performs a single try under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, a int, method, target string, payload []byte, headers http.Header) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	res, status, err := c.do(req)
	elapsed := time.Since(start)

	metrics.UpstreamAttemptDuration.WithLabelValues(c.name).Observe(elapsed.Seconds())
	metrics.UpstreamAttempts.WithLabelValues(c.name, outcome(status, err)).Inc()
	c.log.Debug().
		Str("method", method).
		Str("url", target).
		Int("attempt", a+1).
		Int("max_attempts", c.cfg.MaxRetries).
		Int("status", status).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("upstream attempt")
	return res, err
}

func (c *Client) do(req *http.Request) (Result, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &UpstreamError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 512),
		}
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return Result{}, resp.StatusCode, nil
	}
	result := Result{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, resp.StatusCode, &decodeError{err: err}
	}
	if result == nil {
		result = Result{}
	}
	return result, resp.StatusCode, nil
}

// decodeError marks a 2xx response whose body was not a JSON object. It is never retried.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return "decoding response: " + e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func (c *Client) resolve(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

/*
Closes the client. Requests issued afterwards fail with ErrClientClosed;
requests already in flight finish before the idle connections are released.
Only the first call has an effect.
*/
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	c.transport.CloseIdleConnections()
	c.log.Debug().Msg("http client closed")
	return nil
}

func exhausted(method, target string, attempts int, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Method: method, URL: target, Attempts: attempts, Err: err}
	}
	return &TransportError{Method: method, URL: target, Attempts: attempts, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(status int, err error) string {
	var decodeErr *decodeError
	switch {
	case err == nil:
		return "success"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	case errors.As(err, &decodeErr):
		return "decode_error"
	case isTimeout(err):
		return "timeout"
	default:
		return "transport_error"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
