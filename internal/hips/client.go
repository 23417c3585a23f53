package hips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/ratelimit"
)

const (
	// UserAgent identifies the client to HiPS servers.
	UserAgent = "hips-mosaic/1.0 (+https://aladin.cds.unistra.fr/hips/)"

	// DefaultTimeout bounds one tile request.
	DefaultTimeout = 15 * time.Second

	// maxTileBytes caps how much of a response body is read.
	maxTileBytes = 16 << 20
)

var (
	ErrTileNotFound = errors.New("tile not found")
	ErrRateLimited  = errors.New("survey is rate limiting requests")
)

// Client fetches HiPS tiles over HTTP.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Handler
	userAgent  string
}

// NewClient returns a Client with system proxy support and the given request
// timeout (DefaultTimeout when zero). limiter may be nil.
func NewClient(timeout time.Duration, limiter *ratelimit.Handler) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:   limiter,
		userAgent: UserAgent,
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// rateLimitRetries is how many times a refused tile is retried after the
// limiter's backoff.
const rateLimitRetries = 1

// FetchTile downloads one tile of s. A rate-limited request is retried once the
// limiter's backoff has passed, unless that falls after ctx's deadline.
func (c *Client) FetchTile(ctx context.Context, s Survey, order int, pixel healpix.Pixel) ([]byte, error) {
	tileURL, err := s.TileURL(order, pixel)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		data, err := c.fetch(ctx, s.ID, tileURL)
		if !errors.Is(err, ErrRateLimited) || attempt >= rateLimitRetries || !c.canRetry(ctx, s.ID) {
			return data, err
		}
		log.Printf("[HiPS] %s refused pixel %d, retrying after backoff", s.ID, pixel)
	}
}

// canRetry reports whether the survey's next allowed request is before ctx expires.
func (c *Client) canRetry(ctx context.Context, survey string) bool {
	if c.limiter == nil || ctx.Err() != nil {
		return false
	}
	ev := c.limiter.CurrentState(survey)
	if ev == nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return !ok || !ev.NextRetryAt.After(deadline)
}

func (c *Client) fetch(ctx context.Context, survey, tileURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, survey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if c.limiter != nil && c.limiter.CheckResponse(survey, resp) {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrRateLimited, resp.StatusCode, tileURL)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, tileURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty tile body from %s", tileURL)
	}
	return data, nil
}
