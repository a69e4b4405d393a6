package fetch

import (
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 300 * time.Millisecond
	defaultPerHostRPS  = 4
	defaultSizeCap     = 4 << 20 // 4 MiB per page
	userAgent          = "kbpulse/1.0 (+knowledge-base sync)"
)

// hostLimiters keeps one token bucket per external host so a wide fetch run
// never concentrates its requests on a single site.
type hostLimiters struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	return &hostLimiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}

// page is one successfully fetched document.
type page struct {
	Body         []byte
	LastModified *time.Time
	NotModified  bool
}

// Client fetches pages with per-host throttling and retry with exponential
// backoff and jitter for transient failures.
type Client struct {
	http        *http.Client
	limiters    *hostLimiters
	maxRetries  int
	backoffBase time.Duration
	sizeCap     int64
	logger      *zap.Logger
}

func NewClient(timeout time.Duration, perHostRPS float64, burst int, logger *zap.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if perHostRPS <= 0 {
		perHostRPS = defaultPerHostRPS
	}
	if burst <= 0 {
		burst = 2
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiters:    newHostLimiters(perHostRPS, burst),
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		sizeCap:     defaultSizeCap,
		logger:      logger,
	}
}

// Get fetches one page. ifModifiedSince, when set, is sent as an
// If-Modified-Since header; a 304 comes back as NotModified with no body.
// Transient failures are retried up to maxRetries times before surfacing.
func (c *Client) Get(ctx context.Context, pageURL string, ifModifiedSince *time.Time) (*page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			c.logger.Debug("retrying fetch",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt))
		}

		if err := c.limiters.wait(ctx, u.Host); err != nil {
			return nil, err
		}

		result, err := c.doOnce(ctx, pageURL, ifModifiedSince)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !transient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, pageURL string, ifModifiedSince *time.Time) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if ifModifiedSince != nil {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &page{NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.sizeCap))
	if err != nil {
		return nil, err
	}

	p := &page{Body: body}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			p.LastModified = &ts
		}
	}
	return p, nil
}

// sleepBackoff waits base*2^(attempt-1) plus up to 50% jitter.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
