// Package remote provides byte-range HTTP access to NWB files: an
// io.ReaderAt over ranged GETs with block caching, plus the shared HTTP
// client the DANDI and LINDI modules reuse.
package remote

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ClientConfig tunes the shared HTTP client.
type ClientConfig struct {
	Timeout    time.Duration
	RetryCount int
	// Requests per second and burst for the client-side rate limiter.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Defaults for the HTTP client. DANDI's S3 redirects tolerate far more
// than this; the limiter is there to keep bulk walks polite.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultRetryCount = 3
	DefaultRateLimit  = 20
	DefaultRateBurst  = 40
)

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewHTTPClient builds a resty client with retries, a client-side rate
// limiter and debug logging of every request and response.
func NewHTTPClient(cfg ClientConfig) *resty.Client {
	cfg = cfg.withDefaults()

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	logger := cfg.Logger
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		logger.DebugContext(req.Context(), "HTTP request",
			"method", req.Method,
			"url", req.URL,
		)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.DebugContext(resp.Request.Context(), "HTTP response",
			"method", resp.Request.Method,
			"url", resp.Request.URL,
			"status", resp.StatusCode(),
			"duration", resp.Time(),
		)
		return nil
	})

	return client
}
