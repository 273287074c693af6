// Package transport owns the shared HTTP machinery: the pooled client
// every provider call goes through, environment-driven tuning, and the
// credential/endpoint resolution chain.
package transport

import (
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Environment variables that tune the shared HTTP client.
const (
	EnvProxyURL           = "AI_PROXY_URL"
	EnvTimeoutSecs        = "AI_TIMEOUT_SECS"
	EnvPoolMaxIdlePerHost = "AI_HTTP_POOL_MAX_IDLE_PER_HOST"
	EnvPoolIdleTimeoutMS  = "AI_HTTP_POOL_IDLE_TIMEOUT_MS"
)

// Config tunes the pooled HTTP client.
type Config struct {
	// Timeout is the whole-request ceiling. Streaming calls override
	// it to zero on their dedicated client.
	Timeout time.Duration
	// ProxyURL routes requests through an HTTP proxy when set.
	ProxyURL string
	// MaxIdleConnsPerHost sizes the per-host keep-alive pool.
	MaxIdleConnsPerHost int
	// IdleConnTimeout evicts idle pooled connections.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns the stock transport tuning.
func DefaultConfig() Config {
	return Config{
		Timeout:             120 * time.Second,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ConfigFromEnv starts from defaults and applies environment
// overrides. Unparseable values are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv(EnvProxyURL); v != "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv(EnvTimeoutSecs); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(EnvPoolMaxIdlePerHost); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxIdleConnsPerHost = n
		}
	}
	if v := os.Getenv(EnvPoolIdleTimeoutMS); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.IdleConnTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

// NewHTTPClient builds the pooled client shared by non-streaming
// calls.
func NewHTTPClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newTransport(cfg),
	}
}

// NewStreamingHTTPClient builds a client without a whole-request
// timeout; stream lifetimes are governed by cancel handles and
// per-attempt contexts instead.
func NewStreamingHTTPClient(cfg Config) *http.Client {
	return &http.Client{Transport: newTransport(cfg)}
}

func newTransport(cfg Config) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			t.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return t
}
