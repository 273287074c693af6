package relay

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelrelay/relay/internal/pipeline"
	"github.com/modelrelay/relay/internal/resilience"
	"github.com/modelrelay/relay/internal/routing"
)

// ClientConfig holds all configuration for the relay client.
type ClientConfig struct {
	// ManifestPath loads the provider/model catalogue from a file.
	// When empty the embedded default manifest is used.
	ManifestPath string
	// WatchManifest hot-reloads ManifestPath on change.
	WatchManifest bool

	// DefaultProvider is the hint used when a requested model is not
	// in the catalogue.
	DefaultProvider string

	// RoutingStrategy is one of single, failover, round_robin.
	RoutingStrategy string
	// Route lists candidate models for failover and round_robin.
	// Empty means the per-request model routes directly.
	Route []string

	// MaxConcurrentRequests bounds in-flight calls; 0 means unbounded.
	MaxConcurrentRequests int

	// Credentials and endpoints per provider id. These outrank the
	// environment but lose to per-call values.
	APIKeys        map[string]string
	BaseURLs       map[string]string
	ConnectionVars map[string]string

	// Retry / timeout tuning for the interceptor pipeline.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	AttemptTimeout   time.Duration

	// RateLimit applies per provider:model key.
	RateLimit resilience.RateLimiterConfig
	// CircuitBreaker applies per provider:model key.
	CircuitBreaker resilience.CircuitBreakerConfig

	// CacheEnabled caches non-streaming responses in memory.
	CacheEnabled bool
	CacheTTL     time.Duration

	// MetricsRegisterer enables the Prometheus observer when set.
	MetricsRegisterer prometheus.Registerer

	// Observers subscribe to pipeline events.
	Observers []pipeline.Observer

	Logger *slog.Logger
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		RoutingStrategy:       routing.StrategySingle,
		MaxConcurrentRequests: 100,
		RetryMaxAttempts:      3,
		RetryBaseDelay:        200 * time.Millisecond,
		RetryMaxDelay:         10 * time.Second,
		AttemptTimeout:        60 * time.Second,
		RateLimit:             resilience.DefaultRateLimiterConfig(),
		CircuitBreaker:        resilience.DefaultCircuitBreakerConfig(),
		CacheTTL:              5 * time.Minute,
		Logger:                slog.Default(),
	}
}

// WithManifestFile loads the catalogue from path instead of the
// embedded default.
func WithManifestFile(path string) Option {
	return func(c *ClientConfig) { c.ManifestPath = path }
}

// WithHotReload watches the manifest file and swaps snapshots on
// change. Requires WithManifestFile.
func WithHotReload() Option {
	return func(c *ClientConfig) { c.WatchManifest = true }
}

// WithDefaultProvider names the provider used for models the catalogue
// does not know.
func WithDefaultProvider(provider string) Option {
	return func(c *ClientConfig) { c.DefaultProvider = provider }
}

// WithRouting selects a routing strategy over an ordered candidate
// model list.
func WithRouting(strategy string, candidates ...string) Option {
	return func(c *ClientConfig) {
		c.RoutingStrategy = strategy
		c.Route = candidates
	}
}

// WithAPIKey sets the credential for one provider.
func WithAPIKey(provider, key string) Option {
	return func(c *ClientConfig) {
		if c.APIKeys == nil {
			c.APIKeys = make(map[string]string)
		}
		c.APIKeys[provider] = key
	}
}

// WithBaseURL overrides one provider's endpoint.
func WithBaseURL(provider, baseURL string) Option {
	return func(c *ClientConfig) {
		if c.BaseURLs == nil {
			c.BaseURLs = make(map[string]string)
		}
		c.BaseURLs[provider] = baseURL
	}
}

// WithConnectionVar supplies one base_url_template placeholder value.
func WithConnectionVar(name, value string) Option {
	return func(c *ClientConfig) {
		if c.ConnectionVars == nil {
			c.ConnectionVars = make(map[string]string)
		}
		c.ConnectionVars[name] = value
	}
}

// WithMaxConcurrentRequests bounds in-flight calls; 0 disables the
// bound.
func WithMaxConcurrentRequests(n int) Option {
	return func(c *ClientConfig) { c.MaxConcurrentRequests = n }
}

// WithRetry tunes the retry interceptor.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryMaxAttempts = maxAttempts
		c.RetryBaseDelay = baseDelay
		c.RetryMaxDelay = maxDelay
	}
}

// WithTimeout sets the per-attempt deadline. Zero is an
// already-expired deadline: every call fails immediately with a
// timeout error.
func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.AttemptTimeout = d }
}

// WithRateLimit configures the per-key token bucket.
func WithRateLimit(cfg resilience.RateLimiterConfig) Option {
	return func(c *ClientConfig) { c.RateLimit = cfg }
}

// WithCircuitBreaker configures the per-key breaker.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *ClientConfig) { c.CircuitBreaker = cfg }
}

// WithCache enables the in-memory response cache for non-streaming
// calls.
func WithCache(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		c.CacheEnabled = true
		if ttl > 0 {
			c.CacheTTL = ttl
		}
	}
}

// WithMetrics registers Prometheus collectors on reg and subscribes
// the metrics observer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *ClientConfig) { c.MetricsRegisterer = reg }
}

// WithObserver subscribes a custom pipeline observer.
func WithObserver(o pipeline.Observer) Option {
	return func(c *ClientConfig) { c.Observers = append(c.Observers, o) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
