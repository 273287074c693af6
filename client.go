package relay

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/modelrelay/relay/internal/adapter"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/internal/metrics"
	"github.com/modelrelay/relay/internal/pipeline"
	"github.com/modelrelay/relay/internal/resilience"
	"github.com/modelrelay/relay/internal/routing"
	"github.com/modelrelay/relay/internal/transport"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// Client is the unified gateway to every configured LLM provider. It
// is safe for concurrent use; construct once and share.
type Client struct {
	cfg      *ClientConfig
	registry *manifest.Registry
	resolver *catalog.Resolver
	adapter  *adapter.Adapter
	pipe     *pipeline.Pipeline
	sem      *resilience.Semaphore
	strategy routing.Strategy
	cache    *gocache.Cache

	watchCancel context.CancelFunc
}

// New creates a client. With no options it serves the embedded default
// manifest and reads credentials from the environment.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	strategy, err := routing.NewStrategy(cfg.RoutingStrategy, cfg.Logger)
	if err != nil {
		return nil, err
	}

	overrides := transport.Overrides{
		APIKeys:        cfg.APIKeys,
		BaseURLs:       cfg.BaseURLs,
		ConnectionVars: cfg.ConnectionVars,
	}
	tcfg := transport.ConfigFromEnv()
	if cfg.AttemptTimeout > tcfg.Timeout {
		tcfg.Timeout = cfg.AttemptTimeout
	}

	manager := resilience.NewManager(resilience.ManagerConfig{
		CircuitBreaker: cfg.CircuitBreaker,
		RateLimiter:    cfg.RateLimit,
	})
	pipe := pipeline.New(manager, pipeline.Config{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
	}, cfg.Logger)
	pipe.AddObserver(pipeline.NewLogObserver(cfg.Logger))
	if cfg.MetricsRegisterer != nil {
		pipe.AddObserver(metrics.NewObserver(cfg.MetricsRegisterer))
	}
	for _, o := range cfg.Observers {
		pipe.AddObserver(o)
	}

	c := &Client{
		cfg:      cfg,
		registry: registry,
		resolver: catalog.NewResolver(registry),
		adapter: adapter.New(
			transport.NewHTTPClient(tcfg),
			transport.NewStreamingHTTPClient(tcfg),
			overrides, cfg.Logger),
		pipe:     pipe,
		sem:      resilience.NewSemaphore(cfg.MaxConcurrentRequests),
		strategy: strategy,
	}
	if cfg.CacheEnabled {
		c.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	if cfg.WatchManifest {
		ctx, cancel := context.WithCancel(context.Background())
		if err := registry.Watch(ctx); err != nil {
			cancel()
			registry.Close()
			return nil, errors.NewConfiguration(err.Error()).WithCause(err)
		}
		c.watchCancel = cancel
	}
	return c, nil
}

func buildRegistry(cfg *ClientConfig) (*manifest.Registry, error) {
	if cfg.ManifestPath != "" {
		return manifest.NewRegistryFromFile(cfg.ManifestPath, cfg.Logger)
	}
	if cfg.WatchManifest {
		return nil, errors.NewConfiguration("hot reload requires a manifest file")
	}
	return manifest.NewRegistry(manifest.Default(), cfg.Logger), nil
}

// Complete performs a non-streaming chat call.
func (c *Client) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	var key string
	if c.cache != nil {
		key = cacheKey(req)
		if cached, ok := c.cache.Get(key); ok {
			return cached.(*types.ChatResponse), nil
		}
	}

	if err := c.sem.Acquire(ctx); err != nil {
		return nil, errors.New(errors.KindTimeout, "cancelled while waiting for a request slot").WithCause(err)
	}
	defer c.sem.Release()

	result, err := c.strategy.Execute(ctx, c.candidates(req), func(ctx context.Context, candidate string) (any, error) {
		return c.dispatch(ctx, candidate, req, func(ctx context.Context, res *catalog.Resolution) (any, error) {
			return c.adapter.Complete(ctx, res, req.Clone())
		})
	})
	if err != nil {
		return nil, err
	}

	resp := result.(*types.ChatResponse)
	if resp.ID == "" {
		resp.ID = "relay-" + uuid.NewString()
	}
	if c.cache != nil {
		c.cache.SetDefault(key, resp)
	}
	return resp, nil
}

// Stream performs a streaming chat call. The returned reader doubles
// as the cancel handle; its backpressure permit is held for the life
// of the stream and released on terminal chunk, error, or cancel.
func (c *Client) Stream(ctx context.Context, req *types.ChatRequest) (*StreamReader, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	if err := c.sem.Acquire(ctx); err != nil {
		return nil, errors.New(errors.KindTimeout, "cancelled while waiting for a request slot").WithCause(err)
	}

	result, err := c.strategy.Execute(ctx, c.candidates(req), func(ctx context.Context, candidate string) (any, error) {
		return c.dispatch(ctx, candidate, req, func(ctx context.Context, res *catalog.Resolution) (any, error) {
			return c.adapter.OpenStream(ctx, res, req, c.sem.Release)
		})
	})
	if err != nil {
		c.sem.Release()
		return nil, err
	}

	// The stream body is detached from ctx so the pipeline's attempt
	// context cannot kill a live stream; honour caller cancellation by
	// forwarding it to the cancel handle.
	reader := result.(*StreamReader)
	go func() {
		select {
		case <-ctx.Done():
			reader.Cancel()
		case <-reader.Done():
		}
	}()
	return reader, nil
}

// dispatch resolves one candidate model and runs the call under the
// invalid-model fallback and the interceptor pipeline. The fallback
// wraps the pipeline so rate limits and backoff apply to the retry.
func (c *Client) dispatch(ctx context.Context, candidate string, req *types.ChatRequest, call func(ctx context.Context, res *catalog.Resolution) (any, error)) (any, error) {
	res, err := c.resolver.Resolve(candidate, c.cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}

	return routing.WithModelFallback(ctx, res.WireModel, res.Fallbacks, c.cfg.Logger,
		func(ctx context.Context, wire string) (any, error) {
			attempt := *res
			attempt.WireModel = wire
			return c.pipe.Execute(ctx, res.Provider.ID, wire, req, func(ctx context.Context) (any, error) {
				return call(ctx, &attempt)
			})
		})
}

// candidates returns the routed model list for a request: the
// configured route when one is set, otherwise the per-request model.
func (c *Client) candidates(req *types.ChatRequest) []string {
	if len(c.cfg.Route) > 0 {
		return c.cfg.Route
	}
	return []string{req.Model}
}

func (c *Client) validate(req *types.ChatRequest) error {
	if req == nil {
		return errors.New(errors.KindInvalidRequest, "nil request")
	}
	if req.Model == "" && len(c.cfg.Route) == 0 && c.cfg.DefaultProvider == "" {
		return errors.New(errors.KindInvalidRequest, "no model requested and no route configured")
	}
	return nil
}

// Upload pushes a file to a provider's upload endpoint.
func (c *Client) Upload(ctx context.Context, provider string, in UploadInput) (*UploadResult, error) {
	res, err := c.resolver.Resolve("", provider)
	if err != nil {
		return nil, err
	}
	return c.adapter.Upload(ctx, res, in)
}

// ModelInfo summarises one catalogued model.
type ModelInfo struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window,omitempty"`
	Status        string `json:"status"`
}

// ListModels returns the catalogued models, sorted by id. Retired
// models are excluded.
func (c *Client) ListModels() []ModelInfo {
	m := c.registry.Manifest()
	out := make([]ModelInfo, 0, len(m.Models))
	for _, mdl := range m.Models {
		if mdl.Status == manifest.StatusRetired {
			continue
		}
		out = append(out, ModelInfo{
			ID:            mdl.ID,
			Provider:      mdl.Provider,
			ContextWindow: mdl.ContextWindow,
			Status:        mdl.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveEndpoint reports the base URL a provider's calls would hit,
// after template expansion. Intended for diagnostics.
func (c *Client) ResolveEndpoint(provider string) (string, error) {
	p, ok := c.registry.Provider(provider)
	if !ok {
		return "", errors.Newf(errors.KindConfiguration, "unknown provider %q", provider)
	}
	return transport.ResolveBaseURL(p, "", transport.Overrides{
		APIKeys:        c.cfg.APIKeys,
		BaseURLs:       c.cfg.BaseURLs,
		ConnectionVars: c.cfg.ConnectionVars,
	})
}

// Close releases the manifest watcher and background resources.
func (c *Client) Close() error {
	if c.watchCancel != nil {
		c.watchCancel()
	}
	return c.registry.Close()
}

// cacheKey hashes the request's semantic identity: model, messages,
// and sampling parameters. FNV-1a over canonical JSON.
func cacheKey(req *types.ChatRequest) string {
	h := fnv.New64a()
	payload, _ := json.Marshal(req)
	h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Batch fans out requests with at most k in flight, preserving input
// order in the result slice. Per-request failures are captured, not
// propagated; a batch never aborts early.
func (c *Client) Batch(ctx context.Context, reqs []*types.ChatRequest, k int) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	if k <= 0 {
		k = len(reqs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := c.Complete(gctx, req)
			results[i] = BatchResult{Index: i, Response: resp, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// SmartBatch is Batch with a concurrency cap chosen from the batch
// size: serial for three or fewer requests, ten otherwise.
func (c *Client) SmartBatch(ctx context.Context, reqs []*types.ChatRequest) []BatchResult {
	k := 10
	if len(reqs) <= 3 {
		k = 1
	}
	return c.Batch(ctx, reqs, k)
}

// BatchResult pairs one batch input with its outcome.
type BatchResult struct {
	Index    int
	Response *types.ChatResponse
	Err      error
}
