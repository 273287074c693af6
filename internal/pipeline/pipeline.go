// Package pipeline wraps every provider call with the cross-cutting
// policies: rate limiting, circuit breaking, retry with exponential
// backoff, and a per-attempt timeout. The nesting order is fixed; the
// semantics depend on it. Rate limiting gates before any attempt, the
// breaker short-circuits retries against a known-down provider,
// retries re-invoke the timeout-guarded attempt, and the timeout
// bounds each attempt individually.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelrelay/relay/internal/resilience"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// Config tunes the retry and timeout interceptors.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns the stock pipeline tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// AttemptFunc performs one provider attempt under the supplied
// context. The pipeline never mutates the request between attempts;
// the closure owns it.
type AttemptFunc func(ctx context.Context) (any, error)

// Observer receives pipeline events. Implementations must not block;
// the pipeline invokes them on their own goroutines and never waits.
type Observer interface {
	OnRequest(ctx context.Context, provider, model string, req *types.ChatRequest)
	OnResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration)
	OnError(ctx context.Context, provider, model string, req *types.ChatRequest, err error)
}

// Pipeline executes provider calls under the resilience policies. One
// pipeline is shared by all calls of a client; per-key state lives in
// the resilience manager.
type Pipeline struct {
	manager   *resilience.Manager
	cfg       Config
	observers []Observer
	logger    *slog.Logger
}

// New creates a pipeline over a resilience manager.
func New(manager *resilience.Manager, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	// An explicit zero attempt timeout is a deadline that has already
	// passed; only a negative value means "use the default".
	if cfg.AttemptTimeout < 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{manager: manager, cfg: cfg, logger: logger}
}

// AddObserver registers an observer. Not safe to call concurrently
// with Execute; register during client construction.
func (p *Pipeline) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Execute runs one provider call under the full interceptor stack.
// The key scopes rate-limit and breaker state, conventionally
// "provider:model".
func (p *Pipeline) Execute(ctx context.Context, provider, model string, req *types.ChatRequest, call AttemptFunc) (any, error) {
	key := provider + ":" + model
	start := time.Now()
	p.notifyRequest(ctx, provider, model, req)

	result, err := p.rateLimit(ctx, key, provider, func() (any, error) {
		return p.breaker(ctx, key, provider, func() (any, error) {
			return p.retry(ctx, provider, func(attemptCtx context.Context) (any, error) {
				return p.timeout(attemptCtx, provider, call)
			})
		})
	})

	if err != nil {
		p.notifyError(ctx, provider, model, req, err)
		return nil, err
	}
	p.notifyResponse(ctx, provider, model, req, time.Since(start))
	return result, nil
}

// rateLimit consumes one token before any attempt and feeds the
// adaptive limiter with the final outcome.
func (p *Pipeline) rateLimit(ctx context.Context, key, provider string, next func() (any, error)) (any, error) {
	rl := p.manager.RateLimiter(key)
	if retryAfter, ok := rl.Reserve(); !ok {
		return nil, errors.NewRateLimit(provider, retryAfter)
	}

	result, err := next()
	if err != nil {
		rl.OnFailure()
		return nil, err
	}
	rl.OnSuccess()
	return result, nil
}

// breaker rejects calls while the circuit is open and classifies the
// outcome. Only network and timeout failures count toward opening.
func (p *Pipeline) breaker(ctx context.Context, key, provider string, next func() (any, error)) (any, error) {
	cb := p.manager.CircuitBreaker(key)
	if !cb.Allow() {
		e := errors.Newf(errors.KindProvider, "circuit open for %s", key)
		e.Provider = provider
		return nil, e
	}

	result, err := next()
	if err != nil {
		if ge, ok := errors.AsError(err); ok &&
			(ge.Kind == errors.KindNetwork || ge.Kind == errors.KindTimeout) {
			cb.RecordFailure()
		}
		return nil, err
	}
	cb.RecordSuccess()
	return result, nil
}

// retry re-invokes the attempt with exponential backoff while the
// error stays retryable.
func (p *Pipeline) retry(ctx context.Context, provider string, attempt AttemptFunc) (any, error) {
	// A zero attempt deadline can never be met, so retrying is futile.
	if p.cfg.AttemptTimeout == 0 {
		return attempt(ctx)
	}

	var lastErr error
	for n := 0; n < p.cfg.MaxAttempts; n++ {
		if n > 0 {
			delay := backoffDelay(p.cfg.BaseDelay, p.cfg.MaxDelay, n-1)
			if ge, ok := errors.AsError(lastErr); ok && ge.RetryAfter > delay {
				delay = ge.RetryAfter
			}
			p.logger.Debug("retrying provider call",
				"provider", provider, "attempt", n, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.New(errors.KindTimeout, "cancelled while waiting to retry").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, errors.NewRetryExhausted(provider, p.cfg.MaxAttempts, lastErr)
}

// timeout bounds a single attempt and translates the deadline into the
// taxonomy.
func (p *Pipeline) timeout(ctx context.Context, provider string, call AttemptFunc) (any, error) {
	if p.cfg.AttemptTimeout == 0 {
		return nil, errors.NewTimeout(provider, 0)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	result, err := call(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, errors.NewTimeout(provider, p.cfg.AttemptTimeout).WithCause(err)
	}
	return result, err
}

// backoffDelay is min(base * 2^n, max) for 0-indexed attempt n.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	delay := base
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (p *Pipeline) notifyRequest(ctx context.Context, provider, model string, req *types.ChatRequest) {
	for _, o := range p.observers {
		go o.OnRequest(ctx, provider, model, req)
	}
}

func (p *Pipeline) notifyResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration) {
	for _, o := range p.observers {
		go o.OnResponse(ctx, provider, model, req, elapsed)
	}
}

func (p *Pipeline) notifyError(ctx context.Context, provider, model string, req *types.ChatRequest, err error) {
	for _, o := range p.observers {
		go o.OnError(ctx, provider, model, req, err)
	}
}
