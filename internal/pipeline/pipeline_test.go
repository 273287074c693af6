package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelrelay/relay/internal/resilience"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

func newTestPipeline(cfg Config, mcfg resilience.ManagerConfig) *Pipeline {
	// Zero means an already-expired deadline; these tests want a bound
	// that never fires unless they set one.
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = time.Minute
	}
	return New(resilience.NewManager(mcfg), cfg, nil)
}

func permissiveManagerConfig() resilience.ManagerConfig {
	return resilience.ManagerConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 100},
		RateLimiter:    resilience.RateLimiterConfig{RefillRate: 1000, Capacity: 1000},
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, permissiveManagerConfig())

	var calls atomic.Int32
	result, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.NewNetwork("openai", context.DeadlineExceeded)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNonRetryableSurfacesImmediately(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, permissiveManagerConfig())

	var calls atomic.Int32
	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New(errors.KindAuthentication, "bad key")
	})

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindAuthentication {
		t.Fatalf("err = %v, want KindAuthentication", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 for a non-retryable error", got)
	}
}

func TestRetryExhaustion(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 2, BaseDelay: time.Millisecond}, permissiveManagerConfig())

	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		return nil, errors.New(errors.KindProvider, "503")
	})

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindRetryExhausted {
		t.Fatalf("err = %v, want KindRetryExhausted", err)
	}
}

func TestBreakerOpensAndShortCircuits(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1, BaseDelay: time.Millisecond}, resilience.ManagerConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
		RateLimiter:    resilience.RateLimiterConfig{RefillRate: 1000, Capacity: 1000},
	})

	fail := func(ctx context.Context) (any, error) {
		return nil, errors.NewNetwork("openai", context.DeadlineExceeded)
	}

	for i := 0; i < 2; i++ {
		p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, fail)
	}

	var called atomic.Bool
	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		called.Store(true)
		return "ok", nil
	})

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindProvider {
		t.Fatalf("err = %v, want circuit-open provider error", err)
	}
	if called.Load() {
		t.Error("attempt ran while the circuit was open")
	}
}

func TestAuthenticationErrorsDoNotOpenBreaker(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1}, resilience.ManagerConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
		RateLimiter:    resilience.RateLimiterConfig{RefillRate: 1000, Capacity: 1000},
	})

	for i := 0; i < 5; i++ {
		p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
			return nil, errors.New(errors.KindAuthentication, "bad key")
		})
	}

	result, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute after auth failures: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1}, resilience.ManagerConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 100},
		RateLimiter:    resilience.RateLimiterConfig{RefillRate: 0.5, Capacity: 1},
	})

	ok := func(ctx context.Context) (any, error) { return "ok", nil }

	if _, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, ok); err != nil {
		t.Fatalf("first call: %v", err)
	}

	var called atomic.Bool
	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		called.Store(true)
		return "ok", nil
	})

	ge, okk := errors.AsError(err)
	if !okk || ge.Kind != errors.KindRateLimitExceeded {
		t.Fatalf("err = %v, want KindRateLimitExceeded", err)
	}
	if ge.RetryAfter <= 0 {
		t.Errorf("retry_after = %v, want > 0", ge.RetryAfter)
	}
	if called.Load() {
		t.Error("attempt ran on an empty bucket")
	}
}

func TestPerAttemptTimeout(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond}, permissiveManagerConfig())

	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func TestZeroAttemptTimeoutFailsImmediately(t *testing.T) {
	p := New(resilience.NewManager(permissiveManagerConfig()),
		Config{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 0}, nil)

	var calls atomic.Int32
	start := time.Now()
	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "too late", nil
	})

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("attempts = %d, want 0 under an expired deadline", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("call took %v, want an immediate failure", elapsed)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(100*time.Millisecond, time.Second, tc.n); got != tc.want {
			t.Errorf("backoffDelay(n=%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

type recordingObserver struct {
	requests  atomic.Int32
	responses atomic.Int32
	errs      atomic.Int32
}

func (o *recordingObserver) OnRequest(ctx context.Context, provider, model string, req *types.ChatRequest) {
	o.requests.Add(1)
}
func (o *recordingObserver) OnResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration) {
	o.responses.Add(1)
}
func (o *recordingObserver) OnError(ctx context.Context, provider, model string, req *types.ChatRequest, err error) {
	o.errs.Add(1)
}

func TestObserversSeeOutcomes(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1}, permissiveManagerConfig())
	obs := &recordingObserver{}
	p.AddObserver(obs)

	p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		return nil, errors.New(errors.KindInvalidRequest, "bad")
	})

	deadline := time.After(time.Second)
	for obs.requests.Load() != 2 || obs.responses.Load() != 1 || obs.errs.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("observer counts = (%d req, %d resp, %d err), want (2, 1, 1)",
				obs.requests.Load(), obs.responses.Load(), obs.errs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSlowObserverDoesNotBlockCall(t *testing.T) {
	p := newTestPipeline(Config{MaxAttempts: 1}, permissiveManagerConfig())
	p.AddObserver(&slowObserver{})

	start := time.Now()
	_, err := p.Execute(context.Background(), "openai", "gpt-4o", &types.ChatRequest{}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("call took %v; a slow observer blocked the path", elapsed)
	}
}

type slowObserver struct{}

func (slowObserver) OnRequest(ctx context.Context, provider, model string, req *types.ChatRequest) {
	time.Sleep(2 * time.Second)
}
func (slowObserver) OnResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration) {
	time.Sleep(2 * time.Second)
}
func (slowObserver) OnError(ctx context.Context, provider, model string, req *types.ChatRequest, err error) {
	time.Sleep(2 * time.Second)
}
