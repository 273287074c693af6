// Package routing spreads calls across provider candidates. Three
// strategies share one contract: given an ordered candidate list and a
// call function, produce a canonical result. The invalid-model
// fallback is orthogonal and wraps a single provider attempt.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/modelrelay/relay/pkg/errors"
)

// Strategy names accepted in configuration.
const (
	StrategySingle     = "single"
	StrategyFailover   = "failover"
	StrategyRoundRobin = "round_robin"
)

// CallFunc performs one call against the named candidate.
type CallFunc func(ctx context.Context, candidate string) (any, error)

// FailureEvent describes one failed failover candidate.
type FailureEvent struct {
	Candidate string
	ErrorCode string
}

// Strategy picks candidates and drives calls against them.
type Strategy interface {
	Execute(ctx context.Context, candidates []string, call CallFunc) (any, error)
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "", StrategySingle:
		return &Single{}, nil
	case StrategyFailover:
		return &Failover{logger: logger}, nil
	case StrategyRoundRobin:
		return &RoundRobin{}, nil
	default:
		return nil, errors.Newf(errors.KindConfiguration, "unknown routing strategy %q", name)
	}
}

// Single invokes the first candidate directly.
type Single struct{}

func (s *Single) Execute(ctx context.Context, candidates []string, call CallFunc) (any, error) {
	if len(candidates) == 0 {
		return nil, errors.New(errors.KindConfiguration, "no candidates to route to")
	}
	return call(ctx, candidates[0])
}

// Failover tries candidates in order, advancing on retryable errors.
// Non-retryable errors surface immediately.
type Failover struct {
	logger *slog.Logger
	// OnFailure, when set, receives one event per failed candidate.
	OnFailure func(FailureEvent)
}

func (f *Failover) Execute(ctx context.Context, candidates []string, call CallFunc) (any, error) {
	if len(candidates) == 0 {
		return nil, errors.New(errors.KindConfiguration, "no candidates to route to")
	}

	var lastErr error
	for _, candidate := range candidates {
		result, err := call(ctx, candidate)
		if err == nil {
			return result, nil
		}
		lastErr = err

		code := "unknown"
		if ge, ok := errors.AsError(err); ok {
			code = string(ge.Kind)
		}
		if f.logger != nil {
			f.logger.Warn("failover candidate failed",
				"candidate", candidate, "error_code", code)
		}
		if f.OnFailure != nil {
			f.OnFailure(FailureEvent{Candidate: candidate, ErrorCode: code})
		}

		if !advanceable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// advanceable reports whether a candidate failure should move failover
// to the next candidate. Retry exhaustion wraps a retryable error, so
// it advances even though another retry against the same candidate
// would be pointless.
func advanceable(err error) bool {
	if ge, ok := errors.AsError(err); ok && ge.Kind == errors.KindRetryExhausted {
		return true
	}
	return errors.IsRetryable(err)
}

// RoundRobin picks the next candidate per top-level call via an atomic
// counter. Failures propagate; there is no per-call failover.
type RoundRobin struct {
	counter atomic.Uint64
}

func (r *RoundRobin) Execute(ctx context.Context, candidates []string, call CallFunc) (any, error) {
	if len(candidates) == 0 {
		return nil, errors.New(errors.KindConfiguration, "no candidates to route to")
	}
	idx := (r.counter.Add(1) - 1) % uint64(len(candidates))
	return call(ctx, candidates[idx])
}

// WithModelFallback wraps one provider attempt with the invalid-model
// single retry: when the provider rejects the model and a fallback is
// catalogued, the call is retried exactly once against the same
// provider with the next model. It sits below the interceptor pipeline
// so backoff and rate limits apply to the retry.
func WithModelFallback(ctx context.Context, wireModel string, fallbacks []string, logger *slog.Logger, call func(ctx context.Context, wireModel string) (any, error)) (any, error) {
	result, err := call(ctx, wireModel)
	if err == nil {
		return result, nil
	}

	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindModelNotFound {
		return nil, err
	}

	next := ""
	for _, fb := range fallbacks {
		if fb != wireModel {
			next = fb
			break
		}
	}
	if next == "" {
		// No fallback catalogued: surface the decorated original.
		return nil, err
	}

	if logger != nil {
		logger.Warn("model rejected, retrying with fallback",
			"requested", wireModel, "fallback", next)
	}
	result, err = call(ctx, next)
	if err == nil {
		return result, nil
	}

	// Both models were rejected. The surfaced error must name the model
	// the caller actually asked for, not the fallback, and keep the
	// suggestion decoration from the first failure.
	if fe, ok := errors.AsError(err); ok && fe.Kind == errors.KindModelNotFound {
		fe.Model = wireModel
		fe.Message = fmt.Sprintf("model %q not found and fallback %q was rejected too: %s",
			wireModel, next, fe.Message)
		if len(fe.Suggested) == 0 {
			fe.Suggested = ge.Suggested
		}
		if fe.DocsURL == "" {
			fe.DocsURL = ge.DocsURL
		}
	}
	return nil, err
}
