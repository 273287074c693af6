package resilience

import "sync"

// Manager owns the per-key breakers and rate limiters. Keys are
// provider:model strings so one misbehaving model cannot open the
// circuit for its siblings.
type Manager struct {
	mu              sync.RWMutex
	circuitBreakers map[string]*CircuitBreaker
	rateLimiters    map[string]*RateLimiter
	cbConfig        CircuitBreakerConfig
	rlConfig        RateLimiterConfig
}

// ManagerConfig contains the defaults applied to newly created keys.
type ManagerConfig struct {
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    RateLimiterConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		RateLimiter:    DefaultRateLimiterConfig(),
	}
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		circuitBreakers: make(map[string]*CircuitBreaker),
		rateLimiters:    make(map[string]*RateLimiter),
		cbConfig:        cfg.CircuitBreaker,
		rlConfig:        cfg.RateLimiter,
	}
}

// CircuitBreaker returns or creates the breaker for the given key.
func (m *Manager) CircuitBreaker(key string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.circuitBreakers[key]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cb, ok = m.circuitBreakers[key]; ok {
		return cb
	}

	cb = NewCircuitBreaker(key, m.cbConfig)
	m.circuitBreakers[key] = cb
	return cb
}

// RateLimiter returns or creates the limiter for the given key.
func (m *Manager) RateLimiter(key string) *RateLimiter {
	m.mu.RLock()
	rl, ok := m.rateLimiters[key]
	m.mu.RUnlock()

	if ok {
		return rl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rl, ok = m.rateLimiters[key]; ok {
		return rl
	}

	rl = NewRateLimiter(m.rlConfig)
	m.rateLimiters[key] = rl
	return rl
}

// SetRateLimiter installs a custom limiter configuration for one key.
func (m *Manager) SetRateLimiter(key string, cfg RateLimiterConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimiters[key] = NewRateLimiter(cfg)
}

// Stats reports the current state for a key.
func (m *Manager) Stats(key string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Key: key}
	if cb, ok := m.circuitBreakers[key]; ok {
		stats.CircuitState = cb.State().String()
	}
	if rl, ok := m.rateLimiters[key]; ok {
		stats.RateLimitTokens = rl.Tokens()
		stats.EffectiveRate = rl.Rate()
	}
	return stats
}

// Stats is a point-in-time snapshot of one key's resilience state.
type Stats struct {
	Key             string
	CircuitState    string
	RateLimitTokens float64
	EffectiveRate   float64
}
