package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/cache"
	"github.com/openbizdata/dircrawler/internal/metrics"
)

// ErrBreakerOpen is returned on the fail-fast path while a breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the circuit's position.
type BreakerState int

// Circuit states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// BreakerConfig holds per-breaker tuning.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// BreakerSnapshot is a read-only view of one breaker's state.
type BreakerSnapshot struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	LastFailure      time.Time     `json:"last_failure,omitempty"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// Breaker is a per-named-operation circuit breaker. Only failures the
// classifier marks critical count toward the threshold; everything else
// passes through without breaker accounting.
type Breaker struct {
	name       string
	cfg        BreakerConfig
	classifier *Classifier
	logger     *zap.Logger

	mu           sync.Mutex
	state        BreakerState
	probing      bool
	failureCount int
	lastFailure  time.Time
	now          func() time.Time
}

// NewBreaker constructs a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, classifier *Classifier, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:       name,
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Do runs fn under breaker protection. While OPEN and inside the
// recovery window it fails fast without invoking fn; once the window
// elapses a single HALF_OPEN probe is allowed through.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// One probe at a time; everyone else fails fast until it reports.
		if b.probing {
			return fmt.Errorf("%q probe in flight: %w", b.name, ErrBreakerOpen)
		}
		b.probing = true
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return fmt.Errorf("%q failing fast: %w", b.name, ErrBreakerOpen)
		}
		b.state = StateHalfOpen
		b.probing = true
		metrics.ObserveBreakerTransition(b.name, b.state.String())
		b.logger.Info("circuit breaker probing", zap.String("breaker", b.name))
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			metrics.ObserveBreakerTransition(b.name, b.state.String())
			b.logger.Info("circuit breaker closed", zap.String("breaker", b.name))
		}
		b.failureCount = 0
		return
	}

	if !b.classifier.Classify(err).Critical {
		// Not part of the expected failure family; pass through uncounted.
		return
	}

	b.failureCount++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failureCount >= b.cfg.FailureThreshold {
		if b.state != StateOpen {
			metrics.ObserveBreakerTransition(b.name, StateOpen.String())
			b.logger.Warn("circuit breaker opened",
				zap.String("breaker", b.name),
				zap.Int("failure_count", b.failureCount),
				zap.Duration("recovery_timeout", b.cfg.RecoveryTimeout),
			)
		}
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's bookkeeping.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:             b.name,
		State:            b.state.String(),
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		LastFailure:      b.lastFailure,
		RecoveryTimeout:  b.cfg.RecoveryTimeout,
	}
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.probing = false
	b.failureCount = 0
	b.lastFailure = time.Time{}
}

// BreakerManager lazily creates breakers by name and serves a
// TTL-cached state snapshot so the health monitor never contends with
// the hot path.
type BreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	cfg        BreakerConfig
	classifier *Classifier
	logger     *zap.Logger
	states     *cache.TTL[string, map[string]BreakerSnapshot]
}

// NewBreakerManager constructs a manager applying cfg to new breakers.
func NewBreakerManager(cfg BreakerConfig, classifier *Classifier, logger *zap.Logger) *BreakerManager {
	return &BreakerManager{
		breakers:   make(map[string]*Breaker),
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		logger:     logger,
		states:     cache.NewTTL[string, map[string]BreakerSnapshot](time.Second, 1),
	}
}

// Get returns the breaker for name, creating it if needed.
func (m *BreakerManager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, m.cfg, m.classifier, m.logger)
	m.breakers[name] = b
	return b
}

// States returns a snapshot of all breakers, cached for about a second.
func (m *BreakerManager) States() map[string]BreakerSnapshot {
	if cached, ok := m.states.Get("states"); ok {
		return cached
	}

	m.mu.Lock()
	snapshot := make(map[string]BreakerSnapshot, len(m.breakers))
	for name, b := range m.breakers {
		snapshot[name] = b.Snapshot()
	}
	m.mu.Unlock()

	m.states.Set("states", snapshot)
	return snapshot
}

// ResetAll returns every breaker to CLOSED with counters cleared.
func (m *BreakerManager) ResetAll() {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	for _, b := range breakers {
		b.reset()
	}
	m.states.Delete("states")
	m.logger.Info("all circuit breakers reset", zap.Int("count", len(breakers)))
}

// Reset forces the named breaker back to CLOSED with counters cleared.
func (m *BreakerManager) Reset(name string) {
	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	b.reset()
	m.states.Delete("states")
	m.logger.Info("circuit breaker reset", zap.String("breaker", name))
}
