// Package browser manages a bounded pool of headless browser processes
// and hands out sandboxed page sessions scoped to single operations.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Launcher starts browser processes. The production implementation is
// backed by chromedp; tests substitute fakes.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
}

// Instance is one running browser process.
type Instance interface {
	NewTab(ctx context.Context, profile Profile) (Tab, error)
	Close() error
}

// Tab is a sandboxed page within a browser instance.
type Tab interface {
	Context() context.Context
	Closed() bool
	Close() error
}

// PoolConfig bounds the pool.
type PoolConfig struct {
	MaxBrowsers int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxBrowsers <= 0 {
		c.MaxBrowsers = 3
	}
	return c
}

// PoolStats is the monitor-facing occupancy view.
type PoolStats struct {
	BrowserCount int `json:"browser_count"`
	ContextCount int `json:"context_count"`
}

type handle struct {
	owner     string
	inst      Instance
	createdAt time.Time
	active    int
}

// Pool keys browser instances by owner and enforces a distinct-owner
// cap by evicting the handle with the fewest active sessions. The
// mutex guards only the bookkeeping maps; launching and closing
// browsers happens outside it.
type Pool struct {
	launcher Launcher
	logger   *zap.Logger
	cfg      PoolConfig

	mu           sync.Mutex
	handles      map[string]*handle
	order        []string
	suspendDepth int
	clock        func() time.Time
}

// NewPool constructs an empty pool.
func NewPool(launcher Launcher, cfg PoolConfig, logger *zap.Logger) *Pool {
	return &Pool{
		launcher: launcher,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		handles:  make(map[string]*handle),
		clock:    time.Now,
	}
}

// AcquireSession returns a fresh session on the owner's browser,
// launching one on first use. handleFor bumps the owner's active
// counter in the same critical section that resolves the handle, so a
// concurrent eviction cannot tear the browser down mid-creation.
func (p *Pool) AcquireSession(ctx context.Context, owner string, profile Profile) (*Session, error) {
	h, err := p.handleFor(ctx, owner)
	if err != nil {
		return nil, err
	}

	tab, err := h.inst.NewTab(ctx, profile)
	if err != nil {
		p.decrement(h)
		return nil, fmt.Errorf("open tab for %q: %w", owner, err)
	}
	return &Session{pool: p, handle: h, tab: tab, logger: p.logger}, nil
}

// handleFor resolves the owner's handle with its active counter
// already incremented. The increment happens under the same lock hold
// as the map lookup or insert; a handle returned from here can never
// be selected by detachVictimLocked at zero.
func (p *Pool) handleFor(ctx context.Context, owner string) (*handle, error) {
	p.mu.Lock()
	if h, ok := p.handles[owner]; ok {
		h.active++
		p.mu.Unlock()
		return h, nil
	}
	var victim *handle
	if len(p.handles) >= p.cfg.MaxBrowsers && p.suspendDepth == 0 {
		victim = p.detachVictimLocked()
	}
	p.mu.Unlock()

	if victim != nil {
		p.logger.Info("evicting least-active browser",
			zap.String("owner", victim.owner),
			zap.Int("active_contexts", victim.active),
		)
		p.closeInstance(victim)
	}

	inst, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser for %q: %w", owner, err)
	}

	p.mu.Lock()
	if existing, ok := p.handles[owner]; ok {
		// Another caller launched for this owner first.
		existing.active++
		p.mu.Unlock()
		if cerr := inst.Close(); cerr != nil {
			p.logger.Warn("close duplicate browser", zap.Error(cerr))
		}
		return existing, nil
	}
	h := &handle{owner: owner, inst: inst, createdAt: p.clock(), active: 1}
	p.handles[owner] = h
	p.order = append(p.order, owner)
	p.mu.Unlock()

	p.logger.Debug("launched browser", zap.String("owner", owner))
	return h, nil
}

// detachVictimLocked removes and returns the handle with the fewest
// active sessions, breaking ties by insertion order.
func (p *Pool) detachVictimLocked() *handle {
	var victim *handle
	for _, owner := range p.order {
		h, ok := p.handles[owner]
		if !ok {
			continue
		}
		if victim == nil || h.active < victim.active {
			victim = h
		}
	}
	if victim == nil {
		return nil
	}
	p.removeLocked(victim.owner)
	return victim
}

func (p *Pool) removeLocked(owner string) {
	delete(p.handles, owner)
	for i, o := range p.order {
		if o == owner {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *Pool) decrement(h *handle) {
	p.mu.Lock()
	if h.active > 0 {
		h.active--
	}
	p.mu.Unlock()
}

func (p *Pool) closeInstance(h *handle) {
	if err := h.inst.Close(); err != nil {
		p.logger.Warn("close browser", zap.String("owner", h.owner), zap.Error(err))
	}
}

// SuspendEvictions holds the eviction gate open. While any holder
// remains, the pool launches past its cap instead of evicting, so an
// unrelated acquisition cannot tear down a browser with work in
// flight. Calls nest; each must be paired with ResumeEvictions.
func (p *Pool) SuspendEvictions() {
	p.mu.Lock()
	p.suspendDepth++
	p.mu.Unlock()
}

// ResumeEvictions releases one level of the eviction gate.
func (p *Pool) ResumeEvictions() {
	p.mu.Lock()
	if p.suspendDepth > 0 {
		p.suspendDepth--
	}
	p.mu.Unlock()
}

// RecycleLeastActive evicts the least-active browser if the gate is
// open. Used by the health monitor under memory pressure.
func (p *Pool) RecycleLeastActive() bool {
	p.mu.Lock()
	if p.suspendDepth > 0 || len(p.handles) == 0 {
		p.mu.Unlock()
		return false
	}
	victim := p.detachVictimLocked()
	p.mu.Unlock()

	if victim == nil {
		return false
	}
	p.logger.Info("recycling least-active browser", zap.String("owner", victim.owner))
	p.closeInstance(victim)
	return true
}

// ReleaseOwner tears down the owner's browser. Close failures are
// logged and suppressed.
func (p *Pool) ReleaseOwner(owner string) {
	p.mu.Lock()
	h, ok := p.handles[owner]
	if ok {
		p.removeLocked(owner)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.closeInstance(h)
}

// Shutdown tears down every browser in the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	handles := make([]*handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.handles = make(map[string]*handle)
	p.order = nil
	p.mu.Unlock()

	for _, h := range handles {
		p.closeInstance(h)
	}
	p.logger.Info("browser pool shut down", zap.Int("closed", len(handles)))
}

// Stats reports occupancy for the health monitor.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := PoolStats{BrowserCount: len(p.handles)}
	for _, h := range p.handles {
		stats.ContextCount += h.active
	}
	return stats
}

// Session is one scoped tab acquisition. Closing it is idempotent and
// decrements the owner's active counter exactly once, after the tab is
// confirmed closed.
type Session struct {
	pool   *Pool
	handle *handle
	tab    Tab
	logger *zap.Logger
	once   sync.Once
}

// Context returns the tab's navigation context for running actions.
func (s *Session) Context() context.Context {
	return s.tab.Context()
}

// Closed reports whether the underlying tab has been torn down.
func (s *Session) Closed() bool {
	return s.tab.Closed()
}

// Close releases the tab. Safe to call multiple times and from defers.
func (s *Session) Close() {
	s.once.Do(func() {
		if err := s.tab.Close(); err != nil {
			s.logger.Warn("close tab", zap.Error(err))
		}
		s.pool.decrement(s.handle)
	})
}
