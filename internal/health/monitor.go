// Package health samples process resource usage and crawl occupancy,
// flags threshold violations, and applies corrective cleanup.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/cache"
	"github.com/openbizdata/dircrawler/internal/crawler"
)

// PoolInspector is the slice of the browser pool the monitor reads.
type PoolInspector interface {
	Stats() browser.PoolStats
	RecycleLeastActive() bool
}

// BreakerInspector is the slice of the breaker manager the monitor reads.
type BreakerInspector interface {
	States() map[string]crawler.BreakerSnapshot
	ResetAll()
}

// TaskInspector reports in-flight task counts.
type TaskInspector interface {
	ActiveTasks() int
}

// Thresholds bound the healthy operating envelope.
type Thresholds struct {
	MaxMemoryMB   float64
	MaxCPUPercent float64
	MaxTasks      int
	MaxBrowsers   int
	MaxContexts   int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MaxMemoryMB <= 0 {
		t.MaxMemoryMB = 2048
	}
	if t.MaxCPUPercent <= 0 {
		t.MaxCPUPercent = 85
	}
	if t.MaxTasks <= 0 {
		t.MaxTasks = 50
	}
	if t.MaxBrowsers <= 0 {
		t.MaxBrowsers = 5
	}
	if t.MaxContexts <= 0 {
		t.MaxContexts = 20
	}
	return t
}

// Snapshot is one point-in-time health record.
type Snapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	MemoryMB      float64           `json:"memory_mb"`
	CPUPercent    float64           `json:"cpu_percent"`
	ActiveTasks   int               `json:"active_tasks"`
	BrowserCount  int               `json:"browser_count"`
	ContextCount  int               `json:"context_count"`
	BreakerStates map[string]string `json:"breaker_states"`
	Healthy       bool              `json:"healthy"`
	Issues        []string          `json:"issues,omitempty"`
}

// Summary aggregates the retained history.
type Summary struct {
	Samples        int     `json:"samples"`
	Unhealthy      int     `json:"unhealthy"`
	AvgMemoryMB    float64 `json:"avg_memory_mb"`
	AvgCPUPercent  float64 `json:"avg_cpu_percent"`
	AvgActiveTasks float64 `json:"avg_active_tasks"`
}

const historySize = 50

// Monitor samples the process and its crawl collaborators. Snapshots
// are cached briefly so callers can poll freely without hammering the
// sampler.
type Monitor struct {
	thresholds Thresholds
	pool       PoolInspector
	breakers   BreakerInspector
	tasks      TaskInspector
	logger     *zap.Logger

	snapCache *cache.TTL[string, Snapshot]
	sample    func() (memMB, cpuPct float64, err error)
	now       func() time.Time

	mu      sync.Mutex
	history []Snapshot
}

// NewMonitor constructs a monitor. Any inspector may be nil; its
// figures then read as zero.
func NewMonitor(thresholds Thresholds, pool PoolInspector, breakers BreakerInspector, tasks TaskInspector, logger *zap.Logger) *Monitor {
	m := &Monitor{
		thresholds: thresholds.withDefaults(),
		pool:       pool,
		breakers:   breakers,
		tasks:      tasks,
		logger:     logger,
		snapCache:  cache.NewTTL[string, Snapshot](5*time.Second, 1),
		now:        time.Now,
	}
	m.sample = m.sampleProcess
	return m
}

func (m *Monitor) sampleProcess() (float64, float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0, fmt.Errorf("open process: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, 0, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return 0, 0, fmt.Errorf("cpu percent: %w", err)
	}
	return float64(mem.RSS) / (1024 * 1024), cpu, nil
}

// Check returns the current snapshot, serving a cached one when fresh.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	if snap, ok := m.snapCache.Get("latest"); ok {
		return snap
	}

	snap := Snapshot{Timestamp: m.now(), Healthy: true}

	memMB, cpuPct, err := m.sample()
	if err != nil {
		m.logger.Warn("process sampling failed", zap.Error(err))
	}
	snap.MemoryMB = memMB
	snap.CPUPercent = cpuPct

	if m.tasks != nil {
		snap.ActiveTasks = m.tasks.ActiveTasks()
	}
	if m.pool != nil {
		stats := m.pool.Stats()
		snap.BrowserCount = stats.BrowserCount
		snap.ContextCount = stats.ContextCount
	}
	if m.breakers != nil {
		snap.BreakerStates = make(map[string]string)
		for name, bs := range m.breakers.States() {
			snap.BreakerStates[name] = bs.State
		}
	}

	snap.Issues = m.violations(snap)
	snap.Healthy = len(snap.Issues) == 0

	m.snapCache.Set("latest", snap)
	m.appendHistory(snap)

	if !snap.Healthy {
		m.logger.Warn("health check failed", zap.Strings("issues", snap.Issues))
	}
	return snap
}

// violations reports every breached threshold, not just the first.
func (m *Monitor) violations(snap Snapshot) []string {
	var issues []string
	t := m.thresholds
	if snap.MemoryMB > t.MaxMemoryMB {
		issues = append(issues, fmt.Sprintf("memory %.0fMB exceeds %.0fMB", snap.MemoryMB, t.MaxMemoryMB))
	}
	if snap.CPUPercent > t.MaxCPUPercent {
		issues = append(issues, fmt.Sprintf("cpu %.1f%% exceeds %.1f%%", snap.CPUPercent, t.MaxCPUPercent))
	}
	if snap.ActiveTasks > t.MaxTasks {
		issues = append(issues, fmt.Sprintf("%d active tasks exceeds %d", snap.ActiveTasks, t.MaxTasks))
	}
	if snap.BrowserCount > t.MaxBrowsers {
		issues = append(issues, fmt.Sprintf("%d browsers exceeds %d", snap.BrowserCount, t.MaxBrowsers))
	}
	if snap.ContextCount > t.MaxContexts {
		issues = append(issues, fmt.Sprintf("%d contexts exceeds %d", snap.ContextCount, t.MaxContexts))
	}
	for name, state := range snap.BreakerStates {
		if state == "OPEN" {
			issues = append(issues, fmt.Sprintf("circuit breaker %q is open", name))
		}
	}
	return issues
}

func (m *Monitor) appendHistory(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, snap)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

// CleanupIfNeeded re-checks health and, when unhealthy, forces a GC
// pass, recycles a browser under memory pressure, and resets all
// breakers when more than two are open so a transient outage cannot
// lock the crawl out permanently.
func (m *Monitor) CleanupIfNeeded(ctx context.Context) bool {
	snap := m.Check(ctx)
	if snap.Healthy {
		return false
	}

	m.logger.Info("running corrective cleanup", zap.Strings("issues", snap.Issues))
	runtime.GC()

	if m.pool != nil && snap.MemoryMB > m.thresholds.MaxMemoryMB {
		if m.pool.RecycleLeastActive() {
			m.logger.Info("recycled a browser under memory pressure")
		}
	}

	if m.breakers != nil {
		open := 0
		for _, state := range snap.BreakerStates {
			if state == "OPEN" {
				open++
			}
		}
		if open > 2 {
			m.logger.Warn("resetting circuit breakers", zap.Int("open", open))
			m.breakers.ResetAll()
		}
	}

	m.snapCache.Delete("latest")
	return true
}

// Summary reports rolling averages over the retained history.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Samples: len(m.history)}
	if s.Samples == 0 {
		return s
	}
	var mem, cpu, tasks float64
	for _, snap := range m.history {
		mem += snap.MemoryMB
		cpu += snap.CPUPercent
		tasks += float64(snap.ActiveTasks)
		if !snap.Healthy {
			s.Unhealthy++
		}
	}
	n := float64(s.Samples)
	s.AvgMemoryMB = mem / n
	s.AvgCPUPercent = cpu / n
	s.AvgActiveTasks = tasks / n
	return s
}
