package health

import (
	"context"
	"sync"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// Probe checks one dependency. A nil error means reachable.
type Probe func(ctx context.Context) error

// Thresholds decide when a queue backlog degrades the system.
type Thresholds struct {
	DegradedDepth int64         `yaml:"degraded_depth" toml:"degraded_depth"` // default: 100
	CriticalDepth int64         `yaml:"critical_depth" toml:"critical_depth"` // default: 1000
	CacheFor      time.Duration `yaml:"cache_for"      toml:"cache_for"`      // default: 10s
	ProbeTimeout  time.Duration `yaml:"probe_timeout"  toml:"probe_timeout"`  // default: 2s
}

type probeEntry struct {
	name     string
	probe    Probe
	critical bool
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	probes     []probeEntry
	queues     []queue.Queue
	jobs       storage.JobRepository
	thresholds Thresholds
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. jobs may be nil.
func NewMonitor(jobs storage.JobRepository, thresholds Thresholds) *Monitor {
	if thresholds.DegradedDepth <= 0 {
		thresholds.DegradedDepth = 100
	}
	if thresholds.CriticalDepth <= 0 {
		thresholds.CriticalDepth = 1000
	}
	if thresholds.CacheFor <= 0 {
		thresholds.CacheFor = 10 * time.Second
	}
	if thresholds.ProbeTimeout <= 0 {
		thresholds.ProbeTimeout = 2 * time.Second
	}
	return &Monitor{jobs: jobs, thresholds: thresholds}
}

// AddProbe registers a dependency. A failing critical probe makes the whole
// system critical; any other failing probe degrades it.
func (m *Monitor) AddProbe(name string, critical bool, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, probeEntry{name: name, probe: probe, critical: critical})
}

// WatchQueue includes the queue's depth in the report.
func (m *Monitor) WatchQueue(q queue.Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = append(m.queues, q)
}

// CheckHealth runs every probe, at most once per cache window.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.thresholds.CacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.probes)),
		Queues:       make(map[string]QueueHealth, len(m.queues)),
	}

	for _, p := range m.probes {
		c := m.runProbe(ctx, p)
		report.Components[p.name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	for _, q := range m.queues {
		qh := QueueHealth{Name: q.Name(), Status: StatusHealthy}
		depth, err := q.Depth(ctx)
		switch {
		case err != nil:
			qh.Status = StatusDegraded
		case depth >= m.thresholds.CriticalDepth:
			qh.Status = StatusCritical
		case depth >= m.thresholds.DegradedDepth:
			qh.Status = StatusDegraded
		}
		qh.Depth = depth
		metrics.QueueDepth.WithLabelValues(q.Name()).Set(float64(depth))
		report.Queues[q.Name()] = qh
		report.SystemStatus = worse(report.SystemStatus, qh.Status)
	}

	if m.jobs != nil {
		if counts, err := m.jobs.CountByStatus(ctx); err == nil {
			report.Jobs = make(map[string]int, len(counts))
			for status, n := range counts {
				report.Jobs[string(status)] = n
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) runProbe(ctx context.Context, p probeEntry) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, m.thresholds.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := p.probe(ctx)
	c := ComponentHealth{
		Name:      p.name,
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Error = err.Error()
		c.Status = StatusDegraded
		if p.critical {
			c.Status = StatusCritical
		}
	}
	return c
}
