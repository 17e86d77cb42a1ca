package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// Pruner deletes terminal jobs based on retention policy. Media records and
// interests are permanent and never pruned.
type Pruner struct {
	retention time.Duration
	interval  time.Duration
	jobs      storage.JobRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero interval derives one from
// the retention period.
func NewPruner(retention, interval time.Duration, jobs storage.JobRepository) *Pruner {
	if interval <= 0 {
		// 10% of retention period, between 1 minute and 1 hour
		interval = min(retention/10, time.Hour)
		interval = max(interval, time.Minute)
	}
	return &Pruner{
		retention: retention,
		interval:  interval,
		jobs:      jobs,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes completed and failed jobs older than the retention period.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune jobs", "error", err, "cutoff", cutoff)
		return 0
	}
	if n > 0 {
		metrics.JobsPruned.Add(float64(n))
		p.log.Info("Pruned terminal jobs", "count", n, "cutoff", cutoff)
	}
	return n
}
