package orchestrator

import (
	"context"
	"time"
)

// StartRetentionSweep runs the retention loop until ctx is cancelled.
// Terminal jobs older than the retention window are deleted; recovery
// plan entries are never touched.
func (o *Orchestrator) StartRetentionSweep(ctx context.Context) {
	if o.cfg.Retention <= 0 {
		return // Retention disabled
	}

	interval := o.cfg.Retention / 10
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.Retention)

	jobs, err := o.jobs.List(ctx, "")
	if err != nil {
		o.log.Error("Retention sweep failed to list jobs", "error", err)
		return
	}

	removed := 0
	for _, job := range jobs {
		if !job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := o.jobs.Delete(ctx, job.ID); err != nil {
			o.log.Error("Retention sweep failed to delete job", "job", job.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		o.log.Info("Retention sweep removed terminal jobs", "count", removed)
	}
}
