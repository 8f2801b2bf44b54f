package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/events"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

const stalledBatchSize = 100

// Sweeper reclaims tasks whose worker died and re-dispatches screenshots
// whose pending work nobody is driving.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
}

func NewSweeper(orch *Orchestrator, interval time.Duration) *Sweeper {
	return &Sweeper{orch: orch, interval: interval}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("queue sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepReport counts what a sweep did.
type SweepReport struct {
	Requeued     int
	Failed       int
	Redispatched int
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	o := s.orch

	reclaimed, err := o.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		return report, fmt.Errorf("reclaiming leases: %w", err)
	}
	for _, r := range reclaimed {
		switch r.Status {
		case models.TaskStatusPending:
			report.Requeued++
			slog.Warn("task lease expired, requeued",
				"screenshot_id", r.ID, "task_id", r.TaskID, "task_type", r.TaskType)
			o.scheduler.Schedule(r.ScreenshotRef, 0)
		case models.TaskStatusFailed:
			report.Failed++
			taskID := r.TaskID
			o.publish(ctx, events.Event{Type: events.TaskFailed, ScreenshotID: r.ID, UserID: r.UserID,
				TaskID: &taskID, TaskType: r.TaskType, Error: r.ErrorMessage})
			o.failScreenshot(ctx, r.ScreenshotRef, fmt.Errorf("%s task: %s", r.TaskType, r.ErrorMessage))
		}
	}

	stalled, err := o.store.ListStalledScreenshots(ctx, s.interval, stalledBatchSize)
	if err != nil {
		return report, fmt.Errorf("listing stalled screenshots: %w", err)
	}
	for _, ref := range stalled {
		o.scheduler.Schedule(ref, 0)
	}
	report.Redispatched = len(stalled)

	if report != (SweepReport{}) {
		slog.Info("queue sweep", "requeued", report.Requeued, "failed", report.Failed, "redispatched", report.Redispatched)
	}
	return report, nil
}
