package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/store"
	"golang.org/x/sync/errgroup"
)

// DriveFunc advances one screenshot by one task.
type DriveFunc func(ctx context.Context, ref store.ScreenshotRef)

// Dispatcher feeds screenshots to a fixed pool of workers. It holds no
// durable state: anything dropped or lost on restart is picked up again by
// the Sweeper from the queue table.
type Dispatcher struct {
	workers int
	queue   chan store.ScreenshotRef
}

func NewDispatcher(workers, buffer int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		workers: workers,
		queue:   make(chan store.ScreenshotRef, buffer),
	}
}

// Schedule queues ref for driving after delay. It never blocks.
func (d *Dispatcher) Schedule(ref store.ScreenshotRef, delay time.Duration) {
	if delay <= 0 {
		d.enqueue(ref)
		return
	}
	time.AfterFunc(delay, func() { d.enqueue(ref) })
}

func (d *Dispatcher) enqueue(ref store.ScreenshotRef) {
	select {
	case d.queue <- ref:
	default:
		slog.Warn("dispatch queue full, leaving screenshot to the sweeper", "screenshot_id", ref.ID)
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, drive DriveFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ref := <-d.queue:
					safeDrive(ctx, drive, ref)
				}
			}
		})
	}
	return g.Wait()
}

func safeDrive(ctx context.Context, drive DriveFunc, ref store.ScreenshotRef) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while driving screenshot",
				"screenshot_id", ref.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	drive(ctx, ref)
}
