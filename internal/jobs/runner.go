// Package jobs runs the periodic maintenance sweeps.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic sweep. Run reports how many items it processed.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Runner ticks every job on its own interval until the context ends.
type Runner struct {
	jobs []Job
	log  *zap.Logger
}

// NewRunner builds a runner. Jobs with a non-positive interval are disabled.
func NewRunner(log *zap.Logger, jobs ...Job) *Runner {
	r := &Runner{log: log.Named("jobs")}
	for _, job := range jobs {
		if job.Interval <= 0 {
			r.log.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		r.jobs = append(r.jobs, job)
	}
	return r
}

// Run blocks until ctx is cancelled. A failing sweep is logged and retried
// on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		r.log.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("job finished",
			zap.String("job", job.Name),
			zap.Int("processed", n),
			zap.Duration("took", time.Since(started)),
		)
	}
}
