package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Its logger carries job and run_id.
type jobRun struct {
	log       *zap.Logger
	startedAt time.Time
	processed int
	failures  int
}

type jobRunKey struct{}

func (s *Scheduler) startRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		log: obslogger.WithContext(ctx, s.log).With(
			zap.String("job", job),
			zap.String("run_id", s.genID.Generate().String()),
		),
		startedAt: time.Now(),
	}
	run.log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))
	return context.WithValue(ctx, jobRunKey{}, run), run
}

// runFrom returns the run attached by startRun, or a detached one so jobs
// can be invoked directly.
func (s *Scheduler) runFrom(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return &jobRun{log: obslogger.WithContext(ctx, s.log), startedAt: time.Now()}
}

func (r *jobRun) done(n int) {
	if n > 0 {
		r.processed += n
	}
}

func (r *jobRun) fail(msg string, err error, fields ...zap.Field) {
	r.failures++
	r.log.Error(msg, append(fields, zap.Error(err))...)
}

func (r *jobRun) finish(err error) {
	if err != nil && r.failures == 0 {
		r.failures++
	}
	fields := []zap.Field{
		zap.Duration("elapsed", time.Since(r.startedAt)),
		zap.Int("processed", r.processed),
		zap.Int("failures", r.failures),
	}
	if r.failures > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}
