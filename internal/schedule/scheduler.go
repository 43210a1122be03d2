package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

// CronScheduler runs jobs on standard five-field cron specs. A job that is
// still running when its next tick fires is skipped, not queued.
type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	runner := &jobRunner{sched: c, job: job, spec: spec}
	if _, err := c.cron.AddFunc(spec, runner.tick); err != nil {
		runner.logger(context.Background()).Error("schedule job failed", zap.Error(err))
		return err
	}
	runner.logger(context.Background()).Info("job scheduled")
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop blocks until in-flight job runs return.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

type jobRunner struct {
	sched   *CronScheduler
	job     Job
	spec    string
	running atomic.Bool
}

func (r *jobRunner) logger(ctx context.Context) *zap.Logger {
	return logutil.GetLogger(ctx).With(zap.String("job", r.job.Name()), zap.String("spec", r.spec))
}

func (r *jobRunner) tick() {
	ctx := r.sched.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := r.logger(ctx)
	if !r.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return
	}
	defer r.running.Store(false)

	start := time.Now()
	logger.Info("job started")
	err := r.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
}
