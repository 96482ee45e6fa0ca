package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/i474232898/weather-parquet-pipeline/internal/pipeline"
)

// Runner executes one scheduling tick.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunResult, error)
}

// Scheduler triggers the pipeline on a cron schedule.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	runner     Runner
	schedule   string
	runTimeout time.Duration
	log        *zap.SugaredLogger
}

// New creates a new Scheduler. The schedule is a standard cron expression or descriptor.
func New(schedule string, runTimeout time.Duration, runner Runner, log *zap.SugaredLogger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := gocron.NewScheduler(time.UTC)
	// A tick that is still running makes the next one wait instead of overlapping.
	s.SingletonModeAll()
	s.WaitForScheduleAll()

	return &Scheduler{
		scheduler:  s,
		runner:     runner,
		schedule:   schedule,
		runTimeout: runTimeout,
		log:        log,
	}, nil
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.schedule).Do(s.Tick)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	if _, next := s.scheduler.NextRun(); !next.IsZero() {
		s.log.Infow("scheduler started", "schedule", s.schedule, "next_run", next)
	}
	return nil
}

// Tick runs the pipeline once with a bounded context.
func (s *Scheduler) Tick() {
	ctx := context.Background()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.log.Infow("scheduler: running weather pipeline job")
	res, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.log.Warnw("scheduler: previous run still in progress; skipping tick")
	case err != nil:
		s.log.Errorw("scheduler: pipeline run failed", "run_id", res.RunID, "error", err)
	default:
		s.log.Infow("scheduler: completed weather pipeline job", "run_id", res.RunID)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
