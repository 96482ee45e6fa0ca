package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/weather-parquet-pipeline/internal/handoff"
	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/persist"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

// Task names, in execution order.
const (
	TaskFetch = "fetch_weather_data"
	TaskSave  = "save_weather_data"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Fetcher is the first step: it fetches a reading and puts it in the handoff store.
type Fetcher interface {
	FetchToHandoff(ctx context.Context, loc weather.Location, h weather.Handoff) (weather.Reading, error)
}

// Persister is the second step: it saves what the fetcher handed off.
type Persister interface {
	Persist(ctx context.Context, loc weather.Location, h weather.Handoff) (persist.Result, error)
}

// Recorder stores run outcomes.
type Recorder interface {
	Record(ctx context.Context, r ledger.Run) error
}

// RunResult describes one scheduling tick.
type RunResult struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	TempPath   string    `json:"tempPath,omitempty"`
	WindPath   string    `json:"windPath,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Pipeline runs the fetch and save steps in order for a single location.
type Pipeline struct {
	loc       weather.Location
	fetcher   Fetcher
	persister Persister
	handoffs  handoff.Factory
	recorder  Recorder
	log       *zap.SugaredLogger
	now       weather.Clock
	newID     func() string

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder records every run outcome.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(now weather.Clock) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithHandoffFactory replaces the default in-memory handoff store.
func WithHandoffFactory(f handoff.Factory) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.handoffs = f
		}
	}
}

// New creates a Pipeline.
func New(loc weather.Location, fetcher Fetcher, persister Persister, opts ...Option) *Pipeline {
	p := &Pipeline{
		loc:       loc,
		fetcher:   fetcher,
		persister: persister,
		handoffs:  handoff.NewMemoryFactory(),
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tasks returns the task names in the order Run executes them.
func (p *Pipeline) Tasks() []string {
	return []string{TaskFetch, TaskSave}
}

// Location returns the tracked location.
func (p *Pipeline) Location() weather.Location {
	return p.loc
}

// Run executes one tick: fetch, then save only if the fetch succeeded.
// The run's handoff data is discarded afterwards whatever the outcome.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	if !p.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	res := RunResult{
		RunID:     p.newID(),
		StartedAt: p.now().UTC(),
	}
	log := p.log.With("run_id", res.RunID, "city", p.loc.City)
	log.Infow("pipeline run started", "tasks", p.Tasks())

	store := p.handoffs(res.RunID)
	out, err := p.run(ctx, store, log)
	res.TempPath, res.WindPath = out.TempPath, out.WindPath

	if l, ok := store.(interface{ Len() int }); ok {
		log.Debugw("discarding handoff data", "handoff_keys", l.Len())
	}
	if c, ok := store.(interface{ Clear(context.Context) error }); ok {
		if cerr := c.Clear(context.WithoutCancel(ctx)); cerr != nil {
			log.Warnw("failed to clear handoff data", "error", cerr)
		}
	}

	res.FinishedAt = p.now().UTC()
	if err != nil {
		res.Status = ledger.StatusFailed
		res.Error = err.Error()
		log.Errorw("pipeline run failed", "error", err, "duration", res.FinishedAt.Sub(res.StartedAt))
	} else {
		res.Status = ledger.StatusSucceeded
		log.Infow("pipeline run succeeded",
			"temp", res.TempPath,
			"wind", res.WindPath,
			"duration", res.FinishedAt.Sub(res.StartedAt),
		)
	}

	p.record(ctx, res, log)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, store handoff.Store, log *zap.SugaredLogger) (persist.Result, error) {
	log.Debugw("task started", "task", TaskFetch)
	if _, err := p.fetcher.FetchToHandoff(ctx, p.loc, store); err != nil {
		return persist.Result{}, fmt.Errorf("%s: %w", TaskFetch, err)
	}

	log.Debugw("task started", "task", TaskSave)
	out, err := p.persister.Persist(ctx, p.loc, store)
	if err != nil {
		return out, fmt.Errorf("%s: %w", TaskSave, err)
	}
	return out, nil
}

func (p *Pipeline) record(ctx context.Context, res RunResult, log *zap.SugaredLogger) {
	if p.recorder == nil {
		return
	}
	err := p.recorder.Record(context.WithoutCancel(ctx), ledger.Run{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Status:     res.Status,
		TempPath:   res.TempPath,
		WindPath:   res.WindPath,
		Error:      res.Error,
	})
	if err != nil {
		log.Warnw("failed to record run", "error", err)
	}
}
