package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httpapi "github.com/i474232898/weather-parquet-pipeline/internal/api/http"
	"github.com/i474232898/weather-parquet-pipeline/internal/config"
	"github.com/i474232898/weather-parquet-pipeline/internal/handoff"
	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/logging"
	"github.com/i474232898/weather-parquet-pipeline/internal/persist"
	"github.com/i474232898/weather-parquet-pipeline/internal/pipeline"
	"github.com/i474232898/weather-parquet-pipeline/internal/scheduler"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather/providers"
)

var (
	once    = flag.Bool("once", false, "run the pipeline a single time and exit")
	inspect = flag.String("inspect", "", "print the record stored in a persisted parquet file and exit")
)

func main() {
	flag.Parse()

	if *inspect != "" {
		if err := inspectFile(context.Background(), os.Stdout, *inspect); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Infow("no .env file loaded", "reason", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg, log)
	defer cleanup()
	if err != nil {
		return err
	}

	if *once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
		_, err := p.Run(runCtx)
		return err
	}

	// Scheduler that periodically fetches and persists data.
	sched, err := scheduler.New(cfg.Schedule, cfg.RunTimeout, p, log.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.HTTPAddr != "" {
		app := httpapi.NewApp()
		var runs httpapi.RunLister
		if p.ledger != nil {
			runs = p.ledger
		}
		httpapi.RegisterRoutes(app, p, runs, rate.NewLimiter(rate.Every(time.Minute), 1))

		go func() {
			if err := app.Listen(cfg.HTTPAddr); err != nil {
				log.Errorw("fiber server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				log.Errorw("error during shutdown", "error", err)
			}
		}()
		log.Infow("status api listening", "addr", cfg.HTTPAddr)
	}

	// Wait for termination signal
	<-ctx.Done()
	log.Infow("shutting down")
	return nil
}

// wiredPipeline keeps the ledger handle next to the pipeline for the status API.
type wiredPipeline struct {
	*pipeline.Pipeline
	ledger *ledger.DB
}

func buildPipeline(ctx context.Context, cfg *config.AppConfig, log *zap.SugaredLogger) (*wiredPipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Shared HTTP client for outbound API calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	fetcher := providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey,
		providers.WithBaseURL(cfg.OpenWeatherBaseURL),
		providers.WithBackoff(providers.BackoffConfig{
			MaxAttempts:     cfg.FetchMaxAttempts,
			InitialInterval: cfg.FetchBackoffInitial,
			MaxInterval:     cfg.FetchBackoffMax,
		}),
		providers.WithLogger(log.Named(pipeline.TaskFetch)),
	)
	persister := persist.NewParquetPersister(cfg.OutputDir, time.Now, log.Named(pipeline.TaskSave))

	opts := []pipeline.Option{pipeline.WithLogger(log.Named("pipeline"))}

	switch cfg.HandoffBackend {
	case config.BackendRedis:
		client, err := handoff.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, pipeline.WithHandoffFactory(handoff.NewRedisFactory(client, cfg.HandoffTTL)))
	default:
		opts = append(opts, pipeline.WithHandoffFactory(handoff.NewMemoryFactory()))
	}

	wp := &wiredPipeline{}
	if cfg.LedgerPath != "" {
		db, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = db.Close() })
		opts = append(opts, pipeline.WithRecorder(db))
		wp.ledger = db
	}

	wp.Pipeline = pipeline.New(cfg.Location(), fetcher, persister, opts...)
	log.Infow("pipeline configured",
		"city", cfg.City,
		"output_dir", cfg.OutputDir,
		"schedule", cfg.Schedule,
		"handoff", cfg.HandoffBackend,
		"ledger", cfg.LedgerPath != "",
	)
	return wp, cleanup, nil
}

// inspectFile prints a persisted file as JSON, choosing the decoder by file suffix.
func inspectFile(ctx context.Context, w io.Writer, path string) error {
	var (
		v   any
		err error
	)
	switch {
	case strings.HasSuffix(path, "_temp"+persist.FileExt):
		v, err = persist.ReadTemperature(ctx, path)
	case strings.HasSuffix(path, "_wind"+persist.FileExt):
		v, err = persist.ReadWind(ctx, path)
	default:
		return errors.New("inspect expects a *_temp.parquet or *_wind.parquet file")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
