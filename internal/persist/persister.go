package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/zap"

	"github.com/i474232898/weather-parquet-pipeline/internal/handoff"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

// FileExt is the extension of every persisted file.
const FileExt = ".parquet"

var (
	// ErrMissingUpstreamData is returned when the fetch step left no record to save.
	ErrMissingUpstreamData = errors.New("no upstream weather data in handoff store")
	// ErrWriteVerification is returned when the files are not on disk after writing.
	ErrWriteVerification = errors.New("persisted files could not be verified")
)

// Result holds the paths written by one Persist call.
type Result struct {
	TempPath string `json:"tempPath"`
	WindPath string `json:"windPath"`
}

// ParquetPersister writes the records of a run to two Parquet files in baseDir.
type ParquetPersister struct {
	baseDir string
	now     weather.Clock
	mem     memory.Allocator
	log     *zap.SugaredLogger

	// stat is os.Stat; swapped in tests to simulate a vanished file.
	stat func(string) (os.FileInfo, error)
}

// NewParquetPersister creates a persister writing under baseDir.
func NewParquetPersister(baseDir string, now weather.Clock, log *zap.SugaredLogger) *ParquetPersister {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ParquetPersister{
		baseDir: baseDir,
		now:     now,
		mem:     memory.NewGoAllocator(),
		log:     log,
		stat:    os.Stat,
	}
}

// BaseDir returns the output directory.
func (p *ParquetPersister) BaseDir() string {
	return p.baseDir
}

// Paths returns the temperature and wind file paths for loc on day.
func (p *ParquetPersister) Paths(loc weather.Location, day time.Time) (temp, wind string) {
	prefix := loc.FileKey() + "_" + day.Format(weather.FileDateLayout)
	temp = filepath.Join(p.baseDir, prefix+"_temp"+FileExt)
	wind = filepath.Join(p.baseDir, prefix+"_wind"+FileExt)
	return temp, wind
}

// Persist reads both records of the current run from h and writes them to
// today's files, overwriting files from earlier runs of the same day.
func (p *ParquetPersister) Persist(ctx context.Context, loc weather.Location, h weather.Handoff) (Result, error) {
	var temp weather.TemperatureRecord
	if err := getRecord(ctx, h, weather.KeyTemperature, &temp); err != nil {
		p.log.Errorw("error in saving data to parquet", "key", weather.KeyTemperature, "error", err)
		return Result{}, err
	}
	var wind weather.WindRecord
	if err := getRecord(ctx, h, weather.KeyWind, &wind); err != nil {
		p.log.Errorw("error in saving data to parquet", "key", weather.KeyWind, "error", err)
		return Result{}, err
	}

	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}

	res := Result{}
	res.TempPath, res.WindPath = p.Paths(loc, p.now())

	tempRec := temperatureRow(p.mem, temp)
	defer tempRec.Release()
	if err := writeParquet(res.TempPath, tempRec); err != nil {
		return Result{}, fmt.Errorf("save temperature data: %w", err)
	}
	p.log.Infow("temperature file saved", "path", res.TempPath)

	windRec := windRow(p.mem, wind)
	defer windRec.Release()
	if err := writeParquet(res.WindPath, windRec); err != nil {
		return Result{}, fmt.Errorf("save wind data: %w", err)
	}
	p.log.Infow("wind file saved", "path", res.WindPath)

	if err := p.verify(res.TempPath, res.WindPath); err != nil {
		p.log.Errorw("failed to create parquet files", "error", err)
		return res, err
	}
	p.log.Infow("parquet files created", "temp", res.TempPath, "wind", res.WindPath)
	return res, nil
}

func getRecord(ctx context.Context, h weather.Handoff, key string, dst any) error {
	err := h.Get(ctx, key, dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, handoff.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrMissingUpstreamData, key)
	default:
		return fmt.Errorf("read %s from handoff: %w", key, err)
	}
}

func (p *ParquetPersister) verify(paths ...string) error {
	for _, path := range paths {
		info, err := p.stat(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWriteVerification, path, err)
		}
		if !info.Mode().IsRegular() || info.Size() == 0 {
			return fmt.Errorf("%w: %s is empty or not a regular file", ErrWriteVerification, path)
		}
	}
	return nil
}
