package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/i474232898/weather-parquet-pipeline/internal/handoff"
	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/persist"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather/providers"
)

var (
	minsk    = weather.Location{City: "Minsk"}
	runClock = func() time.Time { return time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC) }
)

func noSleep(context.Context, time.Duration) error { return nil }

func newProvider(t *testing.T, status int, body string) (*providers.OpenWeatherProvider, *int32) {
	t.Helper()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	p := providers.NewOpenWeatherProvider(srv.Client(), "key",
		providers.WithBaseURL(srv.URL),
		providers.WithClock(runClock),
		providers.WithSleep(noSleep),
	)
	return p, &hits
}

const payload = `{"main": {"temp": 20, "feels_like": 19, "temp_min": 18, "temp_max": 22, "pressure": 1010},
	"wind": {"speed": 5, "deg": 90}}`

func TestPipeline_Run(t *testing.T) {
	dir := t.TempDir()
	fetcher, _ := newProvider(t, http.StatusOK, payload)
	db, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	p := New(minsk, fetcher, persist.NewParquetPersister(dir, runClock, nil),
		WithRecorder(db),
		WithClock(runClock),
	)
	assert.Equal(t, []string{TaskFetch, TaskSave}, p.Tasks())

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, res.Status)
	assert.NotEmpty(t, res.RunID)

	temp, err := persist.ReadTemperature(context.Background(), res.TempPath)
	require.NoError(t, err)
	assert.Equal(t, 20.0, temp.Temp)

	wind, err := persist.ReadWind(context.Background(), res.WindPath)
	require.NoError(t, err)
	assert.Equal(t, 5.0, wind.Speed)
	assert.Nil(t, wind.Gust)
	assert.Equal(t, temp.Datetime, wind.Datetime)

	latest, err := db.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, latest.RunID)
	assert.Equal(t, ledger.StatusSucceeded, latest.Status)
	assert.Equal(t, res.TempPath, latest.TempPath)
}

func TestPipeline_FetchFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	fetcher, hits := newProvider(t, http.StatusInternalServerError, "")
	db, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	p := New(minsk, fetcher, persist.NewParquetPersister(dir, runClock, nil), WithRecorder(db))

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrFetchFailed)
	assert.Equal(t, ledger.StatusFailed, res.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	latest, err := db.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, latest.Status)
	assert.Contains(t, latest.Error, TaskFetch)
}

// stubFetcher hands off only what it is told to.
type stubFetcher struct {
	reading  weather.Reading
	skipWind bool
	block    chan struct{}
	started  chan struct{}
}

func (s *stubFetcher) FetchToHandoff(ctx context.Context, _ weather.Location, h weather.Handoff) (weather.Reading, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if err := h.Put(ctx, weather.KeyTemperature, s.reading.Temperature); err != nil {
		return weather.Reading{}, err
	}
	if !s.skipWind {
		if err := h.Put(ctx, weather.KeyWind, s.reading.Wind); err != nil {
			return weather.Reading{}, err
		}
	}
	return s.reading, nil
}

func TestPipeline_MissingUpstreamData(t *testing.T) {
	dir := t.TempDir()
	p := New(minsk, &stubFetcher{skipWind: true}, persist.NewParquetPersister(dir, runClock, nil))

	res, err := p.Run(context.Background())
	assert.ErrorIs(t, err, persist.ErrMissingUpstreamData)
	assert.Equal(t, ledger.StatusFailed, res.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_RejectsOverlappingRuns(t *testing.T) {
	f := &stubFetcher{block: make(chan struct{}), started: make(chan struct{})}
	p := New(minsk, f, persist.NewParquetPersister(t.TempDir(), runClock, nil))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()

	<-f.started
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.block)
	require.NoError(t, <-done)
}

func TestPipeline_DiscardsHandoffAfterRun(t *testing.T) {
	var stores []*handoff.MemoryStore
	factory := func(string) handoff.Store {
		s := handoff.NewMemoryStore()
		stores = append(stores, s)
		return s
	}
	p := New(minsk, &stubFetcher{}, persist.NewParquetPersister(t.TempDir(), runClock, nil),
		WithHandoffFactory(factory),
	)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stores, 2)
	for _, s := range stores {
		assert.Equal(t, 0, s.Len())
	}
}

func TestPipeline_LogsHandoffSizeBeforeDiscard(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(minsk, &stubFetcher{skipWind: true}, persist.NewParquetPersister(t.TempDir(), runClock, nil),
		WithLogger(zap.New(core).Sugar()),
	)

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, persist.ErrMissingUpstreamData)

	entries := logs.FilterMessage("discarding handoff data").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["handoff_keys"])
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, ledger.Run) error {
	return errors.New("disk full")
}

func TestPipeline_RecorderFailureDoesNotFailRun(t *testing.T) {
	p := New(minsk, &stubFetcher{}, persist.NewParquetPersister(t.TempDir(), runClock, nil),
		WithRecorder(failingRecorder{}),
	)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, res.Status)
}
