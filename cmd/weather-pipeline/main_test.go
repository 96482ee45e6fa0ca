package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/weather-parquet-pipeline/internal/config"
	"github.com/i474232898/weather-parquet-pipeline/internal/handoff"
	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/persist"
	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

func testConfig(t *testing.T, baseURL string) *config.AppConfig {
	t.Helper()

	dir := t.TempDir()
	return &config.AppConfig{
		OpenWeatherAPIKey:   "key",
		OpenWeatherBaseURL:  baseURL,
		City:                "Minsk",
		OutputDir:           filepath.Join(dir, "out"),
		Schedule:            "@hourly",
		RunTimeout:          time.Minute,
		HTTPTimeout:         time.Second,
		FetchMaxAttempts:    1,
		FetchBackoffInitial: time.Millisecond,
		FetchBackoffMax:     time.Millisecond,
		HandoffBackend:      config.BackendMemory,
		LedgerPath:          filepath.Join(dir, "runs.db"),
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

func TestBuildPipeline_RunOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"main": {"temp": 20, "feels_like": 19, "temp_min": 18, "temp_max": 22, "pressure": 1010},
			"wind": {"speed": 5, "deg": 90, "gust": 8}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	require.NoError(t, cfg.Validate())

	p, cleanup, err := buildPipeline(context.Background(), cfg, zap.NewNop().Sugar())
	defer cleanup()
	require.NoError(t, err)
	require.NotNil(t, p.ledger)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	latest, err := p.ledger.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, latest.RunID)
	assert.Equal(t, ledger.StatusSucceeded, latest.Status)

	var out bytes.Buffer
	require.NoError(t, inspectFile(context.Background(), &out, res.WindPath))

	assert.Contains(t, out.String(), `"gust": 8`)
	assert.Contains(t, out.String(), `"speed": 5`)
}

func TestInspectFile(t *testing.T) {
	dir := t.TempDir()
	store := newFilledStore(t)
	pers := persist.NewParquetPersister(dir, nil, nil)
	res, err := pers.Persist(context.Background(), weather.Location{City: "Minsk"}, store)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, inspectFile(context.Background(), &out, res.TempPath))
	assert.Contains(t, out.String(), `"pressure": 1010`)

	out.Reset()
	require.NoError(t, inspectFile(context.Background(), &out, res.WindPath))
	assert.Contains(t, out.String(), `"gust": null`)

	assert.Error(t, inspectFile(context.Background(), &out, filepath.Join(dir, "notes.txt")))
}

func newFilledStore(t *testing.T) weather.Handoff {
	t.Helper()

	s := handoff.NewMemoryStore()
	require.NoError(t, weather.PutReading(context.Background(), s, weather.Reading{
		Temperature: weather.TemperatureRecord{Datetime: "2025-04-02 18:00:00", Temp: 20, FeelsLike: 19, TempMin: 18, TempMax: 22, Pressure: 1010},
		Wind:        weather.WindRecord{Datetime: "2025-04-02 18:00:00", Speed: 5, Deg: 90},
	}))
	return s
}
