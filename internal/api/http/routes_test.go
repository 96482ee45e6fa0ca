package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/pipeline"
)

type stubRunner struct {
	res pipeline.RunResult
	err error
}

func (s stubRunner) Run(context.Context) (pipeline.RunResult, error) {
	return s.res, s.err
}

func newLedger(t *testing.T) *ledger.DB {
	t.Helper()

	db, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealth(t *testing.T) {
	app := NewApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestRunsLimitValidation verifies that the listing endpoint enforces the
// expected 1-100 range for the `limit` query parameter.
func TestRunsLimitValidation(t *testing.T) {
	app := NewApp()
	RegisterRoutes(app, stubRunner{}, newLedger(t), nil)

	for _, target := range []string{"/api/v1/runs?limit=0", "/api/v1/runs?limit=101", "/api/v1/runs?limit=ten"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestRunsListAndLatest(t *testing.T) {
	db := newLedger(t)
	app := NewApp()
	RegisterRoutes(app, stubRunner{}, db, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	now := time.Now()
	require.NoError(t, db.Record(context.Background(), ledger.Run{RunID: "a", StartedAt: now, FinishedAt: now, Status: ledger.StatusSucceeded}))
	require.NoError(t, db.Record(context.Background(), ledger.Run{RunID: "b", StartedAt: now.Add(time.Hour), FinishedAt: now.Add(time.Hour), Status: ledger.StatusFailed}))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs []ledger.Run `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "b", body.Runs[0].RunID)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var latest ledger.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	assert.Equal(t, "b", latest.RunID)
}

func TestRunsLedgerDisabled(t *testing.T) {
	app := NewApp()
	RegisterRoutes(app, stubRunner{}, nil, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTriggerRun(t *testing.T) {
	tests := []struct {
		name   string
		runner stubRunner
		want   int
	}{
		{name: "success", runner: stubRunner{res: pipeline.RunResult{RunID: "r", Status: ledger.StatusSucceeded}}, want: http.StatusCreated},
		{name: "failure", runner: stubRunner{res: pipeline.RunResult{RunID: "r", Status: ledger.StatusFailed}, err: errors.New("boom")}, want: http.StatusBadGateway},
		{name: "overlap", runner: stubRunner{err: pipeline.ErrRunInProgress}, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp()
			RegisterRoutes(app, tt.runner, nil, nil)

			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestTriggerRunRateLimited(t *testing.T) {
	app := NewApp()
	RegisterRoutes(app, stubRunner{}, nil, rate.NewLimiter(rate.Every(time.Hour), 1))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
