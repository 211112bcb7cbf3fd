package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/response"
)

type fakeRuns struct {
	submitted []pipeline.RunRequest
	submitErr error
	runs      map[string]*domain.Run
}

func (f *fakeRuns) Submit(ctx context.Context, req pipeline.RunRequest) (*domain.Run, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	id := req.ID
	if id == "" {
		id = "generated"
	}
	return &domain.Run{ID: id, Status: domain.RunQueued, Trigger: req.Trigger, From: req.From, To: req.To}, nil
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*domain.Run, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound("run not found")
}

func withRunID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRunsHandler_Create(t *testing.T) {
	t.Run("return_202_with_queued_run", func(t *testing.T) {
		svc := &fakeRuns{}
		h := NewRunsHandler(svc)

		body := `{"from":"2025-12-25T00:00:00Z","to":"2025-12-26T00:00:00Z"}`
		rr := httptest.NewRecorder()
		h.Create(rr, httptest.NewRequest(http.MethodPost, "/dataset/v1/runs", strings.NewReader(body)))

		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "/dataset/v1/runs/generated", rr.Header().Get("Location"))
		require.Len(t, svc.submitted, 1)
		assert.Equal(t, pipeline.TriggerHTTP, svc.submitted[0].Trigger)
		assert.Equal(t, time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC), svc.submitted[0].From)

		var env struct {
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
		assert.Equal(t, "queued", env.Data["status"])
		assert.Equal(t, []any{}, env.Data["dts"])
	})

	t.Run("return_400_on_malformed_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewRunsHandler(&fakeRuns{}).Create(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "validation_error")
	})

	t.Run("return_400_when_window_is_inverted", func(t *testing.T) {
		body := `{"from":"2025-12-26T00:00:00Z","to":"2025-12-25T00:00:00Z"}`
		rr := httptest.NewRecorder()
		NewRunsHandler(&fakeRuns{}).Create(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, rr.Code)
		var eb response.ErrorBody
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
		assert.Equal(t, "must be after from", eb.Error.Meta["to"])
	})

	t.Run("return_400_on_bad_run_id", func(t *testing.T) {
		body := `{"run_id":"nope","from":"2025-12-25T00:00:00Z","to":"2025-12-26T00:00:00Z"}`
		rr := httptest.NewRecorder()
		NewRunsHandler(&fakeRuns{}).Create(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "run_id")
	})

	t.Run("return_500_when_store_fails", func(t *testing.T) {
		body := `{"from":"2025-12-25T00:00:00Z","to":"2025-12-26T00:00:00Z"}`
		rr := httptest.NewRecorder()
		NewRunsHandler(&fakeRuns{submitErr: errors.New("redis down")}).
			Create(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "redis down")
	})
}

func TestRunsHandler_Get(t *testing.T) {
	svc := &fakeRuns{runs: map[string]*domain.Run{
		"run-1": {ID: "run-1", Status: domain.RunSucceeded, DTs: []string{"2025-12-25"}, Counts: domain.RunCounts{TrainingRows: 3}},
	}}
	h := NewRunsHandler(svc)

	t.Run("found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.Get(rr, withRunID(httptest.NewRequest(http.MethodGet, "/", nil), "run-1"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"training_rows":3`)
		assert.Contains(t, rr.Body.String(), `"2025-12-25"`)
	})

	t.Run("missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.Get(rr, withRunID(httptest.NewRequest(http.MethodGet, "/", nil), "nope"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthHandler(nil).Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("readyz_reports_failed_dependency", func(t *testing.T) {
		h := NewHealthHandler(map[string]Checker{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})
		rr := httptest.NewRecorder()
		h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var eb response.ErrorBody
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
		assert.Equal(t, "connection refused", eb.Error.Meta["redis"])
		assert.NotContains(t, eb.Error.Meta, "postgres")
	})
}
