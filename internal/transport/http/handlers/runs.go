package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/dto"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/response"
)

// RunService is the part of pipeline.Service the HTTP layer needs.
type RunService interface {
	Submit(ctx context.Context, req pipeline.RunRequest) (*domain.Run, error)
	Get(ctx context.Context, id string) (*domain.Run, error)
}

type RunsHandler struct {
	svc RunService
}

func NewRunsHandler(svc RunService) *RunsHandler {
	return &RunsHandler{svc: svc}
}

// Create queues a build and answers 202 with the queued run.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRunReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.Err(w, r, domain.ErrValidationMeta("invalid json body", map[string]string{
			"body": "malformed JSON or invalid fields",
		}))
		return
	}
	if err := validateRequest(&req); err != nil {
		response.Err(w, r, err)
		return
	}

	run, err := h.svc.Submit(r.Context(), pipeline.RunRequest{
		ID:      req.RunID,
		From:    req.From.UTC(),
		To:      req.To.UTC(),
		Trigger: pipeline.TriggerHTTP,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}

	w.Header().Set("Location", "/dataset/v1/runs/"+run.ID)
	response.Data(w, http.StatusAccepted, dto.ToRunResp(run))
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	run, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, dto.ToRunResp(run))
}
