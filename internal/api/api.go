package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"trainrun-backend/internal/database"
	"trainrun-backend/pkg/api"
)

// RegistryService exposes the run registry's records over HTTP. The API is
// read only: run state enters the registry exclusively through the message
// queues.
type RegistryService struct {
	db *gorm.DB
}

func NewRegistryService(db *gorm.DB) *RegistryService {
	return &RegistryService{db: db}
}

func (s *RegistryService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})
}

func (s *RegistryService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsRequest](r)
	if err != nil {
		return nil, err
	}

	runs, err := database.ListTrainRuns(r.Context(), s.db, params.Offset, params.Limit)
	if err != nil {
		slog.Error("error listing train runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train runs")
	}

	res := api.ListRunsResponse{Runs: make([]api.TrainRun, 0, len(runs))}
	for _, run := range runs {
		converted, err := convertTrainRun(run)
		if err != nil {
			slog.Error("error converting train run", "run_id", run.Id, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train runs")
		}
		res.Runs = append(res.Runs, converted)
	}
	return res, nil
}

func (s *RegistryService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetTrainRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "train run not found")
		}
		slog.Error("error getting train run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train run")
	}

	converted, err := convertTrainRun(run)
	if err != nil {
		slog.Error("error converting train run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train run")
	}
	return converted, nil
}
