package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/orchestrator"
	"github.com/release-engineering/retasc/internal/repo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TriggerRunAPI — источник прогонов, запущенных через API.
const TriggerRunAPI = "api"

// ListRuns возвращает историю прогонов с фильтрацией.
// GET /api/v1/runs?status=...&trigger=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		Status:  domain.RunStatus(q.Get("status")),
		Trigger: q.Get("trigger"),
		Limit:   defaultListLimit,
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil || filter.Limit <= 0 {
		BadRequest(w, "invalid limit")
		return
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.runner.Store().List(r.Context(), filter)
	if HandleRunError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// TriggerRun запускает прогон в фоне.
// POST /api/v1/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	orchReq := orchestrator.Request{Trigger: TriggerRunAPI, DryRun: req.DryRun}
	if req.Today != "" {
		today, err := time.Parse(time.DateOnly, req.Today)
		if err != nil {
			BadRequest(w, "invalid today, expected YYYY-MM-DD")
			return
		}
		orchReq.Today = today
	}

	run, err := h.runner.Start(r.Context(), orchReq)
	if HandleRunError(w, h.logger, err, "") {
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+run.ID.String())
	Accepted(w, RunFromDomain(*run))
}

// GetRun возвращает прогон с результатами задач.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runner.Store().GetByID(r.Context(), id)
	if HandleRunError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
