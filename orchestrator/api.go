package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/orchestrator"
	"github.com/conveyor-labs/conveyor-go/internal/platform/httpserver"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
)

const triggerTokenHeader = "X-Conveyor-Token"

type orchestratorAPI struct {
	logger       *slog.Logger
	svc          *orchestrator.Service
	store        *artifacts.Store
	triggerToken string
}

func newOrchestratorAPI(logger *slog.Logger, svc *orchestrator.Service, store *artifacts.Store, triggerToken string) *orchestratorAPI {
	return &orchestratorAPI{
		logger:       logger,
		svc:          svc,
		store:        store,
		triggerToken: strings.TrimSpace(triggerToken),
	}
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /pipelines", api.handleTrigger)
	mux.HandleFunc("GET /pipelines", api.handleListRuns)
	mux.HandleFunc("GET /pipelines/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /pipelines/{run_id}/cancel", api.handleCancelRun)

	mux.HandleFunc("GET /pipelines/{run_id}/jobs/{job_name}/artifacts", api.handleListArtifacts)
	mux.HandleFunc("GET /pipelines/{run_id}/jobs/{job_name}/artifacts/{path...}", api.handleDownloadArtifact)
}

type triggerRequest struct {
	Ref    string `json:"ref"`
	Commit string `json:"commit"`
	Tag    bool   `json:"tag"`
}

type runResponse struct {
	RunID     string     `json:"run_id"`
	Ref       string     `json:"ref"`
	Commit    string     `json:"commit"`
	Tag       bool       `json:"tag"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type jobResponse struct {
	Name       string     `json:"name"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	ExitCode   int        `json:"exit_code"`
	Output     string     `json:"output,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Jobs []jobResponse `json:"jobs"`
}

type artifactFileResponse struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

type artifactResponse struct {
	RunID     string                 `json:"run_id"`
	Job       string                 `json:"job"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
	Files     []artifactFileResponse `json:"files"`
}

func toRunResponse(run domain.PipelineRun) runResponse {
	return runResponse{
		RunID:     run.ID,
		Ref:       run.Trigger.Ref,
		Commit:    run.Trigger.Commit,
		Tag:       run.Trigger.Tag,
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt,
		EndedAt:   run.EndedAt,
	}
}

func toJobResponse(result domain.JobResult) jobResponse {
	return jobResponse{
		Name:       result.JobName,
		Stage:      result.Stage,
		Status:     string(result.Status),
		ExitCode:   result.ExitCode,
		Output:     result.Output,
		Reason:     result.Reason,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

func (api *orchestratorAPI) authorized(r *http.Request) bool {
	if api.triggerToken == "" {
		return true
	}
	provided := strings.TrimSpace(r.Header.Get(triggerTokenHeader))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(api.triggerToken)) == 1
}

func (api *orchestratorAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !api.authorized(r) {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	trig := domain.TriggerContext{
		Ref:    strings.TrimSpace(req.Ref),
		Commit: strings.TrimSpace(req.Commit),
		Tag:    req.Tag,
	}
	run, err := api.svc.Trigger(r.Context(), trig)
	if err != nil {
		if trig.Validate() != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_trigger")
			return
		}
		api.logger.Error("trigger failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, toRunResponse(run))
}

func (api *orchestratorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Status: domain.RunStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Ref:    strings.TrimSpace(r.URL.Query().Get("ref")),
		Limit:  100,
	}
	runs, err := api.svc.ListRuns(r.Context(), filter)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *orchestratorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := api.svc.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get run failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := runDetailResponse{runResponse: toRunResponse(detail.Run)}
	resp.Jobs = make([]jobResponse, 0, len(detail.Jobs))
	for _, job := range detail.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (api *orchestratorAPI) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if !api.authorized(r) {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := api.svc.CancelRun(r.Context(), r.PathValue("run_id"))
	switch {
	case err == nil:
		httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "canceling"})
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, orchestrator.ErrRunFinished):
		api.writeError(w, r, http.StatusConflict, "run_finished")
	default:
		api.logger.Error("cancel run failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *orchestratorAPI) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	job := r.PathValue("job_name")

	artifact, err := api.store.Get(runID, job)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("list artifacts failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := artifactResponse{
		RunID:     artifact.RunID,
		Job:       artifact.JobName,
		CreatedAt: artifact.CreatedAt,
		ExpiresAt: artifact.ExpiresAt,
		Files:     make([]artifactFileResponse, 0, len(artifact.Files)),
	}
	for _, file := range artifact.Files {
		resp.Files = append(resp.Files, artifactFileResponse{
			Path:      file.Path,
			SizeBytes: file.SizeBytes,
			SHA256:    file.SHA256,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (api *orchestratorAPI) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	job := r.PathValue("job_name")
	path := r.PathValue("path")

	rc, err := api.store.Open(r.Context(), runID, job, path)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("artifact download failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		api.logger.Warn("artifact stream interrupted", "run_id", runID, "job", job, "path", path, "error", err)
	}
}

func (api *orchestratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
