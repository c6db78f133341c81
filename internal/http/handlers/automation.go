package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/jobstore"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
)

// Automation is the control surface of the orchestrator.
type Automation interface {
	Start(ctx context.Context, jobs []models.VideoJob, cfg models.RunConfig) (models.ULID, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop() error
	Reset(ctx context.Context) error
	Status() orchestrator.Status
	Defaults() models.RunConfig
}

// AutomationHandler handles run control endpoints.
type AutomationHandler struct {
	automation Automation
	store      jobstore.Store
}

// NewAutomationHandler creates a new automation handler.
func NewAutomationHandler(automation Automation, store jobstore.Store) *AutomationHandler {
	return &AutomationHandler{
		automation: automation,
		store:      store,
	}
}

// Register registers the automation routes with the API.
func (h *AutomationHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startAutomation",
		Method:        "POST",
		Path:          "/api/v1/automation/start",
		Summary:       "Start automation",
		Description:   "Starts a run over the given videos, or over the stored queue when none are given",
		Tags:          []string{"Automation"},
		DefaultStatus: http.StatusAccepted,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "pauseAutomation",
		Method:      "POST",
		Path:        "/api/v1/automation/pause",
		Summary:     "Pause automation",
		Description: "Holds the run at the next segment boundary",
		Tags:        []string{"Automation"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resumeAutomation",
		Method:      "POST",
		Path:        "/api/v1/automation/resume",
		Summary:     "Resume automation",
		Tags:        []string{"Automation"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "stopAutomation",
		Method:      "POST",
		Path:        "/api/v1/automation/stop",
		Summary:     "Stop automation",
		Description: "Stops the run at the next boundary. A task already in flight finishes or times out first",
		Tags:        []string{"Automation"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "resetAutomation",
		Method:      "POST",
		Path:        "/api/v1/automation/reset",
		Summary:     "Reset automation state",
		Description: "Clears persisted run state left by an abandoned run",
		Tags:        []string{"Automation"},
	}, h.Reset)

	huma.Register(api, huma.Operation{
		OperationID: "getAutomationStatus",
		Method:      "GET",
		Path:        "/api/v1/automation/status",
		Summary:     "Get automation status",
		Tags:        []string{"Automation"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getAutomationDefaults",
		Method:      "GET",
		Path:        "/api/v1/automation/config",
		Summary:     "Get default run settings",
		Tags:        []string{"Automation"},
	}, h.GetDefaults)

	huma.Register(api, huma.Operation{
		OperationID: "listRunOutcomes",
		Method:      "GET",
		Path:        "/api/v1/automation/runs/{run_id}/outcomes",
		Summary:     "List run outcomes",
		Description: "Returns the per-video outcomes recorded for a run",
		Tags:        []string{"Automation"},
	}, h.ListOutcomes)
}

// StartAutomationInput is the input for starting a run.
type StartAutomationInput struct {
	Body struct {
		Videos []VideoJobInput  `json:"videos,omitempty" doc:"Videos to process. Empty uses the stored queue"`
		Config *RunConfigInput `json:"config,omitempty" doc:"Overrides for this run"`
	} `required:"false"`
}

// StartAutomationOutput is the output for starting a run.
type StartAutomationOutput struct {
	Body struct {
		RunID   string `json:"run_id"`
		Message string `json:"message"`
	}
}

// Start begins a run.
func (h *AutomationHandler) Start(ctx context.Context, input *StartAutomationInput) (*StartAutomationOutput, error) {
	jobs, err := jobsFromInput(input.Body.Videos)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	cfg, err := input.Body.Config.Apply(h.automation.Defaults())
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid config: " + err.Error())
	}

	runID, err := h.automation.Start(ctx, jobs, cfg)
	if err != nil {
		return nil, automationError("failed to start automation", err)
	}

	resp := &StartAutomationOutput{}
	resp.Body.RunID = runID.String()
	resp.Body.Message = "automation started"
	return resp, nil
}

// ControlInput is the input for control endpoints.
type ControlInput struct{}

// StatusOutput is the output for status and control endpoints.
type StatusOutput struct {
	Body orchestrator.Status
}

// Pause pauses the run.
func (h *AutomationHandler) Pause(ctx context.Context, _ *ControlInput) (*StatusOutput, error) {
	if err := h.automation.Pause(ctx); err != nil {
		return nil, automationError("failed to pause automation", err)
	}
	return &StatusOutput{Body: h.automation.Status()}, nil
}

// Resume resumes a paused run.
func (h *AutomationHandler) Resume(ctx context.Context, _ *ControlInput) (*StatusOutput, error) {
	if err := h.automation.Resume(ctx); err != nil {
		return nil, automationError("failed to resume automation", err)
	}
	return &StatusOutput{Body: h.automation.Status()}, nil
}

// Stop requests the run to stop.
func (h *AutomationHandler) Stop(_ context.Context, _ *ControlInput) (*StatusOutput, error) {
	if err := h.automation.Stop(); err != nil {
		return nil, automationError("failed to stop automation", err)
	}
	return &StatusOutput{Body: h.automation.Status()}, nil
}

// Reset clears persisted run state.
func (h *AutomationHandler) Reset(ctx context.Context, _ *ControlInput) (*StatusOutput, error) {
	if err := h.automation.Reset(ctx); err != nil {
		return nil, automationError("failed to reset automation", err)
	}
	return &StatusOutput{Body: h.automation.Status()}, nil
}

// GetStatus returns the orchestrator status.
func (h *AutomationHandler) GetStatus(_ context.Context, _ *ControlInput) (*StatusOutput, error) {
	return &StatusOutput{Body: h.automation.Status()}, nil
}

// DefaultsOutput is the output for the defaults endpoint.
type DefaultsOutput struct {
	Body RunConfigResponse
}

// GetDefaults returns the default run settings.
func (h *AutomationHandler) GetDefaults(_ context.Context, _ *ControlInput) (*DefaultsOutput, error) {
	return &DefaultsOutput{Body: RunConfigFromModel(h.automation.Defaults())}, nil
}

// ListOutcomesInput is the input for listing run outcomes.
type ListOutcomesInput struct {
	RunID string `path:"run_id" doc:"Run ID (ULID)"`
}

// ListOutcomesOutput is the output for listing run outcomes.
type ListOutcomesOutput struct {
	Body struct {
		Outcomes []*models.VideoOutcome `json:"outcomes"`
	}
}

// ListOutcomes returns the recorded outcomes of a run.
func (h *AutomationHandler) ListOutcomes(ctx context.Context, input *ListOutcomesInput) (*ListOutcomesOutput, error) {
	runID, err := models.ParseULID(input.RunID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid run ID format", err)
	}

	outcomes, err := h.store.Outcomes(ctx, runID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list outcomes", err)
	}

	resp := &ListOutcomesOutput{}
	resp.Body.Outcomes = outcomes
	if resp.Body.Outcomes == nil {
		resp.Body.Outcomes = []*models.VideoOutcome{}
	}
	return resp, nil
}

// VideoJobInput is a video in a request body. Duration may be seconds, an
// ISO-8601 string ("PT1H2M") or a human string ("45m").
type VideoJobInput struct {
	ID       string `json:"id" minLength:"1" doc:"Unique video identifier"`
	URL      string `json:"url" minLength:"1" doc:"Source URL of the video"`
	Title    string `json:"title,omitempty" doc:"Display title"`
	Duration any    `json:"duration,omitempty" doc:"Known length: seconds, ISO-8601 or human duration"`
}

// Job converts the input to a validated job.
func (in VideoJobInput) Job() (models.VideoJob, error) {
	secs, err := models.ParseDurationValue(in.Duration)
	if err != nil {
		return models.VideoJob{}, fmt.Errorf("video %s: %w", in.ID, err)
	}
	job := models.VideoJob{ID: in.ID, URL: in.URL, Title: in.Title, DurationSeconds: secs}
	if err := job.Validate(); err != nil {
		return models.VideoJob{}, fmt.Errorf("video %s: %w", in.ID, err)
	}
	return job, nil
}

func jobsFromInput(videos []VideoJobInput) ([]models.VideoJob, error) {
	jobs := make([]models.VideoJob, 0, len(videos))
	for _, v := range videos {
		job, err := v.Job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
