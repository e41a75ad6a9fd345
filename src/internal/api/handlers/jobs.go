package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
)

// RunLauncher launches and cancels job executions. Satisfied by
// *backup.Runner.
type RunLauncher interface {
	RunBackup(job *models.BackupJob) (*backup.Execution, error)
	RunRestore(job *models.BackupJob) (*backup.Execution, error)
	Cancel(jobID uuid.UUID) error
}

// JobHandler serves backup job CRUD and run triggers
type JobHandler struct {
	jobs        *services.JobService
	connections *services.ConnectionService
	runner      RunLauncher
}

// NewJobHandler creates the job handler
func NewJobHandler(jobs *services.JobService, connections *services.ConnectionService, runner RunLauncher) *JobHandler {
	return &JobHandler{jobs: jobs, connections: connections, runner: runner}
}

type jobRequest struct {
	Name     string   `json:"name" validate:"required,max=120"`
	Schedule string   `json:"schedule" validate:"required,oneof=daily weekly"`
	Modules  []string `json:"modules"`
	IsActive *bool    `json:"is_active"`
}

type jobResponse struct {
	ID              string   `json:"id"`
	ConnectionID    string   `json:"connection_id"`
	Name            string   `json:"name"`
	Schedule        string   `json:"schedule"`
	IsActive        bool     `json:"is_active"`
	SelectedModules []string `json:"selected_modules"`
}

func toJobResponse(job *models.BackupJob) jobResponse {
	modules := job.SelectedModules
	if modules == nil {
		modules = []string{}
	}
	return jobResponse{
		ID:              job.ID.String(),
		ConnectionID:    job.ConnectionID.String(),
		Name:            job.JobName,
		Schedule:        job.Schedule,
		IsActive:        job.IsActive,
		SelectedModules: modules,
	}
}

// ownedConnection verifies the caller owns the connection in the path
func (h *JobHandler) ownedConnection(c echo.Context) (*models.CRMConnection, error) {
	clientID, err := requireClient(c)
	if err != nil {
		return nil, err
	}
	connID, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}

	conn, err := h.connections.Get(connID)
	if err != nil || conn.ClientID != clientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	return conn, nil
}

// ownedJob loads a job and verifies ownership through its connection
func (h *JobHandler) ownedJob(c echo.Context) (*models.BackupJob, error) {
	clientID, err := requireClient(c)
	if err != nil {
		return nil, err
	}
	jobID, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load job")
	}

	conn, err := h.connections.Get(job.ConnectionID)
	if err != nil || conn.ClientID != clientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return job, nil
}

// Create adds a job to a connection
func (h *JobHandler) Create(c echo.Context) error {
	conn, err := h.ownedConnection(c)
	if err != nil {
		return err
	}

	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	job, err := h.jobs.Create(conn.ID, req.Name, req.Schedule, req.Modules)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSchedule) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}
	return c.JSON(http.StatusCreated, toJobResponse(job))
}

// List returns a connection's jobs
func (h *JobHandler) List(c echo.Context) error {
	conn, err := h.ownedConnection(c)
	if err != nil {
		return err
	}

	jobs, err := h.jobs.ListForConnection(conn.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list jobs")
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// Update modifies a job definition
func (h *JobHandler) Update(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}

	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	isActive := job.IsActive
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	updated, err := h.jobs.Update(job.ID, req.Name, req.Schedule, req.Modules, isActive)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSchedule) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update job")
	}
	return c.JSON(http.StatusOK, toJobResponse(updated))
}

// Delete removes a job definition, keeping its history
func (h *JobHandler) Delete(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}
	if err := h.jobs.Delete(job.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete job")
	}
	return c.NoContent(http.StatusNoContent)
}

// Run triggers an immediate backup. The execution proceeds in the
// background; the response carries the new in_progress history entry.
func (h *JobHandler) Run(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}

	exec, err := h.runner.RunBackup(job)
	if err != nil {
		if errors.Is(err, backup.ErrJobBusy) {
			return echo.NewHTTPError(http.StatusConflict, "job already has a run in progress")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start backup")
	}
	return c.JSON(http.StatusAccepted, exec.Entry)
}

// Restore triggers a restore from the job's latest successful backup
func (h *JobHandler) Restore(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}

	exec, err := h.runner.RunRestore(job)
	if err != nil {
		if errors.Is(err, backup.ErrJobBusy) {
			return echo.NewHTTPError(http.StatusConflict, "job already has a run in progress")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start restore")
	}
	return c.JSON(http.StatusAccepted, exec.Entry)
}

// Cancel stops a job's in-flight run
func (h *JobHandler) Cancel(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}
	if err := h.runner.Cancel(job.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to cancel run")
	}
	return c.NoContent(http.StatusNoContent)
}
