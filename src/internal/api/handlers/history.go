package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
)

// HistoryHandler serves the job execution audit trail
type HistoryHandler struct {
	cfg         *viper.Viper
	history     *services.HistoryService
	jobs        *services.JobService
	connections *services.ConnectionService
}

// NewHistoryHandler creates the history handler
func NewHistoryHandler(cfg *viper.Viper, history *services.HistoryService, jobs *services.JobService,
	connections *services.ConnectionService) *HistoryHandler {
	return &HistoryHandler{cfg: cfg, history: history, jobs: jobs, connections: connections}
}

// ownedJob verifies the caller owns the job in the path
func (h *HistoryHandler) ownedJob(c echo.Context) (*models.BackupJob, error) {
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
		return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	conn, err := h.connections.Get(job.ConnectionID)
	if err != nil || conn.ClientID != clientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return job, nil
}

// ownedEntry loads a history entry and verifies ownership through its job
func (h *HistoryHandler) ownedEntry(c echo.Context) (*models.JobHistory, error) {
	clientID, err := requireClient(c)
	if err != nil {
		return nil, err
	}
	entryID, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}

	entry, err := h.history.Get(entryID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	job, err := h.jobs.Get(entry.JobID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	conn, err := h.connections.Get(job.ConnectionID)
	if err != nil || conn.ClientID != clientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	return entry, nil
}

// ListByJob returns a job's history, most recent first
func (h *HistoryHandler) ListByJob(c echo.Context) error {
	job, err := h.ownedJob(c)
	if err != nil {
		return err
	}

	entries, err := h.history.ListByJob(job.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list history")
	}
	return c.JSON(http.StatusOK, entries)
}

// Get returns one history entry
func (h *HistoryHandler) Get(c echo.Context) error {
	entry, err := h.ownedEntry(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

// Download streams the archive produced by a successful backup entry
func (h *HistoryHandler) Download(c echo.Context) error {
	entry, err := h.ownedEntry(c)
	if err != nil {
		return err
	}

	if entry.RunType != services.RunTypeBackup || entry.Status != models.StatusSuccess {
		return echo.NewHTTPError(http.StatusBadRequest, "entry has no downloadable archive")
	}

	path := backup.DecodeArchivePath(entry, h.cfg.GetString("backup.archive_dir"))
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "archive no longer on disk")
	}
	return c.Attachment(path, filepath.Base(path))
}
