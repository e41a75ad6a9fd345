package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

// Run types recorded on history entries
const (
	RunTypeBackup  = "backup"
	RunTypeRestore = "restore"
)

// ErrRunInProgress is returned when a new entry is requested for a job
// that already has one in progress.
var ErrRunInProgress = errors.New("job already has a run in progress")

// HistoryService persists job execution records. Entries are append-only:
// created in_progress and moved exactly once to a terminal state.
type HistoryService struct {
	db *gorm.DB
}

// NewHistoryService creates a new history service
func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Start creates an in_progress entry for a new execution. At most one
// entry may be in progress per job; this check is application-level, not
// a database constraint.
func (s *HistoryService) Start(jobID uuid.UUID, runType string) (*models.JobHistory, error) {
	var count int64
	if err := s.db.Model(&models.JobHistory{}).
		Where("job_id = ? AND status = ?", jobID, models.StatusInProgress).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check running entries: %w", err)
	}
	if count > 0 {
		return nil, ErrRunInProgress
	}

	entry := &models.JobHistory{
		JobID:     jobID,
		RunType:   runType,
		Status:    models.StatusInProgress,
		StartTime: time.Now().UTC(),
	}
	if err := s.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create history entry: %w", err)
	}
	return entry, nil
}

// Finish moves an entry to a terminal state. The transition only applies
// while the entry is still in progress, so a cancellation that already
// landed is never overwritten.
func (s *HistoryService) Finish(entryID uuid.UUID, status, details string) error {
	now := time.Now().UTC()
	result := s.db.Model(&models.JobHistory{}).
		Where("id = ? AND status = ?", entryID, models.StatusInProgress).
		Updates(map[string]interface{}{
			"status":   status,
			"end_time": now,
			"details":  details,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish history entry: %w", result.Error)
	}
	return nil
}

// CancelInProgress flips a job's current in_progress entry to cancelled.
// Returns the number of entries affected (zero when nothing was running).
func (s *HistoryService) CancelInProgress(jobID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	result := s.db.Model(&models.JobHistory{}).
		Where("job_id = ? AND status = ?", jobID, models.StatusInProgress).
		Updates(map[string]interface{}{
			"status":   models.StatusCancelled,
			"end_time": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel history entry: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FindLatest returns a job's most recent entry with the given status
func (s *HistoryService) FindLatest(jobID uuid.UUID, status string) (*models.JobHistory, error) {
	var entry models.JobHistory
	err := s.db.Where("job_id = ? AND status = ?", jobID, status).
		Order("start_time DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindLatestBackup returns a job's most recent backup entry with the
// given status. Restore entries carry per-module results rather than an
// archive path, so restore-point lookup must not land on them.
func (s *HistoryService) FindLatestBackup(jobID uuid.UUID, status string) (*models.JobHistory, error) {
	var entry models.JobHistory
	err := s.db.Where("job_id = ? AND status = ? AND run_type = ?", jobID, status, RunTypeBackup).
		Order("start_time DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByJob returns a job's full history, most recent first
func (s *HistoryService) ListByJob(jobID uuid.UUID) ([]models.JobHistory, error) {
	var entries []models.JobHistory
	if err := s.db.Where("job_id = ?", jobID).
		Order("start_time DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// Get returns a single entry by id
func (s *HistoryService) Get(entryID uuid.UUID) (*models.JobHistory, error) {
	var entry models.JobHistory
	if err := s.db.First(&entry, "id = ?", entryID).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
