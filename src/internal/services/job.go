package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidSchedule = errors.New("schedule must be daily or weekly")
)

// JobService manages backup job definitions
type JobService struct {
	db *gorm.DB
}

// NewJobService creates a new job service
func NewJobService(db *gorm.DB) *JobService {
	return &JobService{db: db}
}

// Create creates a new backup job for a connection
func (s *JobService) Create(connectionID uuid.UUID, name, schedule string, modules []string) (*models.BackupJob, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	job := &models.BackupJob{
		ConnectionID:    connectionID,
		JobName:         name,
		Schedule:        schedule,
		IsActive:        true,
		SelectedModules: modules,
	}
	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Update modifies a job's name, schedule, selection and active flag
func (s *JobService) Update(jobID uuid.UUID, name, schedule string, modules []string, isActive bool) (*models.BackupJob, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	job, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	job.JobName = name
	job.Schedule = schedule
	job.SelectedModules = modules
	job.IsActive = isActive
	if err := s.db.Save(job).Error; err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// Get returns a job by id
func (s *JobService) Get(jobID uuid.UUID) (*models.BackupJob, error) {
	var job models.BackupJob
	err := s.db.First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

// ListForConnection returns a connection's jobs, most recent first
func (s *JobService) ListForConnection(connectionID uuid.UUID) ([]models.BackupJob, error) {
	var jobs []models.BackupJob
	if err := s.db.Where("connection_id = ?", connectionID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListActive returns all active jobs across connections
func (s *JobService) ListActive() ([]models.BackupJob, error) {
	var jobs []models.BackupJob
	if err := s.db.Where("is_active = ?", true).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return jobs, nil
}

// ListActiveBySchedule returns active jobs with the given schedule tag
func (s *JobService) ListActiveBySchedule(schedule string) ([]models.BackupJob, error) {
	var jobs []models.BackupJob
	if err := s.db.Where("is_active = ? AND schedule = ?", true, schedule).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	return jobs, nil
}

// Delete soft-deletes a job. Its history remains as audit trail.
func (s *JobService) Delete(jobID uuid.UUID) error {
	result := s.db.Delete(&models.BackupJob{}, "id = ?", jobID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func validateSchedule(schedule string) error {
	if schedule != models.ScheduleDaily && schedule != models.ScheduleWeekly {
		return ErrInvalidSchedule
	}
	return nil
}
