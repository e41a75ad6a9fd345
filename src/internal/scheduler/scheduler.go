package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
)

// JobRunner launches backup executions. Satisfied by *backup.Runner.
type JobRunner interface {
	RunBackup(job *models.BackupJob) (*backup.Execution, error)
}

// Scheduler triggers automated backups: daily jobs fire every day at the
// configured hour, weekly jobs only on the configured weekday. Due jobs
// run sequentially so a large account's export never competes with
// another job for bandwidth.
type Scheduler struct {
	jobs      *services.JobService
	runner    JobRunner
	logger    *slog.Logger
	hour      int
	weeklyDay time.Weekday

	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates a scheduler over the active job definitions
func NewScheduler(db *gorm.DB, cfg *viper.Viper, runner JobRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:      services.NewJobService(db),
		runner:    runner,
		logger:    logger,
		hour:      cfg.GetInt("scheduler.hour"),
		weeklyDay: time.Weekday(cfg.GetInt("scheduler.weekly_day")),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the scheduling loop in a background goroutine
func (s *Scheduler) Start() {
	go s.loop()
	s.logger.Info("scheduler started",
		"daily_hour", s.hour, "weekly_day", s.weeklyDay.String())
}

// Stop terminates the scheduling loop. In-flight executions are not
// interrupted; use the runner's Cancel for that.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		now := time.Now()
		timer := time.NewTimer(s.nextRun(now).Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case fired := <-timer.C:
			s.runDue(fired)
		}
	}
}

// nextRun returns the next occurrence of the configured hour
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runDue runs every active job that is due at the given trigger time
func (s *Scheduler) runDue(at time.Time) {
	jobs, err := s.jobs.ListActive()
	if err != nil {
		s.logger.Error("failed to load scheduled jobs", "error", err)
		return
	}

	for i := range jobs {
		job := &jobs[i]
		if job.Schedule == models.ScheduleWeekly && at.Weekday() != s.weeklyDay {
			continue
		}
		s.run(job)
	}
}

// RunAllActiveJobs triggers a backup for every active job immediately,
// regardless of schedule. Jobs run sequentially; the call returns when
// the last one finishes.
func (s *Scheduler) RunAllActiveJobs() error {
	jobs, err := s.jobs.ListActive()
	if err != nil {
		return err
	}
	for i := range jobs {
		s.run(&jobs[i])
	}
	return nil
}

// run launches one backup and waits for it. A job that is already busy
// is skipped, not queued.
func (s *Scheduler) run(job *models.BackupJob) {
	exec, err := s.runner.RunBackup(job)
	if err != nil {
		if errors.Is(err, backup.ErrJobBusy) {
			s.logger.Warn("skipping scheduled run, job is busy", "job", job.JobName, "job_id", job.ID)
			return
		}
		s.logger.Error("failed to launch scheduled backup", "job", job.JobName, "job_id", job.ID, "error", err)
		return
	}
	if err := exec.Wait(); err != nil {
		s.logger.Warn("scheduled backup finished with error", "job", job.JobName, "job_id", job.ID, "error", err)
	}
}
