package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

func TestJobCreate(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)
	svc := NewJobService(db)

	t.Run("Valid", func(t *testing.T) {
		job, err := svc.Create(conn.ID, "nightly", models.ScheduleDaily, []string{"Leads", "Contacts"})
		require.NoError(t, err)
		assert.True(t, job.IsActive)
		assert.Equal(t, models.ModuleList{"Leads", "Contacts"}, job.SelectedModules)
	})

	t.Run("RejectsUnknownSchedule", func(t *testing.T) {
		_, err := svc.Create(conn.ID, "hourly-job", "hourly", nil)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})
}

func TestJobUpdate(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)
	svc := NewJobService(db)

	job, err := svc.Create(conn.ID, "nightly", models.ScheduleDaily, []string{"Leads"})
	require.NoError(t, err)

	updated, err := svc.Update(job.ID, "weekly-full", models.ScheduleWeekly, []string{"Leads", "Deals"}, false)
	require.NoError(t, err)
	assert.Equal(t, "weekly-full", updated.JobName)
	assert.Equal(t, models.ScheduleWeekly, updated.Schedule)
	assert.False(t, updated.IsActive)

	_, err = svc.Update(job.ID, "bad", "monthly", nil, true)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestJobListActiveBySchedule(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)
	svc := NewJobService(db)

	daily, err := svc.Create(conn.ID, "daily-a", models.ScheduleDaily, nil)
	require.NoError(t, err)
	weekly, err := svc.Create(conn.ID, "weekly-a", models.ScheduleWeekly, nil)
	require.NoError(t, err)
	inactive, err := svc.Create(conn.ID, "daily-b", models.ScheduleDaily, nil)
	require.NoError(t, err)
	_, err = svc.Update(inactive.ID, inactive.JobName, inactive.Schedule, nil, false)
	require.NoError(t, err)

	dailyJobs, err := svc.ListActiveBySchedule(models.ScheduleDaily)
	require.NoError(t, err)
	require.Len(t, dailyJobs, 1)
	assert.Equal(t, daily.ID, dailyJobs[0].ID)

	active, err := svc.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	weeklyJobs, err := svc.ListActiveBySchedule(models.ScheduleWeekly)
	require.NoError(t, err)
	require.Len(t, weeklyJobs, 1)
	assert.Equal(t, weekly.ID, weeklyJobs[0].ID)
}

func TestJobDelete(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)
	svc := NewJobService(db)

	job, err := svc.Create(conn.ID, "nightly", models.ScheduleDaily, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(job.ID))
	_, err = svc.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.ErrorIs(t, svc.Delete(job.ID), ErrJobNotFound)
}
