package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

func TestConnectionUpsert(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	svc := NewConnectionService(db)

	t.Run("CreatesNew", func(t *testing.T) {
		conn, err := svc.Upsert(client.ID, models.CRMTypeZoho, "Zoho CRM", "refresh-1", "https://www.zohoapis.com")
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", conn.RefreshToken)
		assert.Equal(t, "https://www.zohoapis.com", conn.APIDomain)
	})

	t.Run("UpdatesExistingInPlace", func(t *testing.T) {
		first, err := svc.Upsert(client.ID, models.CRMTypeZoho, "Renamed", "refresh-2", "https://www.zohoapis.eu")
		require.NoError(t, err)

		conns, err := svc.ListForClient(client.ID)
		require.NoError(t, err)
		require.Len(t, conns, 1)
		assert.Equal(t, first.ID, conns[0].ID)
		assert.Equal(t, "refresh-2", conns[0].RefreshToken)
		assert.Equal(t, "https://www.zohoapis.eu", conns[0].APIDomain)
	})

	t.Run("KeepsOldRefreshTokenWhenNewIsEmpty", func(t *testing.T) {
		conn, err := svc.Upsert(client.ID, models.CRMTypeZoho, "Zoho CRM", "", "https://www.zohoapis.eu")
		require.NoError(t, err)
		assert.Equal(t, "refresh-2", conn.RefreshToken)
	})

	t.Run("RevivesSoftDeleted", func(t *testing.T) {
		conns, err := svc.ListForClient(client.ID)
		require.NoError(t, err)
		require.NoError(t, svc.Delete(conns[0].ID))

		conns, err = svc.ListForClient(client.ID)
		require.NoError(t, err)
		assert.Empty(t, conns)

		revived, err := svc.Upsert(client.ID, models.CRMTypeZoho, "Zoho CRM", "refresh-3", "https://www.zohoapis.com")
		require.NoError(t, err)

		conns, err = svc.ListForClient(client.ID)
		require.NoError(t, err)
		require.Len(t, conns, 1)
		assert.Equal(t, revived.ID, conns[0].ID)
		assert.Equal(t, "refresh-3", conns[0].RefreshToken)
	})
}

func TestConnectionDeleteDeactivatesJobs(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)

	jobs := NewJobService(db)
	job, err := jobs.Create(conn.ID, "nightly", models.ScheduleDaily, []string{"Leads"})
	require.NoError(t, err)
	assert.True(t, job.IsActive)

	entry := &models.JobHistory{
		JobID:     job.ID,
		RunType:   RunTypeBackup,
		Status:    models.StatusSuccess,
		StartTime: job.CreatedAt,
		Details:   "kept",
	}
	require.NoError(t, db.Create(entry).Error)

	svc := NewConnectionService(db)
	require.NoError(t, svc.Delete(conn.ID))

	_, err = svc.Get(conn.ID)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	// Jobs are deactivated, not deleted
	got, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// History survives as audit trail
	entries, err := NewHistoryService(db).ListByJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConnectionDeleteMissing(t *testing.T) {
	db := setupTestDB(t)
	client := createTestClient(t, db)
	conn := createTestConnection(t, db, client)

	svc := NewConnectionService(db)
	require.NoError(t, svc.Delete(conn.ID))
	assert.ErrorIs(t, svc.Delete(conn.ID), ErrConnectionNotFound)
}
