package backup

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

func TestEncodeBackupDetails(t *testing.T) {
	raw := EncodeBackupDetails("exp-42", "/data/backups/backup_exp-42.zip")

	var d BackupDetails
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	assert.Equal(t, "/data/backups/backup_exp-42.zip", d.FilePath)
	assert.Contains(t, d.Message, "exp-42")
}

func TestEncodeRestoreDetails(t *testing.T) {
	raw := EncodeRestoreDetails([]ModuleResult{
		{Module: "Leads", Status: ModuleCompleted, RemoteJobID: "w1"},
		{Module: "Contacts", Status: ModuleSkippedNoFile},
	})

	var d RestoreDetails
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.Len(t, d.Modules, 2)
	assert.Equal(t, ModuleCompleted, d.Modules[0].Status)
	assert.Empty(t, d.Modules[1].RemoteJobID)
}

func TestDecodeArchivePath(t *testing.T) {
	archiveDir := "/data/backups"

	t.Run("StructuredJSON", func(t *testing.T) {
		entry := &models.JobHistory{
			Details: EncodeBackupDetails("exp-1", "/data/backups/backup_exp-1.zip"),
		}
		assert.Equal(t, "/data/backups/backup_exp-1.zip", DecodeArchivePath(entry, archiveDir))
	})

	t.Run("LegacyFreeText", func(t *testing.T) {
		entry := &models.JobHistory{
			Details: "Backup completed. File saved to /old/location/backup.zip",
		}
		assert.Equal(t, "/old/location/backup.zip", DecodeArchivePath(entry, archiveDir))
	})

	t.Run("ConventionalFallback", func(t *testing.T) {
		entry := &models.JobHistory{Details: "completed"}
		entry.ID = uuid.New()

		want := filepath.Join(archiveDir, "backup_"+entry.ID.String()+".zip")
		assert.Equal(t, want, DecodeArchivePath(entry, archiveDir))
	})

	t.Run("EmptyDetailsFallsThrough", func(t *testing.T) {
		entry := &models.JobHistory{}
		entry.ID = uuid.New()

		got := DecodeArchivePath(entry, archiveDir)
		assert.Contains(t, got, entry.ID.String())
	})
}
