package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

// Per-module restore outcomes
const (
	ModuleCompleted     = "COMPLETED"
	ModuleFailed        = "FAILED"
	ModuleTimeout       = "TIMEOUT"
	ModuleSkippedNoFile = "SKIPPED_NO_FILE"
)

// legacyPathMarker is the free-text prefix older backup entries used to
// record the archive location before details became structured JSON.
const legacyPathMarker = "File saved to "

// BackupDetails is the structured details payload of a backup entry
type BackupDetails struct {
	Message  string `json:"message"`
	FilePath string `json:"file_path"`
}

// ModuleResult is the outcome of restoring one module
type ModuleResult struct {
	Module      string `json:"module"`
	Status      string `json:"status"`
	RemoteJobID string `json:"remote_job_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RestoreDetails is the structured details payload of a restore entry
type RestoreDetails struct {
	Modules []ModuleResult `json:"modules"`
}

// EncodeBackupDetails renders the success payload for a backup entry
func EncodeBackupDetails(remoteJobID, filePath string) string {
	d := BackupDetails{
		Message:  fmt.Sprintf("Backup completed. Remote job ID: %s. File saved to %s", remoteJobID, filePath),
		FilePath: filePath,
	}
	data, _ := json.Marshal(d)
	return string(data)
}

// EncodeRestoreDetails renders the per-module results payload for a
// restore entry
func EncodeRestoreDetails(results []ModuleResult) string {
	data, _ := json.Marshal(RestoreDetails{Modules: results})
	return string(data)
}

// EncodeFailureDetails renders the details payload for a failed entry
func EncodeFailureDetails(message string) string {
	data, _ := json.Marshal(map[string]string{"message": message})
	return string(data)
}

// DecodeArchivePath extracts the archive path from a history entry. The
// encoding changed over the system's lifetime, so three decoders are tried
// in order: structured JSON, the legacy "File saved to <path>" free text,
// and finally the conventional entry-id-keyed path the earliest archiver
// wrote without recording it. Old entries must remain restorable; only the
// decoder is versioned, never the data.
func DecodeArchivePath(entry *models.JobHistory, archiveDir string) string {
	var d BackupDetails
	if err := json.Unmarshal([]byte(entry.Details), &d); err == nil && d.FilePath != "" {
		return d.FilePath
	}

	if idx := strings.Index(entry.Details, legacyPathMarker); idx >= 0 {
		path := strings.TrimSpace(entry.Details[idx+len(legacyPathMarker):])
		if path != "" {
			return path
		}
	}

	return filepath.Join(archiveDir, fmt.Sprintf("backup_%s.zip", entry.ID))
}
