package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/archive"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
	"github.com/crmvault/crmvault/src/internal/zoho"
)

// ErrModulesFailed marks a restore where at least one module failed. The
// per-module results list in the history entry carries the specifics.
var ErrModulesFailed = errors.New("one or more modules failed to restore")

// TokenExchanger exchanges a stored refresh credential for a bearer token
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (string, error)
}

// TransferClient drives the remote CRM's asynchronous bulk APIs for one run
type TransferClient interface {
	ResolveOrg(ctx context.Context, override string)
	StartExport(ctx context.Context) (string, error)
	WaitForExport(ctx context.Context, jobID string) (string, error)
	DownloadExport(ctx context.Context, downloadURL, destPath string) error
	UploadCSV(ctx context.Context, data []byte, filename string) (string, error)
	StartBulkWrite(ctx context.Context, module, fileID string, mappings []zoho.FieldMapping, operation, findBy string) (string, error)
	WaitForBulkWrite(ctx context.Context, jobID string) error
}

// ClientFactory builds a transfer client bound to one connection's API
// domain and one freshly exchanged access token
type ClientFactory func(apiDomain, accessToken string) TransferClient

// Notifier is told about failed runs so someone can act on them
type Notifier interface {
	NotifyJobFailed(job *models.BackupJob, runType, message string)
}

// Execution is the handle of one in-flight run. Handlers detach; tests
// and the scheduler wait.
type Execution struct {
	JobID   uuid.UUID
	RunType string
	Entry   *models.JobHistory

	done chan struct{}
	err  error
}

// Wait blocks until the execution reaches a terminal state and returns
// its error, if any
func (e *Execution) Wait() error {
	<-e.done
	return e.err
}

// Runner orchestrates backup and restore executions: it acquires
// credentials, drives the transfer client, persists progress to history
// and converts every failure into a terminal history entry.
type Runner struct {
	db         *gorm.DB
	cfg        *viper.Viper
	broker     TokenExchanger
	newClient  ClientFactory
	history    *services.HistoryService
	notifier   Notifier
	logger     *slog.Logger
	archiveDir string

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// NewRunner creates a job runner. broker and factory are injectable for
// tests; pass nil to use the real Zoho implementations.
func NewRunner(db *gorm.DB, cfg *viper.Viper, broker TokenExchanger, factory ClientFactory, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if broker == nil {
		broker = zoho.NewTokenBroker(cfg)
	}
	if factory == nil {
		factory = func(apiDomain, accessToken string) TransferClient {
			return zoho.NewClient(apiDomain, accessToken, logger)
		}
	}
	return &Runner{
		db:         db,
		cfg:        cfg,
		broker:     broker,
		newClient:  factory,
		history:    services.NewHistoryService(db),
		logger:     logger,
		archiveDir: cfg.GetString("backup.archive_dir"),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetNotifier attaches a failure notifier
func (r *Runner) SetNotifier(n Notifier) {
	r.notifier = n
}

// RunBackup launches a backup execution for a job. The returned handle
// can be awaited or discarded; the run proceeds either way.
func (r *Runner) RunBackup(job *models.BackupJob) (*Execution, error) {
	return r.launch(job, services.RunTypeBackup, r.executeBackup)
}

// RunRestore launches a restore execution for a job
func (r *Runner) RunRestore(job *models.BackupJob) (*Execution, error) {
	return r.launch(job, services.RunTypeRestore, r.executeRestore)
}

// Cancel cancels a job's in-flight execution: the current in_progress
// history entry is flipped to cancelled and the execution context is
// cancelled, which the run observes at its next polling boundary.
func (r *Runner) Cancel(jobID uuid.UUID) error {
	if _, err := r.history.CancelInProgress(jobID); err != nil {
		return err
	}

	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

type executeFunc func(ctx context.Context, job *models.BackupJob, entry *models.JobHistory) (string, error)

func (r *Runner) launch(job *models.BackupJob, runType string, execute executeFunc) (*Execution, error) {
	// One execution per job at a time. The lock is acquired before the
	// history entry is created and released at the terminal write.
	r.mu.Lock()
	if _, busy := r.running[job.ID]; busy {
		r.mu.Unlock()
		return nil, ErrJobBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running[job.ID] = cancel
	r.mu.Unlock()

	entry, err := r.history.Start(job.ID, runType)
	if err != nil {
		r.release(job.ID)
		if errors.Is(err, services.ErrRunInProgress) {
			return nil, ErrJobBusy
		}
		return nil, err
	}

	exec := &Execution{
		JobID:   job.ID,
		RunType: runType,
		Entry:   entry,
		done:    make(chan struct{}),
	}

	r.logger.Info("starting job execution",
		"job", job.JobName, "job_id", job.ID, "run_type", runType)

	go func() {
		defer close(exec.done)
		defer r.release(job.ID)

		details, runErr := execute(ctx, job, entry)
		exec.err = r.finalize(job, entry, runType, details, runErr)
	}()

	return exec, nil
}

func (r *Runner) release(jobID uuid.UUID) {
	r.mu.Lock()
	if cancel, ok := r.running[jobID]; ok {
		cancel()
		delete(r.running, jobID)
	}
	r.mu.Unlock()
}

// finalize writes the terminal history entry. Every failure inside an
// execution lands here; nothing propagates to the triggering caller.
func (r *Runner) finalize(job *models.BackupJob, entry *models.JobHistory, runType, details string, runErr error) error {
	if runErr == nil {
		if err := r.history.Finish(entry.ID, models.StatusSuccess, details); err != nil {
			r.logger.Error("failed to record success", "job_id", job.ID, "error", err)
			return err
		}
		r.logger.Info("job execution succeeded", "job", job.JobName, "job_id", job.ID, "run_type", runType)
		return nil
	}

	if errors.Is(runErr, context.Canceled) {
		// Cancel already moved the entry to cancelled; the conditional
		// terminal write below would be a no-op anyway.
		r.logger.Info("job execution cancelled", "job", job.JobName, "job_id", job.ID)
		return runErr
	}

	message := runErr.Error()
	failureDetails := details
	if failureDetails == "" {
		failureDetails = EncodeFailureDetails(message)
	}
	if err := r.history.Finish(entry.ID, models.StatusFailed, failureDetails); err != nil {
		r.logger.Error("failed to record failure", "job_id", job.ID, "error", err)
	}
	r.logger.Error("job execution failed",
		"job", job.JobName, "job_id", job.ID, "run_type", runType, "error", message)

	if r.notifier != nil {
		r.notifier.NotifyJobFailed(job, runType, message)
	}
	return runErr
}

// executeBackup runs one backup: full-account export, poll to completion,
// download to local archive storage keyed by the remote job id. The job's
// module selection is deliberately not consulted here; it gates restore
// only.
func (r *Runner) executeBackup(ctx context.Context, job *models.BackupJob, entry *models.JobHistory) (string, error) {
	client, _, err := r.connect(ctx, job)
	if err != nil {
		return "", err
	}

	exportID, err := client.StartExport(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Info("export initiated", "job_id", job.ID, "remote_job_id", exportID)

	downloadURL, err := client.WaitForExport(ctx, exportID)
	if err != nil {
		return "", err
	}

	archivePath := filepath.Join(r.archiveDir, fmt.Sprintf("backup_%s.zip", exportID))
	if err := client.DownloadExport(ctx, downloadURL, archivePath); err != nil {
		return "", err
	}
	r.logger.Info("export artifact saved", "job_id", job.ID, "path", archivePath)

	return EncodeBackupDetails(exportID, archivePath), nil
}

// executeRestore replays the job's latest successful backup into the
// remote account, module by module. One bad module marks the whole run
// failed but does not stop the remaining modules.
func (r *Runner) executeRestore(ctx context.Context, job *models.BackupJob, entry *models.JobHistory) (string, error) {
	if len(job.SelectedModules) == 0 {
		return "", &ConfigurationError{Reason: "job has no modules selected for restore"}
	}

	restorePoint, err := r.history.FindLatestBackup(job.ID, models.StatusSuccess)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &NoRestorePointError{Reason: "job has no successful backup to restore from"}
		}
		return "", err
	}

	archivePath := DecodeArchivePath(restorePoint, r.archiveDir)
	if _, err := os.Stat(archivePath); err != nil {
		return "", &ArchiveMissingError{Path: archivePath}
	}

	arch, err := archive.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer arch.Close()

	client, _, err := r.connect(ctx, job)
	if err != nil {
		return "", err
	}

	results := make([]ModuleResult, 0, len(job.SelectedModules))
	failed := false
	for _, module := range job.SelectedModules {
		result := r.restoreModule(ctx, client, arch, module)
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", context.Canceled
		}
		results = append(results, result)
		if result.Status != ModuleCompleted && result.Status != ModuleSkippedNoFile {
			failed = true
		}
	}

	details := EncodeRestoreDetails(results)
	if failed {
		return details, ErrModulesFailed
	}
	return details, nil
}

func (r *Runner) restoreModule(ctx context.Context, client TransferClient, arch *archive.Archive, module string) ModuleResult {
	headers, err := arch.ListEntryHeaders(module)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return ModuleResult{Module: module, Status: ModuleSkippedNoFile}
		}
		return ModuleResult{Module: module, Status: ModuleFailed, Error: err.Error()}
	}

	entryName, _ := arch.FindEntry(module)
	data, err := arch.ReadEntryBytes(entryName)
	if err != nil {
		return ModuleResult{Module: module, Status: ModuleFailed, Error: err.Error()}
	}

	mappings := zoho.BuildFieldMappings(headers)
	if len(mappings) == 0 {
		return ModuleResult{Module: module, Status: ModuleFailed, Error: "no writable columns after excluding record ids"}
	}

	fileID, err := client.UploadCSV(ctx, data, module+".csv")
	if err != nil {
		return ModuleResult{Module: module, Status: ModuleFailed, Error: err.Error()}
	}

	operation, findBy := zoho.ChooseOperation(mappings)
	writeID, err := client.StartBulkWrite(ctx, module, fileID, mappings, operation, findBy)
	if err != nil {
		return ModuleResult{Module: module, Status: ModuleFailed, Error: err.Error()}
	}

	if err := client.WaitForBulkWrite(ctx, writeID); err != nil {
		var timeout *zoho.RemoteTimeoutError
		if errors.As(err, &timeout) {
			return ModuleResult{Module: module, Status: ModuleTimeout, RemoteJobID: writeID, Error: err.Error()}
		}
		return ModuleResult{Module: module, Status: ModuleFailed, RemoteJobID: writeID, Error: err.Error()}
	}

	return ModuleResult{Module: module, Status: ModuleCompleted, RemoteJobID: writeID}
}

// connect loads the job's connection, exchanges credentials and builds a
// transfer client for the run
func (r *Runner) connect(ctx context.Context, job *models.BackupJob) (TransferClient, *models.CRMConnection, error) {
	var conn models.CRMConnection
	err := r.db.First(&conn, "id = ?", job.ConnectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, &ConfigurationError{Reason: fmt.Sprintf("connection not found for job %s", job.ID)}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load connection: %w", err)
	}

	// The API domain is only populated by a completed OAuth exchange, so
	// its absence means the connection never authenticated or needs
	// re-auth. Fail fast rather than guess a regional endpoint.
	if conn.APIDomain == "" {
		return nil, nil, &ConfigurationError{
			Reason: fmt.Sprintf("API domain is missing for connection %s, please re-authenticate", conn.ID),
		}
	}

	accessToken, err := r.broker.Exchange(ctx, conn.RefreshToken)
	if err != nil {
		return nil, nil, err
	}

	client := r.newClient(conn.APIDomain, accessToken)
	client.ResolveOrg(ctx, r.cfg.GetString("zoho.org_id"))
	return client, &conn, nil
}
