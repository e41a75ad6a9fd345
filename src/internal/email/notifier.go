package email

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

// Notifier emails the owning client when one of their runs fails.
// Notification failures are logged and swallowed: a broken SMTP server
// must never affect job execution.
type Notifier struct {
	db     *gorm.DB
	mailer *Mailer
	logger *slog.Logger
}

// NewNotifier creates a failure notifier
func NewNotifier(db *gorm.DB, mailer *Mailer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{db: db, mailer: mailer, logger: logger}
}

// NotifyJobFailed sends a failure notice for a job run to the client
// that owns the job's connection
func (n *Notifier) NotifyJobFailed(job *models.BackupJob, runType, message string) {
	var conn models.CRMConnection
	if err := n.db.Unscoped().First(&conn, "id = ?", job.ConnectionID).Error; err != nil {
		n.logger.Warn("cannot notify, connection lookup failed", "job_id", job.ID, "error", err)
		return
	}

	var client models.Client
	if err := n.db.First(&client, "id = ?", conn.ClientID).Error; err != nil {
		n.logger.Warn("cannot notify, client lookup failed", "job_id", job.ID, "error", err)
		return
	}

	msg := &Message{
		ToEmail: client.Email,
		ToName:  client.CompanyName,
		Subject: fmt.Sprintf("CRM %s failed: %s", runType, job.JobName),
		BodyText: fmt.Sprintf(
			"The %s run for job %q on connection %q did not complete.\n\nReason: %s\n\nCheck the job history in the portal for details.",
			runType, job.JobName, conn.ConnectionName, message,
		),
	}

	if err := n.mailer.Send(msg); err != nil {
		n.logger.Warn("failed to send failure notification",
			"job_id", job.ID, "to", client.Email, "error", err)
		return
	}
	n.logger.Info("failure notification sent", "job_id", job.ID, "to", client.Email)
}
