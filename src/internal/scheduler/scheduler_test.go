package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
	"github.com/crmvault/crmvault/src/internal/zoho"
)

type fakeBroker struct{}

func (fakeBroker) Exchange(ctx context.Context, refreshToken string) (string, error) {
	return "access-token", nil
}

// fakeTransfer completes every export instantly and counts runs
type fakeTransfer struct {
	runs int32
}

func (f *fakeTransfer) ResolveOrg(ctx context.Context, override string) {}

func (f *fakeTransfer) StartExport(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.runs, 1)
	return "exp-1", nil
}

func (f *fakeTransfer) WaitForExport(ctx context.Context, jobID string) (string, error) {
	return "https://dl.example.com/a.zip", nil
}

func (f *fakeTransfer) DownloadExport(ctx context.Context, downloadURL, destPath string) error {
	return nil
}

func (f *fakeTransfer) UploadCSV(ctx context.Context, data []byte, filename string) (string, error) {
	return "file-1", nil
}

func (f *fakeTransfer) StartBulkWrite(ctx context.Context, module, fileID string, mappings []zoho.FieldMapping, operation, findBy string) (string, error) {
	return "write-1", nil
}

func (f *fakeTransfer) WaitForBulkWrite(ctx context.Context, jobID string) error {
	return nil
}

type fixture struct {
	db       *gorm.DB
	cfg      *viper.Viper
	sched    *Scheduler
	transfer *fakeTransfer
	jobs     *services.JobService
	conn     *models.CRMConnection
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	cfg := viper.New()
	cfg.Set("backup.archive_dir", t.TempDir())
	cfg.Set("scheduler.hour", 2)
	cfg.Set("scheduler.weekly_day", 0)

	client := &models.Client{CompanyName: "Acme", Email: "acme@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(client).Error)
	conn := &models.CRMConnection{
		ClientID:       client.ID,
		CRMType:        models.CRMTypeZoho,
		ConnectionName: "Zoho CRM",
		RefreshToken:   "refresh",
		APIDomain:      "https://www.zohoapis.com",
	}
	require.NoError(t, db.Create(conn).Error)

	transfer := &fakeTransfer{}
	runner := backup.NewRunner(db, cfg, fakeBroker{},
		func(apiDomain, accessToken string) backup.TransferClient { return transfer }, nil)

	return &fixture{
		db:       db,
		cfg:      cfg,
		sched:    NewScheduler(db, cfg, runner, nil),
		transfer: transfer,
		jobs:     services.NewJobService(db),
		conn:     conn,
	}
}

func TestRunAllActiveJobs(t *testing.T) {
	f := setup(t)

	_, err := f.jobs.Create(f.conn.ID, "daily-a", models.ScheduleDaily, nil)
	require.NoError(t, err)
	_, err = f.jobs.Create(f.conn.ID, "weekly-a", models.ScheduleWeekly, nil)
	require.NoError(t, err)

	inactive, err := f.jobs.Create(f.conn.ID, "disabled", models.ScheduleDaily, nil)
	require.NoError(t, err)
	_, err = f.jobs.Update(inactive.ID, inactive.JobName, inactive.Schedule, nil, false)
	require.NoError(t, err)

	require.NoError(t, f.sched.RunAllActiveJobs())

	// Both active jobs ran regardless of schedule; the inactive one didn't
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.transfer.runs))

	var count int64
	require.NoError(t, f.db.Model(&models.JobHistory{}).
		Where("status = ?", models.StatusSuccess).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestRunDueWeeklyFiltering(t *testing.T) {
	f := setup(t)

	_, err := f.jobs.Create(f.conn.ID, "daily-a", models.ScheduleDaily, nil)
	require.NoError(t, err)
	_, err = f.jobs.Create(f.conn.ID, "weekly-a", models.ScheduleWeekly, nil)
	require.NoError(t, err)

	// A Saturday: only the daily job is due
	saturday := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())
	f.sched.runDue(saturday)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.transfer.runs))

	// A Sunday: both run
	sunday := time.Date(2024, 3, 17, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())
	f.sched.runDue(sunday)
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.transfer.runs))
}

func TestNextRun(t *testing.T) {
	f := setup(t)

	t.Run("BeforeTriggerHourSameDay", func(t *testing.T) {
		now := time.Date(2024, 3, 16, 1, 30, 0, 0, time.UTC)
		next := f.sched.nextRun(now)
		assert.Equal(t, time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("AfterTriggerHourNextDay", func(t *testing.T) {
		now := time.Date(2024, 3, 16, 14, 0, 0, 0, time.UTC)
		next := f.sched.nextRun(now)
		assert.Equal(t, time.Date(2024, 3, 17, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("ExactlyAtTriggerGoesToNextDay", func(t *testing.T) {
		now := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
		next := f.sched.nextRun(now)
		assert.Equal(t, time.Date(2024, 3, 17, 2, 0, 0, 0, time.UTC), next)
	})
}

func TestStartStop(t *testing.T) {
	f := setup(t)
	f.sched.Start()
	f.sched.Stop()
}
