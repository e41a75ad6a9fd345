package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Schedule tags accepted on a backup job.
const (
	ScheduleDaily  = "daily"
	ScheduleWeekly = "weekly"
)

// Job history statuses.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// CRM type tags. Only Zoho CRM is supported today.
const (
	CRMTypeZoho = "zoho_crm"
)

// Client represents a portal account that owns CRM connections
type Client struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key" json:"client_id"`
	CompanyName      string    `gorm:"size:255;not null" json:"company_name"`
	Email            string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash     string    `gorm:"size:255;not null" json:"-"`
	TwoFactorEnabled bool      `gorm:"default:false" json:"two_factor_enabled"`
	TwoFactorSecret  string    `gorm:"size:32" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// Relations
	Connections []CRMConnection `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID primary key
func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CRMConnection represents one authorized link to a remote CRM tenant.
// At most one active (non-deleted) connection may exist per
// (client, crm type) pair; re-authorizing revives a soft-deleted row.
type CRMConnection struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key" json:"connection_id"`
	ClientID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"client_id"`
	CRMType        string         `gorm:"size:32;not null;default:'zoho_crm'" json:"crm_type"`
	ConnectionName string         `gorm:"size:255;not null" json:"connection_name"`
	RefreshToken   string         `gorm:"size:512;not null" json:"-"`
	// APIDomain is the endpoint root returned at authorization time. Zoho
	// accounts are geographically sharded, so it must be cached here; an
	// empty value means the connection never completed an OAuth exchange.
	APIDomain string         `gorm:"size:255" json:"api_domain"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Client Client      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Jobs   []BackupJob `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID primary key
func (c *CRMConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// BackupJob is a named, schedulable backup definition scoped to a connection
type BackupJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"job_id"`
	ConnectionID uuid.UUID `gorm:"type:uuid;index;not null" json:"connection_id"`
	JobName      string    `gorm:"size:255;not null" json:"job_name"`
	Schedule     string    `gorm:"size:16;not null" json:"schedule"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	// SelectedModules enumerates the remote data modules included on
	// restore. Backups always run a full-account export regardless.
	SelectedModules ModuleList     `gorm:"type:text" json:"selected_modules"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Connection CRMConnection `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	History    []JobHistory  `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID primary key
func (j *BackupJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// JobHistory is one execution record of a job. Entries are append-only:
// created in_progress and mutated exactly once to a terminal state. They
// form the audit trail and are the sole source of truth for "latest
// successful backup" during restore.
type JobHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key" json:"log_id"`
	JobID     uuid.UUID  `gorm:"type:uuid;index;not null" json:"job_id"`
	RunType   string     `gorm:"size:16;not null;default:'backup'" json:"run_type"`
	Status    string     `gorm:"size:16;index;not null" json:"status"`
	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	// Details holds the structured outcome payload: archive path and
	// remote job ids for backups, per-module results for restores, or an
	// error message. Legacy rows contain free text instead of JSON.
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `json:"created_at"`

	// Relations
	Job BackupJob `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID primary key
func (h *JobHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the entry has reached a terminal status
func (h *JobHistory) IsTerminal() bool {
	switch h.Status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllModels returns every model for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Client{},
		&CRMConnection{},
		&BackupJob{},
		&JobHistory{},
	}
}
