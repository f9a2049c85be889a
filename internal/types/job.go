package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

type Job struct {
	JobID       uuid.UUID      `gorm:"type:uuid;primaryKey;column:job_id" json:"job_id"`
	VantageID   string         `gorm:"column:vantage_id;not null;index" json:"vantage_id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Priority    int            `gorm:"column:priority;not null;default:50;index" json:"priority"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	ScheduledAt time.Time      `gorm:"column:scheduled_at;not null;index" json:"scheduled_at"`
	LockedBy    string         `gorm:"column:locked_by" json:"locked_by"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	LastError   string         `gorm:"column:last_error" json:"last_error"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "vantage_initiator.job" }

type JobRun struct {
	RunID        uuid.UUID      `gorm:"type:uuid;primaryKey;column:run_id" json:"run_id"`
	JobID        uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	WorkerID     string         `gorm:"column:worker_id;not null" json:"worker_id"`
	StartedAt    time.Time      `gorm:"column:started_at;not null;default:now()" json:"started_at"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	BeforeDrives datatypes.JSON `gorm:"type:jsonb;column:before_drives" json:"before_drives"`
	AfterDrives  datatypes.JSON `gorm:"type:jsonb;column:after_drives" json:"after_drives"`
	Outcome      datatypes.JSON `gorm:"type:jsonb;column:outcome" json:"outcome"`
	Error        string         `gorm:"column:error" json:"error"`
}

func (JobRun) TableName() string { return "vantage_initiator.job_run" }

type DriveSnapshot struct {
	SnapshotID uuid.UUID      `gorm:"type:uuid;primaryKey;column:snapshot_id" json:"snapshot_id"`
	VantageID  string         `gorm:"column:vantage_id;not null;index" json:"vantage_id"`
	Drives     datatypes.JSON `gorm:"type:jsonb;column:drives;not null" json:"drives"`
	Notes      string         `gorm:"column:notes" json:"notes"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (DriveSnapshot) TableName() string { return "vantage_initiator.drive_snapshot" }

type ControllerConfig struct {
	VantageID          string         `gorm:"column:vantage_id;primaryKey" json:"vantage_id"`
	Enabled            bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	TickSeconds        int            `gorm:"column:tick_seconds;not null;default:30" json:"tick_seconds"`
	MaxJobsPerTick     int            `gorm:"column:max_jobs_per_tick;not null;default:3" json:"max_jobs_per_tick"`
	MaxRunningJobs     int            `gorm:"column:max_running_jobs;not null;default:2" json:"max_running_jobs"`
	DailyCostBudgetUSD float64        `gorm:"column:daily_cost_budget_usd;not null;default:0" json:"daily_cost_budget_usd"`
	AllowedJobTypes    datatypes.JSON `gorm:"type:jsonb;column:allowed_job_types" json:"allowed_job_types"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ControllerConfig) TableName() string { return "vantage_initiator.controller_config" }
