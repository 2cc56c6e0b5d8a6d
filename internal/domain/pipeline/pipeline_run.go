package pipeline

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Trigger string

const (
	TriggerIngest      Trigger = "ingest"
	TriggerManual      Trigger = "manual"
	TriggerSchedule    Trigger = "schedule"
	TriggerRenormalize Trigger = "renormalize"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// PipelineRun is one queued or executing pass of the processing pipeline for
// one company. Workers claim runs with row locks; at most one run per
// company is ever running.
type PipelineRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"company_id"`
	Trigger     Trigger        `gorm:"column:trigger;not null" json:"trigger"`
	Status      RunStatus      `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;not null" json:"stage"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Stats       datatypes.JSON `gorm:"column:stats;type:jsonb" json:"stats,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (PipelineRun) TableName() string { return "pipeline_run" }
