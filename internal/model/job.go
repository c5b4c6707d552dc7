package model

import (
	"encoding/json"
	"time"
)

// JobType 通知类型，决定派发到哪个发送操作
type JobType string

const (
	JobTypeConfirmation JobType = "confirmation"
	JobTypeReminder     JobType = "reminder"
	JobTypeCancellation JobType = "cancellation"
	JobTypeReschedule   JobType = "reschedule"
)

// Known reports whether t is a recognized notification kind.
func (t JobType) Known() bool {
	switch t {
	case JobTypeConfirmation, JobTypeReminder, JobTypeCancellation, JobTypeReschedule:
		return true
	}
	return false
}

// JobTypes returns all recognized notification kinds.
func JobTypes() []JobType {
	return []JobType{JobTypeConfirmation, JobTypeReminder, JobTypeCancellation, JobTypeReschedule}
}

// JobStatus 任务状态
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no automatic transition leaves this status.
// failed 仍可通过人工 Retry 回到 pending。
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority 任务优先级，Rank 小者先被领取
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Known reports whether p is a recognized priority level.
func (p Priority) Known() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank returns the claim ordering weight. Lower rank is served first.
func (p Priority) Rank() int16 {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// PriorityFromRank maps a stored rank back to its priority level.
// Unknown ranks normalize to normal.
func PriorityFromRank(rank int16) Priority {
	switch rank {
	case 0:
		return PriorityHigh
	case 2:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Job 一条待投递的通知任务，状态由队列引擎驱动
type Job struct {
	ID           string
	Type         JobType
	Recipient    string
	TenantID     string
	Priority     Priority
	Payload      json.RawMessage
	Status       JobStatus
	Attempts     int
	MaxAttempts  int
	ScheduledFor time.Time
	LastError    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
