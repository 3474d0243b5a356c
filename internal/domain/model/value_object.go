package model

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes for the workflow entities
const (
	PrefixTask     = "TASK-"
	PrefixPlan     = "PLAN-"
	PrefixDecision = "DEC-"
	PrefixResult   = "RES-"
	PrefixPattern  = "PAT-"
	PrefixArtifact = "ART-"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a new prefixed ULID
// Format: <prefix><ULID> (e.g., TASK-01JB6X8Y2K9FQR4T3VWHGP5M2C)
func NewID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return prefix + id.String()
}

// TaskType represents the kind of work a task describes
type TaskType string

const (
	TaskTypeFeature  TaskType = "feature"
	TaskTypeBugfix   TaskType = "bugfix"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeDocs     TaskType = "docs"
	TaskTypeTest     TaskType = "test"
	TaskTypeInfra    TaskType = "infra"
)

// String returns the string representation
func (t TaskType) String() string {
	return string(t)
}

// IsValid validates the task type
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeFeature, TaskTypeBugfix, TaskTypeRefactor, TaskTypeDocs, TaskTypeTest, TaskTypeInfra:
		return true
	default:
		return false
	}
}

// TaskStatus is the durable status column of a task row
type TaskStatus string

const (
	TaskStatusPending               TaskStatus = "pending"
	TaskStatusPlanning              TaskStatus = "planning"
	TaskStatusAwaitingHumanDecision TaskStatus = "awaiting_human_decision"
	TaskStatusApproved              TaskStatus = "approved"
	TaskStatusRejected              TaskStatus = "rejected"
	TaskStatusExecuting             TaskStatus = "executing"
	TaskStatusAwaitingVerification  TaskStatus = "awaiting_verification"
	TaskStatusCompleted             TaskStatus = "completed"
	TaskStatusFailed                TaskStatus = "failed"
)

// AllTaskStatuses lists every durable status in lifecycle order
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusPlanning,
	TaskStatusAwaitingHumanDecision,
	TaskStatusApproved,
	TaskStatusRejected,
	TaskStatusExecuting,
	TaskStatusAwaitingVerification,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// String returns the string representation
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid validates the status
func (s TaskStatus) IsValid() bool {
	for _, known := range AllTaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ErrEmptyID is returned when an entity is built without an identifier
var ErrEmptyID = errors.New("id cannot be empty")
