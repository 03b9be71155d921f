package models

import "time"

// OperationAction is the user intent an operation executes.
type OperationAction string

const (
	ActionProvision   OperationAction = "provision"
	ActionDeprovision OperationAction = "deprovision"
	ActionUpdate      OperationAction = "update"
	ActionRenew       OperationAction = "renew"
)

// OperationState is the lifecycle state reported to the platform.
type OperationState string

const (
	StateInProgress OperationState = "in-progress"
	StateSucceeded  OperationState = "succeeded"
	StateFailed     OperationState = "failed"
)

// InitialStepDescription is the description every operation starts with,
// before the first pipeline step runs.
const InitialStepDescription = "Queuing tasks"

// Operation is one logical user intent whose execution is a task pipeline.
// Each pipeline step rewrites StepDescription; it is the tenant-visible
// diagnostic surfaced through last_operation.
type Operation struct {
	ID              int64
	InstanceID      string
	Action          OperationAction
	State           OperationState
	StepDescription string
	// CorrelationID threads from the originating platform request into
	// every log line the pipeline emits.
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InProgress reports whether the operation is still running.
func (o *Operation) InProgress() bool {
	return o.State == StateInProgress
}
