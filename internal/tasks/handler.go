package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
)

// Handler adapts Steps to the queue runner, owning the operation state
// transitions that bracket step execution.
type Handler struct {
	steps  *Steps
	ops    repository.OperationRepository
	logger *slog.Logger
}

// NewHandler creates the queue handler.
func NewHandler(steps *Steps, ops repository.OperationRepository, logger *slog.Logger) *Handler {
	return &Handler{steps: steps, ops: ops, logger: logger.With("component", "tasks")}
}

// Execute runs the job's current step if its operation is still in progress.
// Jobs for finished operations are stale redeliveries and are dropped.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	op, err := h.ops.GetByID(ctx, job.OperationID)
	if err != nil {
		return fmt.Errorf("load operation %d: %w", job.OperationID, err)
	}
	if op == nil {
		h.logger.Warn("dropping job for missing operation", "operation_id", job.OperationID)
		return queue.ErrDiscard
	}
	if !op.InProgress() {
		h.logger.Info("dropping job for finished operation",
			"operation_id", job.OperationID, "state", op.State)
		return queue.ErrDiscard
	}
	return h.steps.Run(ctx, job)
}

// Advance surfaces the next step's description through last_operation.
func (h *Handler) Advance(ctx context.Context, job *queue.Job) error {
	return h.ops.SetStep(ctx, job.OperationID, Description(job.CurrentStep()))
}

// Complete marks the operation succeeded.
func (h *Handler) Complete(ctx context.Context, job *queue.Job) error {
	return h.ops.SetState(ctx, job.OperationID, models.StateSucceeded, "Complete!")
}

// Fail marks the operation failed. The stored description names the failed
// phase without leaking internals to the tenant.
func (h *Handler) Fail(ctx context.Context, job *queue.Job, cause error) error {
	h.logger.Error("operation failed",
		"operation_id", job.OperationID,
		"instance_id", job.InstanceID,
		"correlation_id", job.CorrelationID,
		"step", job.CurrentStep(),
		"error", cause,
	)
	description := fmt.Sprintf("%s failed", Description(job.CurrentStep()))
	return h.ops.SetState(ctx, job.OperationID, models.StateFailed, description)
}

var _ queue.Handler = (*Handler)(nil)
