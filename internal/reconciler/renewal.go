package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/ulid"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
	"github.com/cloud-gov/external-domain-broker/internal/tasks"
)

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// RenewalScheduler enqueues renew pipelines for instances whose current
// certificate is approaching expiry.
type RenewalScheduler struct {
	instances repository.InstanceRepository
	ops       repository.OperationRepository
	pipeline  Enqueuer
	cfg       *config.Config
	logger    *slog.Logger
}

// NewRenewalScheduler creates the scheduler.
func NewRenewalScheduler(
	instances repository.InstanceRepository,
	ops repository.OperationRepository,
	pipeline Enqueuer,
	cfg *config.Config,
	logger *slog.Logger,
) *RenewalScheduler {
	return &RenewalScheduler{
		instances: instances,
		ops:       ops,
		pipeline:  pipeline,
		cfg:       cfg,
		logger:    logger.With("component", "renewal"),
	}
}

// Sweep enqueues one renew operation for every instance whose certificate
// expires within the configured window. Instances already running an
// operation are left for the next sweep.
func (s *RenewalScheduler) Sweep(ctx context.Context) error {
	instances, err := s.instances.ListRenewable(ctx, s.cfg.Broker.RenewBefore)
	if err != nil {
		return fmt.Errorf("list renewable instances: %w", err)
	}
	for _, instance := range instances {
		if instance.Kind == models.KindMigration {
			continue
		}
		active, err := s.ops.HasActive(ctx, instance.ID)
		if err != nil {
			return err
		}
		if active {
			continue
		}
		if err := s.enqueueRenewal(ctx, instance); err != nil {
			s.logger.Error("scheduling renewal failed",
				"instance_id", instance.ID, "error", err)
		}
	}
	return nil
}

// Run sweeps on the given interval until the context is canceled.
func (s *RenewalScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("renewal sweep failed", "error", err)
			}
		}
	}
}

func (s *RenewalScheduler) enqueueRenewal(ctx context.Context, instance *models.ServiceInstance) error {
	correlationID := ulid.New()
	op := &models.Operation{
		InstanceID:      instance.ID,
		Action:          models.ActionRenew,
		State:           models.StateInProgress,
		StepDescription: models.InitialStepDescription,
		CorrelationID:   correlationID,
	}
	if err := s.ops.Create(ctx, op); err != nil {
		return err
	}
	job := &queue.Job{
		OperationID:   op.ID,
		InstanceID:    instance.ID,
		CorrelationID: correlationID,
		Steps:         tasks.RenewSteps(instance.Kind),
	}
	if err := s.pipeline.Enqueue(ctx, job); err != nil {
		return err
	}
	s.logger.Info("scheduled certificate renewal",
		"instance_id", instance.ID,
		"operation_id", op.ID,
		"correlation_id", correlationID,
	)
	return nil
}
