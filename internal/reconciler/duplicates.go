// Package reconciler contains the maintenance sweeps the worker runs next
// to the pipeline: pruning duplicate ALB certificates left behind by
// interrupted rotations, and scheduling certificate renewals.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
)

// Reconciler carries the dependencies of the maintenance sweeps.
type Reconciler struct {
	instances repository.InstanceRepository
	certs     repository.CertificateRepository
	lb        cloud.LoadBalancer
	store     cloud.CertificateStore
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates the reconciler.
func New(
	instances repository.InstanceRepository,
	certs repository.CertificateRepository,
	lb cloud.LoadBalancer,
	store cloud.CertificateStore,
	cfg *config.Config,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		instances: instances,
		certs:     certs,
		lb:        lb,
		store:     store,
		cfg:       cfg,
		logger:    logger.With("component", "reconciler"),
	}
}

// MatchListenersForCerts finds, for each certificate ARN, the listener it is
// attached to. Listener lookups stop as soon as every ARN has been located,
// so when the first listener holds them all exactly one query is made.
func (r *Reconciler) MatchListenersForCerts(ctx context.Context, certARNs []string) (map[string]string, error) {
	matches := make(map[string]string, len(certARNs))
	remaining := make(map[string]struct{}, len(certARNs))
	for _, arn := range certARNs {
		remaining[arn] = struct{}{}
	}

	for _, listenerARN := range r.cfg.Broker.ALBListenerARNs {
		if len(remaining) == 0 {
			break
		}
		attached, err := r.lb.ListenerCertificates(ctx, listenerARN)
		if err != nil {
			return nil, err
		}
		for _, arn := range attached {
			if _, ok := remaining[arn]; !ok {
				continue
			}
			matches[arn] = listenerARN
			delete(remaining, arn)
		}
	}
	return matches, nil
}

// FixDuplicateALBCerts removes every certificate of the instance other than
// its current one: detached from whichever listener holds it, deleted from
// IAM, and its row dropped. Returns the ids it removed, ascending.
func (r *Reconciler) FixDuplicateALBCerts(ctx context.Context, instance *models.ServiceInstance) ([]int64, error) {
	duplicates, err := r.certs.DuplicatesForInstance(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	if len(duplicates) == 0 {
		return nil, nil
	}

	var arns []string
	for _, cert := range duplicates {
		if cert.Uploaded() {
			arns = append(arns, cert.IAMServerCertificateARN)
		}
	}
	matches, err := r.MatchListenersForCerts(ctx, arns)
	if err != nil {
		return nil, err
	}

	var removed []int64
	for _, cert := range duplicates {
		if listenerARN, ok := matches[cert.IAMServerCertificateARN]; ok {
			if err := r.lb.RemoveListenerCertificate(ctx, listenerARN, cert.IAMServerCertificateARN); err != nil {
				return removed, err
			}
		}
		if cert.Uploaded() {
			if err := r.store.Delete(ctx, cert.IAMServerCertificateName); err != nil {
				return removed, err
			}
		}
		if err := r.certs.DeleteByIDs(ctx, []int64{cert.ID}); err != nil {
			return removed, err
		}
		removed = append(removed, cert.ID)
		r.logger.Info("removed duplicate certificate",
			"instance_id", instance.ID, "certificate_id", cert.ID)
	}
	return removed, nil
}

// SweepDuplicates runs FixDuplicateALBCerts across every active ALB
// instance.
func (r *Reconciler) SweepDuplicates(ctx context.Context) error {
	instances, err := r.instances.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, instance := range instances {
		if instance.Kind != models.KindALB {
			continue
		}
		if _, err := r.FixDuplicateALBCerts(ctx, instance); err != nil {
			r.logger.Error("duplicate sweep failed",
				"instance_id", instance.ID, "error", err)
		}
	}
	return nil
}
