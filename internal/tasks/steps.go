package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
)

// Steps executes individual pipeline steps against the database and the
// cloud adapters.
type Steps struct {
	instances repository.InstanceRepository
	certs     repository.CertificateRepository
	clouds    *cloud.Clients
	cfg       *config.Config
	logger    *slog.Logger

	// wafDeleteRetryInterval spaces the in-step retries of delete-web-acl.
	// Shortened in tests.
	wafDeleteRetryInterval time.Duration
}

// NewSteps creates the step executor.
func NewSteps(
	instances repository.InstanceRepository,
	certs repository.CertificateRepository,
	clouds *cloud.Clients,
	cfg *config.Config,
	logger *slog.Logger,
) *Steps {
	return &Steps{
		instances:              instances,
		certs:                  certs,
		clouds:                 clouds,
		cfg:                    cfg,
		logger:                 logger.With("component", "tasks"),
		wafDeleteRetryInterval: 30 * time.Second,
	}
}

// stepRun carries the loaded state one step execution works on.
type stepRun struct {
	job      *queue.Job
	instance *models.ServiceInstance
	logger   *slog.Logger
}

type stepFunc func(ctx context.Context, r *stepRun) error

// registry maps step names to their implementations.
func (s *Steps) registry() map[string]stepFunc {
	return map[string]stepFunc{
		StepRegisterACMEAccount: s.registerACMEAccount,
		StepCreateCertificate:   s.createCertificate,
		StepInitiateChallenges:  s.initiateChallenges,
		StepUpdateTXTRecords:    s.updateTXTRecords,
		StepAnswerChallenges:    s.answerChallenges,
		StepRetrieveCertificate: s.retrieveCertificate,
		StepUploadCertificate:   s.uploadCertificate,

		StepSelectALB:         s.selectALB,
		StepAttachCertificate: s.attachCertificate,

		StepCreateWebACL:        s.createWebACL,
		StepCreateDistribution:  s.createDistribution,
		StepUpdateDistribution:  s.updateDistribution,
		StepWaitForDistribution: s.waitForDistribution,
		StepSyncHealthChecks:    s.syncHealthChecks,
		StepAssociateShield:     s.associateShield,

		StepCreateAliasRecords:   s.createAliasRecords,
		StepActivateCertificate:  s.activateCertificate,
		StepRemoveOldCertificate: s.removeOldCertificate,

		StepRemoveAliasRecords:    s.removeAliasRecords,
		StepRemoveTXTRecords:      s.removeTXTRecords,
		StepDetachCertificate:     s.detachCertificate,
		StepDisableDistribution:   s.disableDistribution,
		StepWaitForDisabled:       s.waitForDisabled,
		StepDeleteDistribution:    s.deleteDistribution,
		StepDisassociateShield:    s.disassociateShield,
		StepDeleteHealthChecks:    s.deleteHealthChecks,
		StepDeleteWebACL:          s.deleteWebACL,
		StepDeleteIAMCertificates: s.deleteIAMCertificates,
		StepDeactivateInstance:    s.deactivateInstance,
	}
}

// Run executes the job's current step.
func (s *Steps) Run(ctx context.Context, job *queue.Job) error {
	fn, ok := s.registry()[job.CurrentStep()]
	if !ok {
		return queue.Unrecoverable(fmt.Errorf("unknown pipeline step %q", job.CurrentStep()))
	}

	instance, err := s.instances.GetByID(ctx, job.InstanceID)
	if err != nil {
		return fmt.Errorf("load instance %s: %w", job.InstanceID, err)
	}
	if instance == nil {
		return queue.Unrecoverable(fmt.Errorf("instance %s no longer exists", job.InstanceID))
	}

	return fn(ctx, &stepRun{
		job:      job,
		instance: instance,
		logger: s.logger.With(
			"operation_id", job.OperationID,
			"instance_id", job.InstanceID,
			"correlation_id", job.CorrelationID,
			"step", job.CurrentStep(),
		),
	})
}

// account returns the instance's stored ACME credentials.
func account(instance *models.ServiceInstance) cloud.Account {
	return cloud.Account{
		RegistrationJSON: instance.ACMERegistrationJSON,
		PrivateKeyPEM:    instance.ACMEPrivateKeyPEM,
	}
}

// newCertificate loads the certificate the operation is issuing.
func (s *Steps) newCertificate(ctx context.Context, r *stepRun) (*models.Certificate, error) {
	if r.instance.NewCertificateID == nil {
		return nil, queue.Unrecoverable(fmt.Errorf("instance %s has no certificate being issued", r.instance.ID))
	}
	cert, err := s.certs.GetByID(ctx, *r.instance.NewCertificateID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, queue.Unrecoverable(fmt.Errorf("certificate %d not found", *r.instance.NewCertificateID))
	}
	return cert, nil
}

// certStore picks the IAM path for the instance kind. CloudFront only serves
// certificates stored under its dedicated path.
func (s *Steps) certStore(instance *models.ServiceInstance) cloud.CertificateStore {
	if instance.Kind.IsCDN() {
		return s.clouds.CDNCertStore
	}
	return s.clouds.ALBCertStore
}
