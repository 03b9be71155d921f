// Package broker implements the Open Service Broker operations: catalog,
// provision, update, deprovision, and last_operation. Mutating operations
// are asynchronous; they persist an operation row, enqueue its pipeline, and
// hand the operation id back for polling.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
	"github.com/cloud-gov/external-domain-broker/internal/tasks"
)

// Enqueuer is the queue surface the broker needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// Broker carries the dependencies of the OSB operations.
type Broker struct {
	instances repository.InstanceRepository
	ops       repository.OperationRepository
	pipeline  Enqueuer
	cname     *CNAMEValidator
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates the broker service.
func New(
	instances repository.InstanceRepository,
	ops repository.OperationRepository,
	pipeline Enqueuer,
	cname *CNAMEValidator,
	cfg *config.Config,
	logger *slog.Logger,
) *Broker {
	return &Broker{
		instances: instances,
		ops:       ops,
		pipeline:  pipeline,
		cname:     cname,
		cfg:       cfg,
		logger:    logger.With("component", "broker"),
	}
}

// Provision creates a service instance and starts its pipeline, returning
// the operation id to poll.
func (b *Broker) Provision(ctx context.Context, instanceID, planID string, params ProvisionParams, acceptsIncomplete bool, correlationID string) (string, error) {
	logger := b.logger.With("instance_id", instanceID, "correlation_id", correlationID)
	logger.Info("starting provision request", "plan_id", planID)

	if !acceptsIncomplete {
		return "", brokererr.ErrAsyncRequired
	}

	kind, err := planKind(planID)
	if err != nil {
		return "", err
	}

	existing, err := b.instances.GetByID(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", brokererr.ErrInstanceAlreadyExists
	}

	if params.Domains == "" {
		return "", brokererr.BadRequest("'domains' parameter required.")
	}
	domains := models.NormalizeDomains(params.Domains)
	if len(domains) == 0 {
		return "", brokererr.BadRequest("'domains' parameter required.")
	}

	logger.Info("validating CNAMEs")
	if err := b.cname.Validate(ctx, domains); err != nil {
		return "", err
	}
	logger.Info("validating unique domains")
	if err := ValidateUniqueDomains(ctx, b.instances, domains, ""); err != nil {
		return "", err
	}

	instance := &models.ServiceInstance{
		ID:          instanceID,
		Kind:        kind,
		DomainNames: domains,
	}
	if kind.IsCDN() {
		cdn, err := b.cdnStateFromProvision(params)
		if err != nil {
			return "", err
		}
		instance.CDN = cdn
		instance.Route53AliasHostedZone = b.cfg.Broker.CloudFrontHostedZoneID
	}

	if err := b.instances.Create(ctx, instance); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	return b.startOperation(ctx, instance, models.ActionProvision, tasks.ProvisionSteps(kind), correlationID)
}

// Update applies the requested changes and starts the update pipeline. The
// returned async flag is false when nothing needed doing; the operation id
// is empty in that case.
func (b *Broker) Update(ctx context.Context, instanceID string, params UpdateParams, acceptsIncomplete bool, correlationID string) (bool, string, error) {
	if !acceptsIncomplete {
		return false, "", brokererr.ErrAsyncRequired
	}

	instance, err := b.instances.GetByID(ctx, instanceID)
	if err != nil {
		return false, "", err
	}
	if instance == nil {
		return false, "", brokererr.BadRequest("Service instance does not exist")
	}
	if instance.IsDeactivated() {
		return false, "", brokererr.BadRequest("Cannot update instance because it was already canceled")
	}
	active, err := b.ops.HasActive(ctx, instanceID)
	if err != nil {
		return false, "", err
	}
	if active {
		return false, "", brokererr.BadRequest("Instance has an active operation in progress")
	}

	var domains []string
	if params.Domains != nil {
		domains = models.NormalizeDomains(*params.Domains)
	}

	noop := true
	sameDomains := false
	if len(domains) > 0 {
		if err := b.cname.Validate(ctx, domains); err != nil {
			return false, "", err
		}
		if err := ValidateUniqueDomains(ctx, b.instances, domains, instance.ID); err != nil {
			return false, "", err
		}
		sameDomains = instance.HasSameDomains(domains)
		noop = sameDomains
		instance.DomainNames = domains
	}

	issueCert := !noop && len(domains) > 0
	if instance.Kind.IsCDN() {
		// CDN updates always run the pipeline: settings may change even
		// when the domain list did not, and the pipeline reissues the
		// certificate unless told to keep the current one.
		noop = false
		issueCert = true
		if len(domains) > 0 && sameDomains {
			instance.NewCertificateID = instance.CurrentCertificateID
			issueCert = false
		}
		if err := b.applyCDNUpdate(instance, params); err != nil {
			return false, "", err
		}
	}
	if noop {
		return false, "", nil
	}

	if issueCert {
		instance.NewCertificateID = nil
	}
	if err := b.instances.Update(ctx, instance); err != nil {
		return false, "", fmt.Errorf("update instance: %w", err)
	}

	opID, err := b.startOperation(ctx, instance, models.ActionUpdate,
		tasks.UpdateSteps(instance.Kind, issueCert), correlationID)
	if err != nil {
		return false, "", err
	}
	return true, opID, nil
}

// Deprovision starts the teardown pipeline.
func (b *Broker) Deprovision(ctx context.Context, instanceID string, acceptsIncomplete bool, correlationID string) (string, error) {
	if !acceptsIncomplete {
		return "", brokererr.ErrAsyncRequired
	}
	instance, err := b.instances.GetByID(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if instance == nil {
		return "", brokererr.ErrInstanceDoesNotExist
	}
	return b.startOperation(ctx, instance, models.ActionDeprovision,
		tasks.DeprovisionSteps(instance.Kind), correlationID)
}

// LastOperation reports the state of one operation for polling.
func (b *Broker) LastOperation(ctx context.Context, instanceID, operationData string) (*models.Operation, error) {
	instance, err := b.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, brokererr.ErrInstanceDoesNotExist
	}
	if operationData == "" {
		return nil, brokererr.BadRequest("Missing operation ID")
	}
	opID, err := strconv.ParseInt(operationData, 10, 64)
	if err != nil {
		return nil, brokererr.BadRequest("Invalid operation id %s for service %s", operationData, instanceID)
	}
	op, err := b.ops.GetForInstance(ctx, instanceID, opID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, brokererr.BadRequest("Invalid operation id %s for service %s", operationData, instanceID)
	}
	return op, nil
}

// startOperation persists the operation row and enqueues its pipeline.
func (b *Broker) startOperation(ctx context.Context, instance *models.ServiceInstance, action models.OperationAction, steps []string, correlationID string) (string, error) {
	op := &models.Operation{
		InstanceID:      instance.ID,
		Action:          action,
		State:           models.StateInProgress,
		StepDescription: models.InitialStepDescription,
		CorrelationID:   correlationID,
	}
	if err := b.ops.Create(ctx, op); err != nil {
		return "", fmt.Errorf("create operation: %w", err)
	}

	job := &queue.Job{
		OperationID:   op.ID,
		InstanceID:    instance.ID,
		CorrelationID: correlationID,
		Steps:         steps,
	}
	if err := b.pipeline.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue pipeline: %w", err)
	}
	b.logger.Info("queued pipeline",
		"instance_id", instance.ID,
		"operation_id", op.ID,
		"action", action,
		"correlation_id", correlationID,
	)
	return strconv.FormatInt(op.ID, 10), nil
}

// cdnStateFromProvision builds the CDN settings for a new instance,
// applying the documented defaults for everything the request omitted.
func (b *Broker) cdnStateFromProvision(params ProvisionParams) (*models.CDNState, error) {
	origin := b.cfg.Broker.DefaultCloudFrontOrigin
	if params.Origin != nil && *params.Origin != "" {
		origin = *params.Origin
	}
	path := ""
	if params.Path != nil {
		path = *params.Path
	}

	cookiePolicy, cookies := ParseCookieOptions(params.ForwardCookies)
	headers := ParseHeaderOptions(params.ForwardHeaders)
	if origin == b.cfg.Broker.DefaultCloudFrontOrigin {
		headers = append(headers, "HOST")
	}
	headers = NormalizeHeaders(headers)

	protocol := models.ProtocolPolicyHTTPS
	if params.InsecureOrigin {
		if params.Origin == nil {
			return nil, brokererr.BadRequest("'insecure_origin' cannot be set when using the default origin.")
		}
		protocol = models.ProtocolPolicyHTTP
	}

	errorResponses := params.ErrorResponses
	if errorResponses == nil {
		errorResponses = map[string]string{}
	}
	return &models.CDNState{
		OriginHostname:       origin,
		OriginPath:           path,
		ForwardCookiePolicy:  cookiePolicy,
		ForwardedCookies:     cookies,
		ForwardedHeaders:     headers,
		OriginProtocolPolicy: protocol,
		ErrorResponses:       errorResponses,
	}, nil
}

// applyCDNUpdate folds the update parameters into the stored CDN settings.
// Only parameters the request named are touched; present-but-empty resets
// origin and path to their defaults.
func (b *Broker) applyCDNUpdate(instance *models.ServiceInstance, params UpdateParams) error {
	cdn := instance.CDN

	if params.Origin != nil {
		if *params.Origin != "" {
			cdn.OriginHostname = *params.Origin
		} else {
			cdn.OriginHostname = b.cfg.Broker.DefaultCloudFrontOrigin
		}
	}
	if params.Path != nil {
		cdn.OriginPath = *params.Path
	}
	if params.ForwardCookies != nil {
		cdn.ForwardCookiePolicy, cdn.ForwardedCookies = ParseCookieOptions(params.ForwardCookies)
	}

	headers := cdn.ForwardedHeaders
	if params.ForwardHeaders != nil {
		headers = ParseHeaderOptions(params.ForwardHeaders)
	}
	if cdn.OriginHostname == b.cfg.Broker.DefaultCloudFrontOrigin {
		headers = append(headers, "HOST")
	}
	cdn.ForwardedHeaders = NormalizeHeaders(headers)

	if params.InsecureOrigin != nil {
		protocol := models.ProtocolPolicyHTTPS
		if *params.InsecureOrigin {
			if cdn.OriginHostname == b.cfg.Broker.DefaultCloudFrontOrigin {
				return brokererr.BadRequest("Cannot use insecure_origin with default origin")
			}
			protocol = models.ProtocolPolicyHTTP
		}
		cdn.OriginProtocolPolicy = protocol
	}
	if params.ErrorResponses != nil {
		cdn.ErrorResponses = *params.ErrorResponses
	}
	return nil
}
