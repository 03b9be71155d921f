package broker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/tasks"
)

// fakeInstances is an in-memory InstanceRepository.
type fakeInstances struct {
	items    map[string]*models.ServiceInstance
	conflict string
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{items: map[string]*models.ServiceInstance{}}
}

func (f *fakeInstances) Create(_ context.Context, instance *models.ServiceInstance) error {
	f.items[instance.ID] = instance
	return nil
}

func (f *fakeInstances) GetByID(_ context.Context, id string) (*models.ServiceInstance, error) {
	return f.items[id], nil
}

func (f *fakeInstances) Update(_ context.Context, instance *models.ServiceInstance) error {
	f.items[instance.ID] = instance
	return nil
}

func (f *fakeInstances) ListActive(_ context.Context) ([]*models.ServiceInstance, error) {
	var out []*models.ServiceInstance
	for _, i := range f.items {
		if !i.IsDeactivated() {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeInstances) FindDomainConflict(_ context.Context, _ []string, _ string) (string, error) {
	return f.conflict, nil
}

func (f *fakeInstances) ListRenewable(_ context.Context, _ time.Duration) ([]*models.ServiceInstance, error) {
	return nil, nil
}

// fakeOps is an in-memory OperationRepository.
type fakeOps struct {
	items  map[int64]*models.Operation
	nextID int64
	active bool
}

func newFakeOps() *fakeOps {
	return &fakeOps{items: map[int64]*models.Operation{}}
}

func (f *fakeOps) Create(_ context.Context, op *models.Operation) error {
	f.nextID++
	op.ID = f.nextID
	f.items[op.ID] = op
	return nil
}

func (f *fakeOps) GetByID(_ context.Context, id int64) (*models.Operation, error) {
	return f.items[id], nil
}

func (f *fakeOps) GetForInstance(_ context.Context, instanceID string, id int64) (*models.Operation, error) {
	op := f.items[id]
	if op == nil || op.InstanceID != instanceID {
		return nil, nil
	}
	return op, nil
}

func (f *fakeOps) HasActive(_ context.Context, _ string) (bool, error) {
	return f.active, nil
}

func (f *fakeOps) SetStep(_ context.Context, id int64, description string) error {
	f.items[id].StepDescription = description
	return nil
}

func (f *fakeOps) SetState(_ context.Context, id int64, state models.OperationState, description string) error {
	f.items[id].State = state
	f.items[id].StepDescription = description
	return nil
}

// fakeEnqueuer records enqueued jobs.
type fakeEnqueuer struct {
	jobs []*queue.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job *queue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

// fakeResolver answers CNAME lookups from a fixed map; hosts not present
// resolve to the correct delegation target.
type fakeResolver struct {
	rootZone  string
	overrides map[string]string
}

func (f *fakeResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	if target, ok := f.overrides[host]; ok {
		return target, nil
	}
	return host + "." + f.rootZone + ".", nil
}

type brokerFixture struct {
	broker    *Broker
	instances *fakeInstances
	ops       *fakeOps
	pipeline  *fakeEnqueuer
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Broker.DefaultCloudFrontOrigin = "apps.internal.example.gov"
	cfg.Broker.CloudFrontHostedZoneID = "Z2FDTNDATAQYW2"
	cfg.Broker.DNSRootDomain = "external-domains.example.gov"

	instances := newFakeInstances()
	ops := newFakeOps()
	pipeline := &fakeEnqueuer{}
	cname := NewCNAMEValidator(&fakeResolver{rootZone: cfg.Broker.DNSRootDomain}, cfg.Broker.DNSRootDomain)
	logger := slog.New(slog.DiscardHandler)

	return &brokerFixture{
		broker:    New(instances, ops, pipeline, cname, cfg, logger),
		instances: instances,
		ops:       ops,
		pipeline:  pipeline,
	}
}

func TestProvisionRequiresAsync(t *testing.T) {
	f := newBrokerFixture(t)
	_, err := f.broker.Provision(context.Background(), "i-1", ALBPlanID, ProvisionParams{Domains: "example.com"}, false, "corr")
	assert.ErrorIs(t, err, brokererr.ErrAsyncRequired)
}

func TestProvisionRequiresDomains(t *testing.T) {
	f := newBrokerFixture(t)
	_, err := f.broker.Provision(context.Background(), "i-1", ALBPlanID, ProvisionParams{}, true, "corr")
	require.Error(t, err)
	be := brokererr.As(err)
	assert.Equal(t, 400, be.StatusCode)
}

func TestProvisionUnknownPlan(t *testing.T) {
	f := newBrokerFixture(t)
	_, err := f.broker.Provision(context.Background(), "i-1", "nope", ProvisionParams{Domains: "example.com"}, true, "corr")
	assert.ErrorIs(t, err, brokererr.ErrNotImplemented)
}

func TestProvisionALBNormalizesDomains(t *testing.T) {
	f := newBrokerFixture(t)

	opID, err := f.broker.Provision(context.Background(), "i-1", ALBPlanID,
		ProvisionParams{Domains: " Example.COM , www.example.com ,example.com"}, true, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "1", opID)

	instance := f.instances.items["i-1"]
	require.NotNil(t, instance)
	assert.Equal(t, models.KindALB, instance.Kind)
	assert.Equal(t, []string{"example.com", "www.example.com"}, instance.DomainNames)
	assert.Nil(t, instance.CDN)

	op := f.ops.items[1]
	require.NotNil(t, op)
	assert.Equal(t, models.ActionProvision, op.Action)
	assert.Equal(t, models.StateInProgress, op.State)
	assert.Equal(t, models.InitialStepDescription, op.StepDescription)

	require.Len(t, f.pipeline.jobs, 1)
	assert.Equal(t, tasks.ProvisionSteps(models.KindALB), f.pipeline.jobs[0].Steps)
	assert.Equal(t, "corr-1", f.pipeline.jobs[0].CorrelationID)
}

func TestProvisionCDNDefaults(t *testing.T) {
	f := newBrokerFixture(t)

	_, err := f.broker.Provision(context.Background(), "i-1", CDNPlanID,
		ProvisionParams{Domains: "example.com"}, true, "corr")
	require.NoError(t, err)

	cdn := f.instances.items["i-1"].CDN
	require.NotNil(t, cdn)
	assert.Equal(t, "apps.internal.example.gov", cdn.OriginHostname)
	assert.Equal(t, "", cdn.OriginPath)
	assert.Equal(t, models.CookiePolicyAll, cdn.ForwardCookiePolicy)
	assert.Equal(t, []string{}, cdn.ForwardedCookies)
	assert.Equal(t, []string{"HOST"}, cdn.ForwardedHeaders)
	assert.Equal(t, models.ProtocolPolicyHTTPS, cdn.OriginProtocolPolicy)
	assert.Equal(t, map[string]string{}, cdn.ErrorResponses)
}

func TestProvisionCDNCustomOriginSkipsHostHeader(t *testing.T) {
	f := newBrokerFixture(t)

	_, err := f.broker.Provision(context.Background(), "i-1", CDNPlanID,
		ProvisionParams{Domains: "example.com", Origin: strPtr("origin.example.org"), ForwardHeaders: strPtr("x-custom")}, true, "corr")
	require.NoError(t, err)

	cdn := f.instances.items["i-1"].CDN
	assert.Equal(t, "origin.example.org", cdn.OriginHostname)
	assert.Equal(t, []string{"X-CUSTOM"}, cdn.ForwardedHeaders)
}

func TestProvisionInsecureOriginRequiresExplicitOrigin(t *testing.T) {
	f := newBrokerFixture(t)

	_, err := f.broker.Provision(context.Background(), "i-1", CDNPlanID,
		ProvisionParams{Domains: "example.com", InsecureOrigin: true}, true, "corr")
	require.Error(t, err)
	assert.Equal(t, 400, brokererr.As(err).StatusCode)

	_, err = f.broker.Provision(context.Background(), "i-2", CDNPlanID,
		ProvisionParams{Domains: "example.org", InsecureOrigin: true, Origin: strPtr("origin.example.org")}, true, "corr")
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolPolicyHTTP, f.instances.items["i-2"].CDN.OriginProtocolPolicy)
}

func TestProvisionRejectsDuplicateInstance(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = &models.ServiceInstance{ID: "i-1"}

	_, err := f.broker.Provision(context.Background(), "i-1", ALBPlanID,
		ProvisionParams{Domains: "example.com"}, true, "corr")
	assert.ErrorIs(t, err, brokererr.ErrInstanceAlreadyExists)
}

func TestProvisionRejectsClaimedDomain(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.conflict = "example.com"

	_, err := f.broker.Provision(context.Background(), "i-1", ALBPlanID,
		ProvisionParams{Domains: "example.com"}, true, "corr")
	require.Error(t, err)
	assert.Contains(t, brokererr.As(err).Description, "example.com")
}

func albInstance(id string, domains ...string) *models.ServiceInstance {
	return &models.ServiceInstance{ID: id, Kind: models.KindALB, DomainNames: domains}
}

func cdnInstance(id string, domains ...string) *models.ServiceInstance {
	currentCert := int64(7)
	return &models.ServiceInstance{
		ID:                   id,
		Kind:                 models.KindCDN,
		DomainNames:          domains,
		CurrentCertificateID: &currentCert,
		CDN: &models.CDNState{
			OriginHostname:       "origin.example.org",
			ForwardCookiePolicy:  models.CookiePolicyAll,
			ForwardedCookies:     []string{},
			ForwardedHeaders:     []string{"HOST"},
			OriginProtocolPolicy: models.ProtocolPolicyHTTPS,
		},
	}
}

func TestUpdateALBSameDomainsIsNoop(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = albInstance("i-1", "example.com")

	async, opID, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Domains: strPtr("example.com")}, true, "corr")
	require.NoError(t, err)
	assert.False(t, async)
	assert.Empty(t, opID)
	assert.Empty(t, f.pipeline.jobs)
}

func TestUpdateALBNewDomainsIssuesCertificate(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = albInstance("i-1", "example.com")

	async, opID, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Domains: strPtr("example.com,www.example.com")}, true, "corr")
	require.NoError(t, err)
	assert.True(t, async)
	assert.Equal(t, "1", opID)

	require.Len(t, f.pipeline.jobs, 1)
	assert.Equal(t, tasks.UpdateSteps(models.KindALB, true), f.pipeline.jobs[0].Steps)
	assert.Contains(t, f.pipeline.jobs[0].Steps, tasks.StepCreateCertificate)
}

func TestUpdateCDNSameDomainsKeepsCertificate(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = cdnInstance("i-1", "example.com")

	async, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Domains: strPtr("example.com"), Path: strPtr("/assets")}, true, "corr")
	require.NoError(t, err)
	assert.True(t, async)

	instance := f.instances.items["i-1"]
	require.NotNil(t, instance.NewCertificateID)
	assert.Equal(t, *instance.CurrentCertificateID, *instance.NewCertificateID)
	assert.Equal(t, "/assets", instance.CDN.OriginPath)

	require.Len(t, f.pipeline.jobs, 1)
	steps := f.pipeline.jobs[0].Steps
	assert.NotContains(t, steps, tasks.StepCreateCertificate)
	assert.Contains(t, steps, tasks.StepUpdateDistribution)
}

func TestUpdateCDNSettingsOnlyStillRunsPipeline(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = cdnInstance("i-1", "example.com")

	async, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{ForwardCookies: strPtr("")}, true, "corr")
	require.NoError(t, err)
	assert.True(t, async)
	assert.Equal(t, models.CookiePolicyNone, f.instances.items["i-1"].CDN.ForwardCookiePolicy)
	require.Len(t, f.pipeline.jobs, 1)
}

func TestUpdateCDNOriginResetRestoresDefault(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = cdnInstance("i-1", "example.com")

	_, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Origin: strPtr("")}, true, "corr")
	require.NoError(t, err)

	cdn := f.instances.items["i-1"].CDN
	assert.Equal(t, "apps.internal.example.gov", cdn.OriginHostname)
	assert.Contains(t, cdn.ForwardedHeaders, "HOST")
}

func TestUpdateCDNInsecureOriginRejectedOnDefaultOrigin(t *testing.T) {
	f := newBrokerFixture(t)
	instance := cdnInstance("i-1", "example.com")
	instance.CDN.OriginHostname = "apps.internal.example.gov"
	f.instances.items["i-1"] = instance

	insecure := true
	_, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{InsecureOrigin: &insecure}, true, "corr")
	require.Error(t, err)
	assert.Contains(t, brokererr.As(err).Description, "insecure_origin")
}

func TestUpdateRejectsDeactivatedInstance(t *testing.T) {
	f := newBrokerFixture(t)
	now := time.Now()
	instance := albInstance("i-1", "example.com")
	instance.DeactivatedAt = &now
	f.instances.items["i-1"] = instance

	_, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Domains: strPtr("example.org")}, true, "corr")
	require.Error(t, err)
	assert.Contains(t, brokererr.As(err).Description, "canceled")
}

func TestUpdateRejectsActiveOperation(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = albInstance("i-1", "example.com")
	f.ops.active = true

	_, _, err := f.broker.Update(context.Background(), "i-1",
		UpdateParams{Domains: strPtr("example.org")}, true, "corr")
	require.Error(t, err)
	assert.Contains(t, brokererr.As(err).Description, "active operation")
}

func TestDeprovision(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = albInstance("i-1", "example.com")

	opID, err := f.broker.Deprovision(context.Background(), "i-1", true, "corr")
	require.NoError(t, err)
	assert.Equal(t, "1", opID)
	require.Len(t, f.pipeline.jobs, 1)
	assert.Equal(t, tasks.DeprovisionSteps(models.KindALB), f.pipeline.jobs[0].Steps)

	_, err = f.broker.Deprovision(context.Background(), "missing", true, "corr")
	assert.ErrorIs(t, err, brokererr.ErrInstanceDoesNotExist)
}

func TestLastOperation(t *testing.T) {
	f := newBrokerFixture(t)
	f.instances.items["i-1"] = albInstance("i-1", "example.com")
	_, err := f.broker.Deprovision(context.Background(), "i-1", true, "corr")
	require.NoError(t, err)

	op, err := f.broker.LastOperation(context.Background(), "i-1", "1")
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, op.State)

	_, err = f.broker.LastOperation(context.Background(), "missing", "1")
	assert.ErrorIs(t, err, brokererr.ErrInstanceDoesNotExist)

	_, err = f.broker.LastOperation(context.Background(), "i-1", "")
	assert.Equal(t, 400, brokererr.As(err).StatusCode)

	_, err = f.broker.LastOperation(context.Background(), "i-1", "999")
	assert.Equal(t, 400, brokererr.As(err).StatusCode)

	_, err = f.broker.LastOperation(context.Background(), "i-1", "not-a-number")
	assert.Equal(t, 400, brokererr.As(err).StatusCode)
}

func TestCNAMEValidatorRejectsWrongTarget(t *testing.T) {
	resolver := &fakeResolver{
		rootZone: "external-domains.example.gov",
		overrides: map[string]string{
			"_acme-challenge.bad.example.com": "somewhere-else.example.net.",
		},
	}
	v := NewCNAMEValidator(resolver, "external-domains.example.gov")

	err := v.Validate(context.Background(), []string{"good.example.com"})
	assert.NoError(t, err)

	err = v.Validate(context.Background(), []string{"bad.example.com"})
	require.Error(t, err)
	assert.Contains(t, brokererr.As(err).Description, "_acme-challenge.bad.example.com")
}
