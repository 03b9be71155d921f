package tasks

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// fakeInstanceRepo satisfies repository.InstanceRepository for step tests;
// only GetByID and Update are exercised.
type fakeInstanceRepo struct {
	items   map[string]*models.ServiceInstance
	updates int
}

func newFakeInstanceRepo(instances ...*models.ServiceInstance) *fakeInstanceRepo {
	items := map[string]*models.ServiceInstance{}
	for _, i := range instances {
		items[i.ID] = i
	}
	return &fakeInstanceRepo{items: items}
}

func (f *fakeInstanceRepo) Create(_ context.Context, inst *models.ServiceInstance) error {
	f.items[inst.ID] = inst
	return nil
}

func (f *fakeInstanceRepo) GetByID(_ context.Context, id string) (*models.ServiceInstance, error) {
	return f.items[id], nil
}

func (f *fakeInstanceRepo) Update(_ context.Context, inst *models.ServiceInstance) error {
	f.items[inst.ID] = inst
	f.updates++
	return nil
}

func (f *fakeInstanceRepo) ListActive(_ context.Context) ([]*models.ServiceInstance, error) {
	return nil, nil
}

func (f *fakeInstanceRepo) FindDomainConflict(_ context.Context, _ []string, _ string) (string, error) {
	return "", nil
}

func (f *fakeInstanceRepo) ListRenewable(_ context.Context, _ time.Duration) ([]*models.ServiceInstance, error) {
	return nil, nil
}

// fakeFirewall fails DeleteWebACL with the lock error a configured number of
// times before succeeding.
type fakeFirewall struct {
	lockedFor   int
	deleteCalls int
}

func (f *fakeFirewall) CreateWebACL(_ context.Context, name, _ string) (string, string, error) {
	return "acl-id", "arn:aws:wafv2:::webacl/" + name, nil
}

func (f *fakeFirewall) DeleteWebACL(_ context.Context, _, _ string) error {
	f.deleteCalls++
	if f.deleteCalls <= f.lockedFor {
		return cloud.ErrWebACLLocked
	}
	return nil
}

func (f *fakeFirewall) PutLoggingConfiguration(_ context.Context, _, _ string) error {
	return nil
}

// fakeDNSHealthChecks records health check churn; record methods are unused
// in these tests.
type fakeDNSHealthChecks struct {
	nextID  int
	created []string
	deleted []string
}

func (f *fakeDNSHealthChecks) UpsertTXT(_ context.Context, _, _ string) error { return nil }
func (f *fakeDNSHealthChecks) DeleteTXT(_ context.Context, _, _ string) error { return nil }
func (f *fakeDNSHealthChecks) UpsertAlias(_ context.Context, _, _, _ string) error { return nil }
func (f *fakeDNSHealthChecks) DeleteAlias(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeDNSHealthChecks) CreateHealthCheck(_ context.Context, domain string) (string, error) {
	f.nextID++
	f.created = append(f.created, domain)
	return domain + "-hc", nil
}

func (f *fakeDNSHealthChecks) DeleteHealthCheck(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeCDN answers IsDeployed from a scripted sequence.
type fakeCDN struct {
	deployed []bool
	calls    int
}

func (f *fakeCDN) Create(_ context.Context, _ cloud.DistributionSpec) (cloud.Distribution, error) {
	return cloud.Distribution{}, nil
}
func (f *fakeCDN) Update(_ context.Context, _ string, _ cloud.DistributionSpec) error { return nil }
func (f *fakeCDN) Disable(_ context.Context, _ string) error { return nil }
func (f *fakeCDN) Delete(_ context.Context, _ string) error { return nil }

func (f *fakeCDN) IsDeployed(_ context.Context, _ string) (bool, error) {
	deployed := f.deployed[f.calls]
	f.calls++
	return deployed, nil
}

func testSteps(instances *fakeInstanceRepo, clouds *cloud.Clients) *Steps {
	cfg := &config.Config{}
	cfg.Broker.WAFRateLimitRuleGroupARN = "arn:aws:wafv2:::rulegroup/rate-limit"
	cfg.Broker.WAFLogGroupARN = "arn:aws:logs:::log-group/waf"
	return &Steps{
		instances:              instances,
		clouds:                 clouds,
		cfg:                    cfg,
		logger:                 slog.New(slog.DiscardHandler),
		wafDeleteRetryInterval: time.Millisecond,
	}
}

func wafInstance() *models.ServiceInstance {
	return &models.ServiceInstance{
		ID:   "i-1",
		Kind: models.KindCDNDedicatedWAF,
		DedicatedWAF: &models.DedicatedWAFState{
			WebACLID:   "acl-id",
			WebACLName: "i-1-dedicated-waf",
			WebACLARN:  "arn:aws:wafv2:::webacl/i-1-dedicated-waf",
		},
	}
}

func TestDeleteWebACLRetriesThroughLock(t *testing.T) {
	instance := wafInstance()
	repo := newFakeInstanceRepo(instance)
	firewall := &fakeFirewall{lockedFor: 1}
	s := testSteps(repo, &cloud.Clients{Firewall: firewall})

	err := s.deleteWebACL(context.Background(), &stepRun{
		instance: instance,
		logger:   s.logger,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, firewall.deleteCalls)
	assert.Empty(t, repo.items["i-1"].DedicatedWAF.WebACLID)
	assert.Empty(t, repo.items["i-1"].DedicatedWAF.WebACLARN)
}

func TestDeleteWebACLGivesUpOnPersistentLock(t *testing.T) {
	instance := wafInstance()
	repo := newFakeInstanceRepo(instance)
	firewall := &fakeFirewall{lockedFor: 100}
	s := testSteps(repo, &cloud.Clients{Firewall: firewall})

	err := s.deleteWebACL(context.Background(), &stepRun{
		instance: instance,
		logger:   s.logger,
	})
	require.Error(t, err)
	assert.True(t, queue.IsUnrecoverable(err))
	assert.Equal(t, wafDeleteAttempts, firewall.deleteCalls)
	assert.NotEmpty(t, instance.DedicatedWAF.WebACLID)
}

func TestDeleteWebACLNoopWithoutACL(t *testing.T) {
	instance := &models.ServiceInstance{ID: "i-1", Kind: models.KindCDN}
	repo := newFakeInstanceRepo(instance)
	firewall := &fakeFirewall{}
	s := testSteps(repo, &cloud.Clients{Firewall: firewall})

	err := s.deleteWebACL(context.Background(), &stepRun{instance: instance, logger: s.logger})
	require.NoError(t, err)
	assert.Zero(t, firewall.deleteCalls)
}

func TestSyncHealthChecksReconcilesDomainList(t *testing.T) {
	instance := wafInstance()
	instance.DomainNames = []string{"a.example.com", "c.example.com"}
	instance.DedicatedWAF.HealthChecks = []models.HealthCheck{
		{DomainName: "a.example.com", HealthCheckID: "a-hc"},
		{DomainName: "b.example.com", HealthCheckID: "b-hc"},
	}
	repo := newFakeInstanceRepo(instance)
	dns := &fakeDNSHealthChecks{}
	s := testSteps(repo, &cloud.Clients{DNS: dns})

	err := s.syncHealthChecks(context.Background(), &stepRun{instance: instance, logger: s.logger})
	require.NoError(t, err)

	assert.Equal(t, []string{"b-hc"}, dns.deleted)
	assert.Equal(t, []string{"c.example.com"}, dns.created)
	assert.Equal(t, []models.HealthCheck{
		{DomainName: "a.example.com", HealthCheckID: "a-hc"},
		{DomainName: "c.example.com", HealthCheckID: "c.example.com-hc"},
	}, instance.DedicatedWAF.HealthChecks)
}

func TestWaitForDistributionReschedulesUntilDeployed(t *testing.T) {
	instance := &models.ServiceInstance{
		ID:   "i-1",
		Kind: models.KindCDN,
		CDN:  &models.CDNState{DistributionID: "EDFDVBD6EXAMPLE"},
	}
	repo := newFakeInstanceRepo(instance)
	cdn := &fakeCDN{deployed: []bool{false, true}}
	s := testSteps(repo, &cloud.Clients{CDN: cdn})
	r := &stepRun{instance: instance, logger: s.logger}

	err := s.waitForDistribution(context.Background(), r)
	require.Error(t, err)
	delay, waiting := queue.WaitDelay(err)
	assert.True(t, waiting)
	assert.Equal(t, distributionPollInterval, delay)

	err = s.waitForDistribution(context.Background(), r)
	assert.NoError(t, err)
}
