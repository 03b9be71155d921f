package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
)

func TestCatalog(t *testing.T) {
	f := newBrokerFixture(t)
	catalog := f.broker.Catalog()

	require.Len(t, catalog.Services, 1)
	svc := catalog.Services[0]
	assert.Equal(t, ServiceID, svc.ID)
	assert.Equal(t, "external-domain", svc.Name)
	assert.False(t, svc.Bindable)

	require.Len(t, svc.Plans, 3)
	names := map[string]string{}
	for _, plan := range svc.Plans {
		names[plan.ID] = plan.Name
	}
	assert.Equal(t, "domain", names[ALBPlanID])
	assert.Equal(t, "domain-with-cdn", names[CDNPlanID])
	assert.Equal(t, "domain-with-cdn-dedicated-waf", names[CDNDedicatedWAFPlanID])
}

func TestPlanKind(t *testing.T) {
	kind, err := planKind(ALBPlanID)
	require.NoError(t, err)
	assert.Equal(t, models.KindALB, kind)

	kind, err = planKind(CDNPlanID)
	require.NoError(t, err)
	assert.Equal(t, models.KindCDN, kind)

	kind, err = planKind(CDNDedicatedWAFPlanID)
	require.NoError(t, err)
	assert.Equal(t, models.KindCDNDedicatedWAF, kind)

	_, err = planKind("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, brokererr.ErrNotImplemented)
}
