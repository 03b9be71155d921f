package cloud

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() DistributionSpec {
	return DistributionSpec{
		InstanceID:           "i-1",
		DomainNames:          []string{"example.com", "www.example.com"},
		OriginHostname:       "origin.example.org",
		OriginPath:           "/site",
		OriginProtocolPolicy: "https-only",
		ForwardCookiePolicy:  "all",
		ForwardedCookies:     []string{},
		ForwardedHeaders:     []string{"HOST"},
		IAMCertificateID:     "ASCAEXAMPLE",
	}
}

func TestDistributionConfig(t *testing.T) {
	cfg := distributionConfig(testSpec(), "caller-ref", true)

	assert.Equal(t, "caller-ref", aws.ToString(cfg.CallerReference))
	assert.True(t, aws.ToBool(cfg.Enabled))
	assert.Equal(t, int32(2), aws.ToInt32(cfg.Aliases.Quantity))
	assert.Equal(t, []string{"example.com", "www.example.com"}, cfg.Aliases.Items)

	require.Len(t, cfg.Origins.Items, 1)
	origin := cfg.Origins.Items[0]
	assert.Equal(t, "origin.example.org", aws.ToString(origin.DomainName))
	assert.Equal(t, "/site", aws.ToString(origin.OriginPath))
	assert.Equal(t, types.OriginProtocolPolicy("https-only"), origin.CustomOriginConfig.OriginProtocolPolicy)

	assert.Equal(t, "ASCAEXAMPLE", aws.ToString(cfg.ViewerCertificate.IAMCertificateId))
	assert.Equal(t, types.SSLSupportMethodSniOnly, cfg.ViewerCertificate.SSLSupportMethod)
	assert.Nil(t, cfg.WebACLId, "no web ACL unless the spec carries one")
}

func TestDistributionConfigWithWebACL(t *testing.T) {
	spec := testSpec()
	spec.WebACLARN = "arn:aws:wafv2:::webacl/i-1-dedicated-waf"

	cfg := distributionConfig(spec, "caller-ref", true)
	assert.Equal(t, spec.WebACLARN, aws.ToString(cfg.WebACLId))
}

func TestCacheBehaviorWhitelistCookies(t *testing.T) {
	spec := testSpec()
	spec.ForwardCookiePolicy = "whitelist"
	spec.ForwardedCookies = []string{"JSESSIONID", "session"}

	behavior := cacheBehavior(spec)
	cookies := behavior.ForwardedValues.Cookies
	assert.Equal(t, types.ItemSelectionWhitelist, cookies.Forward)
	require.NotNil(t, cookies.WhitelistedNames)
	assert.Equal(t, []string{"JSESSIONID", "session"}, cookies.WhitelistedNames.Items)

	// Non-whitelist policies carry no name list at all.
	all := cacheBehavior(testSpec())
	assert.Equal(t, types.ItemSelectionAll, all.ForwardedValues.Cookies.Forward)
	assert.Nil(t, all.ForwardedValues.Cookies.WhitelistedNames)
}

func TestCustomErrorResponsesSortedByCode(t *testing.T) {
	out := customErrorResponses(map[string]string{
		"503": "/errors/503.html",
		"404": "/errors/404.html",
		"bad": "/ignored.html",
	})

	require.Equal(t, int32(2), aws.ToInt32(out.Quantity))
	assert.Equal(t, int32(404), aws.ToInt32(out.Items[0].ErrorCode))
	assert.Equal(t, "/errors/404.html", aws.ToString(out.Items[0].ResponsePagePath))
	assert.Equal(t, int32(503), aws.ToInt32(out.Items[1].ErrorCode))

	empty := customErrorResponses(nil)
	assert.Equal(t, int32(0), aws.ToInt32(empty.Quantity))
}
