// Package models contains the durable data model for the domain broker.
package models

import (
	"sort"
	"strings"
	"time"
)

// InstanceKind discriminates the service instance variants.
type InstanceKind string

const (
	// KindALB is a custom domain terminated on a shared application load balancer.
	KindALB InstanceKind = "alb"
	// KindCDN is a custom domain fronted by a CloudFront distribution.
	KindCDN InstanceKind = "cdn"
	// KindCDNDedicatedWAF is a CDN instance with its own web ACL and
	// health-checked DNS.
	KindCDNDedicatedWAF InstanceKind = "cdn-dedicated-waf"
	// KindMigration is reserved for instances being imported from another
	// broker. No pipelines run against it.
	KindMigration InstanceKind = "migration"
)

// IsCDN reports whether the kind is one of the CloudFront-backed variants.
func (k InstanceKind) IsCDN() bool {
	return k == KindCDN || k == KindCDNDedicatedWAF
}

// CookiePolicy is the CloudFront cookie forwarding policy.
type CookiePolicy string

const (
	CookiePolicyNone      CookiePolicy = "none"
	CookiePolicyAll       CookiePolicy = "all"
	CookiePolicyWhitelist CookiePolicy = "whitelist"
)

// ProtocolPolicy is the CloudFront origin protocol policy.
type ProtocolPolicy string

const (
	ProtocolPolicyHTTP  ProtocolPolicy = "http-only"
	ProtocolPolicyHTTPS ProtocolPolicy = "https-only"
)

// ServiceInstance is the durable aggregate for one tenant subscription.
// Exactly one of ALB / CDN is populated depending on Kind; a
// cdn-dedicated-waf instance also carries DedicatedWAF.
type ServiceInstance struct {
	ID          string
	Kind        InstanceKind
	DomainNames []string

	// DomainInternal is the cloud-side DNS name tenants alias to: the ALB
	// DNS name or the CloudFront distribution domain.
	DomainInternal         string
	Route53AliasHostedZone string

	// DeactivatedAt is set by the terminal deprovision step. Once set, the
	// instance is read-only.
	DeactivatedAt *time.Time

	CurrentCertificateID *int64
	NewCertificateID     *int64

	// ACME account credentials, registered once per instance on first
	// provision.
	ACMERegistrationJSON string
	ACMEPrivateKeyPEM    string

	ALB          *ALBState
	CDN          *CDNState
	DedicatedWAF *DedicatedWAFState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ALBState holds the ALB-variant cloud identifiers.
type ALBState struct {
	ListenerARN string `json:"listener_arn"`
	ALBARN      string `json:"alb_arn"`
}

// CDNState holds the CloudFront-variant configuration and identifiers.
type CDNState struct {
	DistributionID       string            `json:"distribution_id"`
	DistributionARN      string            `json:"distribution_arn"`
	OriginHostname       string            `json:"origin_hostname"`
	OriginPath           string            `json:"origin_path"`
	ForwardCookiePolicy  CookiePolicy      `json:"forward_cookie_policy"`
	ForwardedCookies     []string          `json:"forwarded_cookies"`
	ForwardedHeaders     []string          `json:"forwarded_headers"`
	OriginProtocolPolicy ProtocolPolicy    `json:"origin_protocol_policy"`
	ErrorResponses       map[string]string `json:"error_responses,omitempty"`
}

// HealthCheck records one Route53 health check created for a domain.
type HealthCheck struct {
	DomainName    string `json:"domain_name"`
	HealthCheckID string `json:"health_check_id"`
}

// ShieldAssociation records the health check attached to a Shield protection.
type ShieldAssociation struct {
	DomainName    string `json:"domain_name"`
	ProtectionID  string `json:"protection_id"`
	HealthCheckID string `json:"health_check_id"`
}

// DedicatedWAFState holds the dedicated web ACL and health-check identifiers.
type DedicatedWAFState struct {
	WebACLID   string `json:"web_acl_id"`
	WebACLName string `json:"web_acl_name"`
	WebACLARN  string `json:"web_acl_arn"`

	HealthChecks                []HealthCheck      `json:"health_checks,omitempty"`
	ShieldAssociatedHealthCheck *ShieldAssociation `json:"shield_associated_health_check,omitempty"`
}

// IsDeactivated reports whether the instance has been deprovisioned.
func (s *ServiceInstance) IsDeactivated() bool {
	return s.DeactivatedAt != nil
}

// HasSameDomains reports whether the given list matches the stored domain
// names irrespective of order.
func (s *ServiceInstance) HasSameDomains(domains []string) bool {
	if len(domains) != len(s.DomainNames) {
		return false
	}
	a := append([]string(nil), domains...)
	b := append([]string(nil), s.DomainNames...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NormalizeDomains lower-cases, trims, and deduplicates a comma-separated
// domain list, preserving first-seen order.
func NormalizeDomains(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, d := range strings.Split(raw, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
