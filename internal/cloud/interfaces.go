// Package cloud defines the narrow adapter interfaces the task pipeline uses
// to manipulate external state, plus their AWS and ACME implementations.
// Every interface exposes only the calls the pipeline needs so tests can
// substitute fakes without network access.
package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrWebACLLocked is returned by Firewall.DeleteWebACL while AWS still holds
// an internal lock on the ACL (typically right after it has been detached
// from a distribution). Callers retry with backoff.
var ErrWebACLLocked = errors.New("web ACL is locked")

// DNS manages records in the broker-owned Route53 zone.
type DNS interface {
	UpsertTXT(ctx context.Context, name, value string) error
	DeleteTXT(ctx context.Context, name, value string) error
	// UpsertAlias points name at target using an ALIAS record in the
	// broker zone; targetZoneID is the hosted zone of the target resource.
	UpsertAlias(ctx context.Context, name, target, targetZoneID string) error
	DeleteAlias(ctx context.Context, name, target, targetZoneID string) error
	CreateHealthCheck(ctx context.Context, domain string) (id string, err error)
	// DeleteHealthCheck succeeds if the health check is already gone.
	DeleteHealthCheck(ctx context.Context, id string) error
}

// CertificateStore is the cloud identity store for server certificates (IAM).
type CertificateStore interface {
	// Upload stores a certificate under name and returns its id and ARN.
	// Re-uploading an existing name returns the stored identifiers.
	Upload(ctx context.Context, name, certPEM, chainPEM, keyPEM string) (id, arn string, err error)
	// Delete removes a certificate by name, succeeding if it is absent.
	Delete(ctx context.Context, name string) error
}

// LoadBalancer manages certificates on shared ALB listeners.
type LoadBalancer interface {
	AddListenerCertificate(ctx context.Context, listenerARN, certARN string) error
	// RemoveListenerCertificate succeeds if the certificate is not attached.
	RemoveListenerCertificate(ctx context.Context, listenerARN, certARN string) error
	ListenerCertificates(ctx context.Context, listenerARN string) ([]string, error)
	// ListenerLoadBalancer resolves a listener to its load balancer's ARN,
	// DNS name, and alias hosted zone.
	ListenerLoadBalancer(ctx context.Context, listenerARN string) (albARN, dnsName, hostedZoneID string, err error)
}

// DistributionSpec is everything the CDN adapter needs to create or update a
// distribution for one instance.
type DistributionSpec struct {
	InstanceID           string
	DomainNames          []string
	OriginHostname       string
	OriginPath           string
	OriginProtocolPolicy string
	ForwardCookiePolicy  string
	ForwardedCookies     []string
	ForwardedHeaders     []string
	ErrorResponses       map[string]string
	IAMCertificateID     string
	WebACLARN            string
}

// Distribution identifies a created CloudFront distribution.
type Distribution struct {
	ID         string
	ARN        string
	DomainName string
}

// CDN manages CloudFront distributions.
type CDN interface {
	Create(ctx context.Context, spec DistributionSpec) (Distribution, error)
	Update(ctx context.Context, distributionID string, spec DistributionSpec) error
	// Disable turns the distribution off; it must be fully undeployed
	// before Delete will succeed.
	Disable(ctx context.Context, distributionID string) error
	// Delete removes the distribution, succeeding if it is already gone.
	Delete(ctx context.Context, distributionID string) error
	// IsDeployed reports whether the last configuration change has
	// propagated. The bool is false while status is InProgress.
	IsDeployed(ctx context.Context, distributionID string) (bool, error)
}

// Firewall manages dedicated web ACLs for CloudFront distributions.
type Firewall interface {
	// CreateWebACL creates (or finds) the ACL and returns its id and ARN.
	CreateWebACL(ctx context.Context, name, rateLimitRuleGroupARN string) (id, arn string, err error)
	// DeleteWebACL removes the ACL, succeeding if it is absent and
	// returning ErrWebACLLocked while AWS refuses the delete.
	DeleteWebACL(ctx context.Context, id, name string) error
	PutLoggingConfiguration(ctx context.Context, webACLARN, logGroupARN string) error
}

// ShieldProtector associates Route53 health checks with Shield Advanced
// protections.
type ShieldProtector interface {
	// ProtectionForResource finds the protection covering the resource ARN,
	// returning "" if the resource is not protected.
	ProtectionForResource(ctx context.Context, resourceARN string) (protectionID string, err error)
	AssociateHealthCheck(ctx context.Context, protectionID, healthCheckARN string) error
	DisassociateHealthCheck(ctx context.Context, protectionID, healthCheckARN string) error
}

// DNSChallenge is one DNS-01 challenge the CA wants answered.
type DNSChallenge struct {
	Domain      string
	URL         string
	RecordName  string
	RecordValue string
}

// Order is a pending ACME order.
type Order struct {
	OrderJSON  string
	Challenges []DNSChallenge
}

// IssuedCertificate is the retrieved leaf and chain for a finalized order.
type IssuedCertificate struct {
	LeafPEM      string
	FullchainPEM string
	ExpiresAt    time.Time
}

// ErrOrderPending is returned by CertificateAuthority while authorizations
// or the finalize step have not completed yet. The pipeline reschedules.
var ErrOrderPending = errors.New("acme order still pending")

// Account holds registered ACME account credentials for one instance.
type Account struct {
	RegistrationJSON string
	PrivateKeyPEM    string
}

// CertificateAuthority is the ACME client surface the pipeline consumes.
type CertificateAuthority interface {
	// RegisterAccount creates a fresh account keypair and registers it.
	RegisterAccount(ctx context.Context) (Account, error)
	// NewOrder opens an order for the domains and resolves its DNS-01
	// challenges.
	NewOrder(ctx context.Context, account Account, domains []string) (Order, error)
	// AcceptChallenges tells the authority the TXT records are in place.
	// Challenges already validated are skipped.
	AcceptChallenges(ctx context.Context, account Account, order Order) error
	// Finalize submits the CSR and retrieves the signed certificate,
	// returning ErrOrderPending while the authority is still validating.
	Finalize(ctx context.Context, account Account, order Order, csrPEM string) (IssuedCertificate, error)
}
