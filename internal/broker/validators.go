package broker

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
)

// CNAMEResolver is the DNS lookup surface the CNAME validator needs.
// *net.Resolver satisfies it.
type CNAMEResolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// CNAMEValidator checks that tenants have delegated certificate issuance for
// their domains before the broker opens an ACME order: each domain needs
// _acme-challenge.<domain> pointing at the matching record in the
// broker-owned root zone.
type CNAMEValidator struct {
	resolver CNAMEResolver
	rootZone string
}

// NewCNAMEValidator creates a validator delegating to rootZone.
func NewCNAMEValidator(resolver CNAMEResolver, rootZone string) *CNAMEValidator {
	return &CNAMEValidator{resolver: resolver, rootZone: rootZone}
}

// Validate returns a tenant-readable bad-request error naming every domain
// whose delegation record is missing or wrong.
func (v *CNAMEValidator) Validate(ctx context.Context, domains []string) error {
	var problems []string
	for _, domain := range domains {
		challenge := "_acme-challenge." + domain
		expected := challenge + "." + v.rootZone
		actual, err := v.resolver.LookupCNAME(ctx, challenge)
		if err != nil {
			problems = append(problems, fmt.Sprintf(
				"%s does not resolve; create a CNAME from %s to %s", domain, challenge, expected))
			continue
		}
		if strings.TrimSuffix(actual, ".") != expected {
			problems = append(problems, fmt.Sprintf(
				"%s points to %s instead of %s", challenge, strings.TrimSuffix(actual, "."), expected))
		}
	}
	if len(problems) > 0 {
		return brokererr.BadRequest("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateUniqueDomains rejects domains already claimed by another active
// instance. exceptInstanceID exempts the instance being updated.
func ValidateUniqueDomains(ctx context.Context, instances repository.InstanceRepository, domains []string, exceptInstanceID string) error {
	conflict, err := instances.FindDomainConflict(ctx, domains, exceptInstanceID)
	if err != nil {
		return err
	}
	if conflict != "" {
		return brokererr.BadRequest("domain %s is already registered with another service instance", conflict)
	}
	return nil
}

var _ CNAMEResolver = (*net.Resolver)(nil)
