package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// createAliasRecords points every tenant domain at the instance's load
// balancer or distribution.
func (s *Steps) createAliasRecords(ctx context.Context, r *stepRun) error {
	if r.instance.DomainInternal == "" || r.instance.Route53AliasHostedZone == "" {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no alias target yet", r.instance.ID))
	}
	for _, domain := range r.instance.DomainNames {
		err := s.clouds.DNS.UpsertAlias(ctx, domain, r.instance.DomainInternal, r.instance.Route53AliasHostedZone)
		if err != nil {
			return fmt.Errorf("upsert alias %s: %w", domain, err)
		}
	}
	return nil
}

// removeAliasRecords deletes the tenant domain aliases during teardown.
func (s *Steps) removeAliasRecords(ctx context.Context, r *stepRun) error {
	if r.instance.DomainInternal == "" || r.instance.Route53AliasHostedZone == "" {
		return nil
	}
	for _, domain := range r.instance.DomainNames {
		err := s.clouds.DNS.DeleteAlias(ctx, domain, r.instance.DomainInternal, r.instance.Route53AliasHostedZone)
		if err != nil {
			return fmt.Errorf("delete alias %s: %w", domain, err)
		}
	}
	return nil
}

// removeTXTRecords deletes the leftover ACME challenge records of every
// certificate the instance issued.
func (s *Steps) removeTXTRecords(ctx context.Context, r *stepRun) error {
	certs, err := s.certs.ListByInstance(ctx, r.instance.ID)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		for _, c := range cert.Challenges {
			if err := s.clouds.DNS.DeleteTXT(ctx, c.RecordName, c.RecordValue); err != nil {
				return fmt.Errorf("delete TXT %s: %w", c.RecordName, err)
			}
		}
	}
	return nil
}

// deleteIAMCertificates removes every uploaded certificate of the instance
// from the identity store.
func (s *Steps) deleteIAMCertificates(ctx context.Context, r *stepRun) error {
	certs, err := s.certs.ListByInstance(ctx, r.instance.ID)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if !cert.Uploaded() {
			continue
		}
		if err := s.certStore(r.instance).Delete(ctx, cert.IAMServerCertificateName); err != nil {
			return err
		}
	}
	return nil
}

// deactivateInstance is the terminal deprovision step.
func (s *Steps) deactivateInstance(ctx context.Context, r *stepRun) error {
	if r.instance.IsDeactivated() {
		return nil
	}
	now := time.Now()
	r.instance.DeactivatedAt = &now
	r.instance.CurrentCertificateID = nil
	r.instance.NewCertificateID = nil
	return s.instances.Update(ctx, r.instance)
}
