package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// distributionPollInterval spaces re-checks of a propagating distribution.
// CloudFront deployments routinely take a quarter hour.
const distributionPollInterval = time.Minute

// wafDeleteAttempts bounds the in-step retries of delete-web-acl. AWS holds
// a lock on the ACL for a while after the distribution releases it.
const wafDeleteAttempts = 10

// createWebACL provisions the instance's dedicated web ACL and routes its
// logs to the broker log group.
func (s *Steps) createWebACL(ctx context.Context, r *stepRun) error {
	if r.instance.DedicatedWAF != nil && r.instance.DedicatedWAF.WebACLARN != "" {
		return nil
	}
	name := r.instance.ID + "-dedicated-waf"
	id, arn, err := s.clouds.Firewall.CreateWebACL(ctx, name, s.cfg.Broker.WAFRateLimitRuleGroupARN)
	if err != nil {
		return err
	}
	if err := s.clouds.Firewall.PutLoggingConfiguration(ctx, arn, s.cfg.Broker.WAFLogGroupARN); err != nil {
		return err
	}
	r.instance.DedicatedWAF = &models.DedicatedWAFState{
		WebACLID:   id,
		WebACLName: name,
		WebACLARN:  arn,
	}
	return s.instances.Update(ctx, r.instance)
}

// createDistribution creates the CloudFront distribution serving the
// tenant's domains.
func (s *Steps) createDistribution(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no CDN configuration", r.instance.ID))
	}
	if r.instance.CDN.DistributionID != "" {
		return nil
	}
	spec, err := s.distributionSpec(ctx, r)
	if err != nil {
		return err
	}
	dist, err := s.clouds.CDN.Create(ctx, spec)
	if err != nil {
		return err
	}
	r.instance.CDN.DistributionID = dist.ID
	r.instance.CDN.DistributionARN = dist.ARN
	r.instance.DomainInternal = dist.DomainName
	r.instance.Route53AliasHostedZone = s.cfg.Broker.CloudFrontHostedZoneID
	return s.instances.Update(ctx, r.instance)
}

// updateDistribution pushes the instance's current configuration (and the
// certificate being issued, if any) to the existing distribution.
func (s *Steps) updateDistribution(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil || r.instance.CDN.DistributionID == "" {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no distribution", r.instance.ID))
	}
	spec, err := s.distributionSpec(ctx, r)
	if err != nil {
		return err
	}
	return s.clouds.CDN.Update(ctx, r.instance.CDN.DistributionID, spec)
}

// waitForDistribution blocks the pipeline until the distribution finishes
// propagating.
func (s *Steps) waitForDistribution(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil || r.instance.CDN.DistributionID == "" {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no distribution", r.instance.ID))
	}
	deployed, err := s.clouds.CDN.IsDeployed(ctx, r.instance.CDN.DistributionID)
	if err != nil {
		return err
	}
	if !deployed {
		return queue.Waiting(errors.New("distribution still propagating"), distributionPollInterval)
	}
	return nil
}

// syncHealthChecks reconciles the Route53 health checks with the instance's
// domain list, creating checks for new domains and deleting checks whose
// domain was dropped.
func (s *Steps) syncHealthChecks(ctx context.Context, r *stepRun) error {
	if r.instance.DedicatedWAF == nil {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no dedicated WAF state", r.instance.ID))
	}

	want := make(map[string]struct{}, len(r.instance.DomainNames))
	for _, d := range r.instance.DomainNames {
		want[d] = struct{}{}
	}

	var kept []models.HealthCheck
	for _, hc := range r.instance.DedicatedWAF.HealthChecks {
		if _, ok := want[hc.DomainName]; ok {
			kept = append(kept, hc)
			delete(want, hc.DomainName)
			continue
		}
		if err := s.clouds.DNS.DeleteHealthCheck(ctx, hc.HealthCheckID); err != nil {
			return err
		}
	}
	// Walk the domain list rather than the leftover set to keep creation
	// order stable.
	for _, d := range r.instance.DomainNames {
		if _, ok := want[d]; !ok {
			continue
		}
		id, err := s.clouds.DNS.CreateHealthCheck(ctx, d)
		if err != nil {
			return err
		}
		kept = append(kept, models.HealthCheck{DomainName: d, HealthCheckID: id})
	}

	r.instance.DedicatedWAF.HealthChecks = kept
	return s.instances.Update(ctx, r.instance)
}

// associateShield attaches the first domain's health check to the Shield
// protection covering the distribution, when one exists.
func (s *Steps) associateShield(ctx context.Context, r *stepRun) error {
	waf := r.instance.DedicatedWAF
	if waf == nil || len(waf.HealthChecks) == 0 {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no health checks", r.instance.ID))
	}

	target := waf.HealthChecks[0]
	current := waf.ShieldAssociatedHealthCheck
	if current != nil && current.HealthCheckID == target.HealthCheckID {
		return nil
	}

	protectionID, err := s.clouds.Shield.ProtectionForResource(ctx, r.instance.CDN.DistributionARN)
	if err != nil {
		return err
	}
	if protectionID == "" {
		r.logger.Info("distribution has no Shield protection, skipping health check association")
		return nil
	}

	if current != nil {
		err := s.clouds.Shield.DisassociateHealthCheck(ctx, current.ProtectionID, healthCheckARN(current.HealthCheckID))
		if err != nil {
			return err
		}
	}
	if err := s.clouds.Shield.AssociateHealthCheck(ctx, protectionID, healthCheckARN(target.HealthCheckID)); err != nil {
		return err
	}
	waf.ShieldAssociatedHealthCheck = &models.ShieldAssociation{
		DomainName:    target.DomainName,
		ProtectionID:  protectionID,
		HealthCheckID: target.HealthCheckID,
	}
	return s.instances.Update(ctx, r.instance)
}

// disableDistribution starts the teardown of the distribution.
func (s *Steps) disableDistribution(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil || r.instance.CDN.DistributionID == "" {
		return nil
	}
	return s.clouds.CDN.Disable(ctx, r.instance.CDN.DistributionID)
}

// waitForDisabled waits for the disable to finish propagating so the delete
// will be accepted.
func (s *Steps) waitForDisabled(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil || r.instance.CDN.DistributionID == "" {
		return nil
	}
	deployed, err := s.clouds.CDN.IsDeployed(ctx, r.instance.CDN.DistributionID)
	if err != nil {
		return err
	}
	if !deployed {
		return queue.Waiting(errors.New("distribution still disabling"), distributionPollInterval)
	}
	return nil
}

// deleteDistribution removes the disabled distribution.
func (s *Steps) deleteDistribution(ctx context.Context, r *stepRun) error {
	if r.instance.CDN == nil || r.instance.CDN.DistributionID == "" {
		return nil
	}
	return s.clouds.CDN.Delete(ctx, r.instance.CDN.DistributionID)
}

// disassociateShield detaches the health check from the Shield protection
// during deprovisioning.
func (s *Steps) disassociateShield(ctx context.Context, r *stepRun) error {
	waf := r.instance.DedicatedWAF
	if waf == nil || waf.ShieldAssociatedHealthCheck == nil {
		return nil
	}
	current := waf.ShieldAssociatedHealthCheck
	err := s.clouds.Shield.DisassociateHealthCheck(ctx, current.ProtectionID, healthCheckARN(current.HealthCheckID))
	if err != nil {
		return err
	}
	waf.ShieldAssociatedHealthCheck = nil
	return s.instances.Update(ctx, r.instance)
}

// deleteHealthChecks removes every health check the instance created.
func (s *Steps) deleteHealthChecks(ctx context.Context, r *stepRun) error {
	waf := r.instance.DedicatedWAF
	if waf == nil {
		return nil
	}
	for _, hc := range waf.HealthChecks {
		if err := s.clouds.DNS.DeleteHealthCheck(ctx, hc.HealthCheckID); err != nil {
			return err
		}
	}
	waf.HealthChecks = nil
	return s.instances.Update(ctx, r.instance)
}

// deleteWebACL removes the dedicated web ACL. AWS keeps the ACL locked for a
// while after the distribution is deleted, so the delete is retried in-step
// a bounded number of times; if the lock never clears the operation fails
// permanently rather than looping forever.
func (s *Steps) deleteWebACL(ctx context.Context, r *stepRun) error {
	waf := r.instance.DedicatedWAF
	if waf == nil || waf.WebACLID == "" {
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(s.wafDeleteRetryInterval), wafDeleteAttempts-1), ctx)
	err := backoff.Retry(func() error {
		err := s.clouds.Firewall.DeleteWebACL(ctx, waf.WebACLID, waf.WebACLName)
		if err != nil && !errors.Is(err, cloud.ErrWebACLLocked) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if errors.Is(err, cloud.ErrWebACLLocked) {
		return queue.Unrecoverable(fmt.Errorf("web ACL %s stayed locked after %d attempts: %w",
			waf.WebACLName, wafDeleteAttempts, err))
	}
	if err != nil {
		return err
	}

	waf.WebACLID = ""
	waf.WebACLARN = ""
	return s.instances.Update(ctx, r.instance)
}

// distributionSpec assembles the CloudFront configuration for the instance,
// pointing at the certificate being issued when one is in flight.
func (s *Steps) distributionSpec(ctx context.Context, r *stepRun) (cloud.DistributionSpec, error) {
	certID := r.instance.NewCertificateID
	if certID == nil {
		certID = r.instance.CurrentCertificateID
	}
	if certID == nil {
		return cloud.DistributionSpec{}, queue.Unrecoverable(
			fmt.Errorf("instance %s has no certificate to serve", r.instance.ID))
	}
	cert, err := s.certs.GetByID(ctx, *certID)
	if err != nil {
		return cloud.DistributionSpec{}, err
	}
	if cert == nil || !cert.Uploaded() {
		return cloud.DistributionSpec{}, fmt.Errorf("certificate %d is not uploaded yet", *certID)
	}

	cdn := r.instance.CDN
	spec := cloud.DistributionSpec{
		InstanceID:           r.instance.ID,
		DomainNames:          r.instance.DomainNames,
		OriginHostname:       cdn.OriginHostname,
		OriginPath:           cdn.OriginPath,
		OriginProtocolPolicy: string(cdn.OriginProtocolPolicy),
		ForwardCookiePolicy:  string(cdn.ForwardCookiePolicy),
		ForwardedCookies:     cdn.ForwardedCookies,
		ForwardedHeaders:     cdn.ForwardedHeaders,
		ErrorResponses:       cdn.ErrorResponses,
		IAMCertificateID:     cert.IAMServerCertificateID,
	}
	if r.instance.DedicatedWAF != nil {
		spec.WebACLARN = r.instance.DedicatedWAF.WebACLARN
	}
	return spec, nil
}

// healthCheckARN builds the global ARN Shield expects for a Route53 health
// check id.
func healthCheckARN(id string) string {
	return "arn:aws:route53:::healthcheck/" + id
}
