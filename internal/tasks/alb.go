package tasks

import (
	"context"
	"fmt"

	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// selectALB picks the listener with the fewest attached certificates from
// the configured fleet and records the load balancer the tenant's domains
// will alias to.
func (s *Steps) selectALB(ctx context.Context, r *stepRun) error {
	if r.instance.ALB != nil && r.instance.ALB.ListenerARN != "" {
		return nil
	}
	if len(s.cfg.Broker.ALBListenerARNs) == 0 {
		return queue.Unrecoverable(fmt.Errorf("no ALB listeners configured"))
	}

	var best string
	bestCount := -1
	for _, listenerARN := range s.cfg.Broker.ALBListenerARNs {
		certs, err := s.clouds.LoadBalancer.ListenerCertificates(ctx, listenerARN)
		if err != nil {
			return err
		}
		if bestCount == -1 || len(certs) < bestCount {
			best = listenerARN
			bestCount = len(certs)
		}
	}

	albARN, dnsName, hostedZoneID, err := s.clouds.LoadBalancer.ListenerLoadBalancer(ctx, best)
	if err != nil {
		return err
	}
	r.instance.ALB = &models.ALBState{ListenerARN: best, ALBARN: albARN}
	r.instance.DomainInternal = dnsName
	r.instance.Route53AliasHostedZone = hostedZoneID
	return s.instances.Update(ctx, r.instance)
}

// attachCertificate adds the new certificate to the instance's listener.
func (s *Steps) attachCertificate(ctx context.Context, r *stepRun) error {
	if r.instance.ALB == nil || r.instance.ALB.ListenerARN == "" {
		return queue.Unrecoverable(fmt.Errorf("instance %s has no listener selected", r.instance.ID))
	}
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	return s.clouds.LoadBalancer.AddListenerCertificate(ctx,
		r.instance.ALB.ListenerARN, cert.IAMServerCertificateARN)
}

// detachCertificate removes the instance's certificates from its listener
// during deprovisioning.
func (s *Steps) detachCertificate(ctx context.Context, r *stepRun) error {
	if r.instance.ALB == nil || r.instance.ALB.ListenerARN == "" {
		return nil
	}
	certs, err := s.certs.ListByInstance(ctx, r.instance.ID)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if !cert.Uploaded() {
			continue
		}
		err := s.clouds.LoadBalancer.RemoveListenerCertificate(ctx,
			r.instance.ALB.ListenerARN, cert.IAMServerCertificateARN)
		if err != nil {
			return err
		}
	}
	return nil
}
