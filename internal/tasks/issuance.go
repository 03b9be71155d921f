package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// acmePollInterval spaces re-checks of an order the authority is still
// validating.
const acmePollInterval = 30 * time.Second

// registerACMEAccount registers a fresh account for the instance. Instances
// that already carry credentials (retries, renewals) keep them.
func (s *Steps) registerACMEAccount(ctx context.Context, r *stepRun) error {
	if r.instance.ACMERegistrationJSON != "" {
		return nil
	}
	acct, err := s.clouds.CA.RegisterAccount(ctx)
	if err != nil {
		return err
	}
	r.instance.ACMERegistrationJSON = acct.RegistrationJSON
	r.instance.ACMEPrivateKeyPEM = acct.PrivateKeyPEM
	return s.instances.Update(ctx, r.instance)
}

// createCertificate generates the private key and CSR and records the new
// certificate row the rest of the pipeline works on.
func (s *Steps) createCertificate(ctx context.Context, r *stepRun) error {
	if r.instance.NewCertificateID != nil {
		return nil
	}
	keyPEM, csrPEM, err := cloud.GenerateKeyAndCSR(r.instance.DomainNames)
	if err != nil {
		return queue.Unrecoverable(err)
	}
	cert := &models.Certificate{
		InstanceID:    r.instance.ID,
		PrivateKeyPEM: keyPEM,
		CSRPEM:        csrPEM,
	}
	if err := s.certs.Create(ctx, cert); err != nil {
		return err
	}
	r.instance.NewCertificateID = &cert.ID
	return s.instances.Update(ctx, r.instance)
}

// initiateChallenges opens the ACME order and stores the DNS-01 challenges.
func (s *Steps) initiateChallenges(ctx context.Context, r *stepRun) error {
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	if cert.OrderJSON != "" {
		return nil
	}
	order, err := s.clouds.CA.NewOrder(ctx, account(r.instance), r.instance.DomainNames)
	if err != nil {
		return err
	}
	cert.OrderJSON = order.OrderJSON
	cert.Challenges = make([]models.Challenge, 0, len(order.Challenges))
	for _, c := range order.Challenges {
		cert.Challenges = append(cert.Challenges, models.Challenge{
			Domain:      c.Domain,
			URL:         c.URL,
			RecordName:  c.RecordName,
			RecordValue: c.RecordValue,
		})
	}
	return s.certs.Update(ctx, cert)
}

// updateTXTRecords publishes the challenge TXT records in the broker zone.
func (s *Steps) updateTXTRecords(ctx context.Context, r *stepRun) error {
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	for _, c := range cert.Challenges {
		if err := s.clouds.DNS.UpsertTXT(ctx, c.RecordName, c.RecordValue); err != nil {
			return fmt.Errorf("upsert TXT %s: %w", c.RecordName, err)
		}
	}
	return nil
}

// answerChallenges tells the authority the records are in place.
func (s *Steps) answerChallenges(ctx context.Context, r *stepRun) error {
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	order := storedOrder(cert)
	return s.clouds.CA.AcceptChallenges(ctx, account(r.instance), order)
}

// retrieveCertificate finalizes the order and stores the issued certificate.
// The authority validates asynchronously, so the step waits and retries
// until the order leaves the pending state.
func (s *Steps) retrieveCertificate(ctx context.Context, r *stepRun) error {
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	if cert.LeafPEM != "" {
		return nil
	}
	issued, err := s.clouds.CA.Finalize(ctx, account(r.instance), storedOrder(cert), cert.CSRPEM)
	if errors.Is(err, cloud.ErrOrderPending) {
		return queue.Waiting(err, acmePollInterval)
	}
	if err != nil {
		return err
	}
	cert.LeafPEM = issued.LeafPEM
	cert.FullchainPEM = issued.FullchainPEM
	expires := issued.ExpiresAt
	cert.ExpiresAt = &expires
	now := time.Now()
	for i := range cert.Challenges {
		if cert.Challenges[i].ValidatedAt == nil {
			cert.Challenges[i].ValidatedAt = &now
		}
	}
	return s.certs.Update(ctx, cert)
}

// uploadCertificate stores the issued certificate in IAM so the ALB or
// CloudFront can serve it.
func (s *Steps) uploadCertificate(ctx context.Context, r *stepRun) error {
	cert, err := s.newCertificate(ctx, r)
	if err != nil {
		return err
	}
	if cert.Uploaded() {
		return nil
	}
	name := fmt.Sprintf("%s-%d", r.instance.ID, cert.ID)
	id, arn, err := s.certStore(r.instance).Upload(ctx,
		name, cert.LeafPEM, chainWithoutLeaf(cert), cert.PrivateKeyPEM)
	if err != nil {
		return err
	}
	cert.IAMServerCertificateID = id
	cert.IAMServerCertificateName = name
	cert.IAMServerCertificateARN = arn
	return s.certs.Update(ctx, cert)
}

// activateCertificate promotes the newly issued certificate to current.
func (s *Steps) activateCertificate(ctx context.Context, r *stepRun) error {
	if r.instance.NewCertificateID == nil {
		return nil
	}
	r.instance.CurrentCertificateID = r.instance.NewCertificateID
	r.instance.NewCertificateID = nil
	return s.instances.Update(ctx, r.instance)
}

// removeOldCertificate detaches and deletes the certificate the new one
// replaced. Runs after activation, so the old id is every certificate row
// other than the current one that is already uploaded.
func (s *Steps) removeOldCertificate(ctx context.Context, r *stepRun) error {
	if r.instance.CurrentCertificateID == nil {
		return nil
	}
	old, err := s.certs.DuplicatesForInstance(ctx, r.instance.ID)
	if err != nil {
		return err
	}
	var removed []int64
	for _, cert := range old {
		if !cert.Uploaded() {
			continue
		}
		if r.instance.Kind == models.KindALB && r.instance.ALB != nil {
			err := s.clouds.LoadBalancer.RemoveListenerCertificate(ctx,
				r.instance.ALB.ListenerARN, cert.IAMServerCertificateARN)
			if err != nil {
				return err
			}
		}
		if err := s.certStore(r.instance).Delete(ctx, cert.IAMServerCertificateName); err != nil {
			return err
		}
		removed = append(removed, cert.ID)
	}
	return s.certs.DeleteByIDs(ctx, removed)
}

func storedOrder(cert *models.Certificate) cloud.Order {
	order := cloud.Order{OrderJSON: cert.OrderJSON}
	for _, c := range cert.Challenges {
		order.Challenges = append(order.Challenges, cloud.DNSChallenge{
			Domain:      c.Domain,
			URL:         c.URL,
			RecordName:  c.RecordName,
			RecordValue: c.RecordValue,
		})
	}
	return order
}

// chainWithoutLeaf strips the leaf from the full chain. IAM wants the
// intermediates separate from the certificate body.
func chainWithoutLeaf(cert *models.Certificate) string {
	chain := strings.TrimPrefix(cert.FullchainPEM, cert.LeafPEM)
	return strings.TrimLeft(chain, "\n")
}
