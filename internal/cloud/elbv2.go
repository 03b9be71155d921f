package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// ELBv2 implements LoadBalancer on the shared ALB fleet.
type ELBv2 struct {
	client *elbv2.Client
}

// NewELBv2 creates a load balancer adapter.
func NewELBv2(client *elbv2.Client) *ELBv2 {
	return &ELBv2{client: client}
}

// AddListenerCertificate attaches a certificate to a listener's SNI set.
func (e *ELBv2) AddListenerCertificate(ctx context.Context, listenerARN, certARN string) error {
	_, err := e.client.AddListenerCertificates(ctx, &elbv2.AddListenerCertificatesInput{
		ListenerArn:  aws.String(listenerARN),
		Certificates: []types.Certificate{{CertificateArn: aws.String(certARN)}},
	})
	return err
}

// RemoveListenerCertificate detaches a certificate, tolerating its absence.
func (e *ELBv2) RemoveListenerCertificate(ctx context.Context, listenerARN, certARN string) error {
	_, err := e.client.RemoveListenerCertificates(ctx, &elbv2.RemoveListenerCertificatesInput{
		ListenerArn:  aws.String(listenerARN),
		Certificates: []types.Certificate{{CertificateArn: aws.String(certARN)}},
	})
	var notFound *types.CertificateNotFoundException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// ListenerCertificates returns the ARNs of all non-default certificates
// attached to a listener.
func (e *ELBv2) ListenerCertificates(ctx context.Context, listenerARN string) ([]string, error) {
	var arns []string
	var marker *string
	for {
		out, err := e.client.DescribeListenerCertificates(ctx, &elbv2.DescribeListenerCertificatesInput{
			ListenerArn: aws.String(listenerARN),
			Marker:      marker,
		})
		if err != nil {
			return nil, fmt.Errorf("describe listener certificates for %s: %w", listenerARN, err)
		}
		for _, cert := range out.Certificates {
			if aws.ToBool(cert.IsDefault) {
				continue
			}
			arns = append(arns, aws.ToString(cert.CertificateArn))
		}
		if out.NextMarker == nil {
			return arns, nil
		}
		marker = out.NextMarker
	}
}

// ListenerLoadBalancer resolves a listener to its load balancer.
func (e *ELBv2) ListenerLoadBalancer(ctx context.Context, listenerARN string) (string, string, string, error) {
	listeners, err := e.client.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		ListenerArns: []string{listenerARN},
	})
	if err != nil {
		return "", "", "", fmt.Errorf("describe listener %s: %w", listenerARN, err)
	}
	if len(listeners.Listeners) == 0 {
		return "", "", "", fmt.Errorf("listener %s not found", listenerARN)
	}
	albARN := aws.ToString(listeners.Listeners[0].LoadBalancerArn)

	albs, err := e.client.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{albARN},
	})
	if err != nil {
		return "", "", "", fmt.Errorf("describe load balancer %s: %w", albARN, err)
	}
	if len(albs.LoadBalancers) == 0 {
		return "", "", "", fmt.Errorf("load balancer %s not found", albARN)
	}
	lb := albs.LoadBalancers[0]
	return albARN, aws.ToString(lb.DNSName), aws.ToString(lb.CanonicalHostedZoneId), nil
}

var _ LoadBalancer = (*ELBv2)(nil)
