package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/shield"
	"github.com/aws/aws-sdk-go-v2/service/shield/types"
)

// Shield implements ShieldProtector on Shield Advanced protections.
type Shield struct {
	client *shield.Client
}

// NewShield creates a Shield adapter.
func NewShield(client *shield.Client) *Shield {
	return &Shield{client: client}
}

// ProtectionForResource finds the protection covering resourceARN, returning
// "" if Shield Advanced does not protect the resource.
func (s *Shield) ProtectionForResource(ctx context.Context, resourceARN string) (string, error) {
	var token *string
	for {
		out, err := s.client.ListProtections(ctx, &shield.ListProtectionsInput{
			NextToken: token,
		})
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("list protections: %w", err)
		}
		for _, p := range out.Protections {
			if aws.ToString(p.ResourceArn) == resourceARN {
				return aws.ToString(p.Id), nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		token = out.NextToken
	}
}

// AssociateHealthCheck attaches a Route53 health check to a protection.
func (s *Shield) AssociateHealthCheck(ctx context.Context, protectionID, healthCheckARN string) error {
	_, err := s.client.AssociateHealthCheck(ctx, &shield.AssociateHealthCheckInput{
		ProtectionId:   aws.String(protectionID),
		HealthCheckArn: aws.String(healthCheckARN),
	})
	return err
}

// DisassociateHealthCheck detaches a health check, tolerating a protection
// or association that no longer exists.
func (s *Shield) DisassociateHealthCheck(ctx context.Context, protectionID, healthCheckARN string) error {
	_, err := s.client.DisassociateHealthCheck(ctx, &shield.DisassociateHealthCheckInput{
		ProtectionId:   aws.String(protectionID),
		HealthCheckArn: aws.String(healthCheckARN),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

var _ ShieldProtector = (*Shield)(nil)
