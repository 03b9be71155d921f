package cloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/google/uuid"
)

// Route53 implements DNS against the broker-owned hosted zone.
type Route53 struct {
	client       *route53.Client
	hostedZoneID string
}

// NewRoute53 creates a DNS adapter for the given hosted zone.
func NewRoute53(client *route53.Client, hostedZoneID string) *Route53 {
	return &Route53{client: client, hostedZoneID: hostedZoneID}
}

// UpsertTXT writes a TXT record. The value is quoted per the Route53 wire
// format.
func (r *Route53) UpsertTXT(ctx context.Context, name, value string) error {
	return r.change(ctx, types.ChangeActionUpsert, txtRecordSet(name, value))
}

// DeleteTXT removes a TXT record, tolerating its absence.
func (r *Route53) DeleteTXT(ctx context.Context, name, value string) error {
	err := r.change(ctx, types.ChangeActionDelete, txtRecordSet(name, value))
	if isNoSuchRecord(err) {
		return nil
	}
	return err
}

// UpsertAlias points name at target with an A-record alias.
func (r *Route53) UpsertAlias(ctx context.Context, name, target, targetZoneID string) error {
	return r.change(ctx, types.ChangeActionUpsert, aliasRecordSet(name, target, targetZoneID))
}

// DeleteAlias removes an alias record, tolerating its absence.
func (r *Route53) DeleteAlias(ctx context.Context, name, target, targetZoneID string) error {
	err := r.change(ctx, types.ChangeActionDelete, aliasRecordSet(name, target, targetZoneID))
	if isNoSuchRecord(err) {
		return nil
	}
	return err
}

// CreateHealthCheck creates an HTTPS health check against the domain root.
func (r *Route53) CreateHealthCheck(ctx context.Context, domain string) (string, error) {
	out, err := r.client.CreateHealthCheck(ctx, &route53.CreateHealthCheckInput{
		CallerReference: aws.String(uuid.NewString()),
		HealthCheckConfig: &types.HealthCheckConfig{
			Type:                     types.HealthCheckTypeHttps,
			FullyQualifiedDomainName: aws.String(domain),
			Port:                     aws.Int32(443),
			ResourcePath:             aws.String("/"),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create health check for %s: %w", domain, err)
	}
	_, err = r.client.ChangeTagsForResource(ctx, &route53.ChangeTagsForResourceInput{
		ResourceType: types.TagResourceTypeHealthcheck,
		ResourceId:   out.HealthCheck.Id,
		AddTags: []types.Tag{
			{Key: aws.String("Name"), Value: aws.String(domain)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("tag health check for %s: %w", domain, err)
	}
	return aws.ToString(out.HealthCheck.Id), nil
}

// DeleteHealthCheck removes a health check, tolerating its absence.
func (r *Route53) DeleteHealthCheck(ctx context.Context, id string) error {
	_, err := r.client.DeleteHealthCheck(ctx, &route53.DeleteHealthCheckInput{
		HealthCheckId: aws.String(id),
	})
	var notFound *types.NoSuchHealthCheck
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func (r *Route53) change(ctx context.Context, action types.ChangeAction, rs types.ResourceRecordSet) error {
	_, err := r.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: &rs}},
		},
	})
	return err
}

func txtRecordSet(name, value string) types.ResourceRecordSet {
	return types.ResourceRecordSet{
		Name: aws.String(name),
		Type: types.RRTypeTxt,
		TTL:  aws.Int64(60),
		ResourceRecords: []types.ResourceRecord{
			{Value: aws.String(strconv.Quote(value))},
		},
	}
}

func aliasRecordSet(name, target, targetZoneID string) types.ResourceRecordSet {
	return types.ResourceRecordSet{
		Name: aws.String(name),
		Type: types.RRTypeA,
		AliasTarget: &types.AliasTarget{
			DNSName:              aws.String(target),
			HostedZoneId:         aws.String(targetZoneID),
			EvaluateTargetHealth: false,
		},
	}
}

// Route53 reports a delete of a missing record as InvalidChangeBatch with a
// "not found" message rather than a typed error.
func isNoSuchRecord(err error) bool {
	if err == nil {
		return false
	}
	var invalid *types.InvalidChangeBatch
	if !errors.As(err, &invalid) {
		return false
	}
	for _, msg := range invalid.Messages {
		if strings.Contains(msg, "not found") {
			return true
		}
	}
	return strings.Contains(invalid.ErrorMessage(), "not found")
}

var _ DNS = (*Route53)(nil)
