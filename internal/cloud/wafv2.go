package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	"github.com/aws/aws-sdk-go-v2/service/wafv2/types"
)

// WAFv2 implements Firewall on CloudFront-scoped web ACLs. All calls go to
// us-east-1 because that is where CLOUDFRONT-scope WAF resources live.
type WAFv2 struct {
	client *wafv2.Client
}

// NewWAFv2 creates a firewall adapter.
func NewWAFv2(client *wafv2.Client) *WAFv2 {
	return &WAFv2{client: client}
}

// CreateWebACL creates a dedicated ACL referencing the shared rate limit
// rule group. An ACL that already exists under the name is reused.
func (w *WAFv2) CreateWebACL(ctx context.Context, name, rateLimitRuleGroupARN string) (string, string, error) {
	out, err := w.client.CreateWebACL(ctx, &wafv2.CreateWebACLInput{
		Name:          aws.String(name),
		Scope:         types.ScopeCloudfront,
		DefaultAction: &types.DefaultAction{Allow: &types.AllowAction{}},
		Rules: []types.Rule{{
			Name:     aws.String("RateLimit"),
			Priority: 1000,
			Statement: &types.Statement{
				RuleGroupReferenceStatement: &types.RuleGroupReferenceStatement{
					ARN: aws.String(rateLimitRuleGroupARN),
				},
			},
			OverrideAction: &types.OverrideAction{None: &types.NoneAction{}},
			VisibilityConfig: &types.VisibilityConfig{
				SampledRequestsEnabled:   true,
				CloudWatchMetricsEnabled: true,
				MetricName:               aws.String(name + "-rate-limit"),
			},
		}},
		VisibilityConfig: &types.VisibilityConfig{
			SampledRequestsEnabled:   true,
			CloudWatchMetricsEnabled: true,
			MetricName:               aws.String(name),
		},
	})
	var dup *types.WAFDuplicateItemException
	if errors.As(err, &dup) {
		return w.lookup(ctx, name)
	}
	if err != nil {
		return "", "", fmt.Errorf("create web ACL %s: %w", name, err)
	}
	return aws.ToString(out.Summary.Id), aws.ToString(out.Summary.ARN), nil
}

// DeleteWebACL removes the ACL. A fresh lock token is fetched for every
// attempt since tokens invalidate whenever the ACL changes.
func (w *WAFv2) DeleteWebACL(ctx context.Context, id, name string) error {
	got, err := w.client.GetWebACL(ctx, &wafv2.GetWebACLInput{
		Id:    aws.String(id),
		Name:  aws.String(name),
		Scope: types.ScopeCloudfront,
	})
	var notFound *types.WAFNonexistentItemException
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get web ACL %s: %w", name, err)
	}

	_, err = w.client.DeleteWebACL(ctx, &wafv2.DeleteWebACLInput{
		Id:        aws.String(id),
		Name:      aws.String(name),
		Scope:     types.ScopeCloudfront,
		LockToken: got.LockToken,
	})
	if errors.As(err, &notFound) {
		return nil
	}
	var locked *types.WAFOptimisticLockException
	var inUse *types.WAFAssociatedItemException
	if errors.As(err, &locked) || errors.As(err, &inUse) {
		return fmt.Errorf("delete web ACL %s: %w: %w", name, ErrWebACLLocked, err)
	}
	return err
}

// PutLoggingConfiguration routes ACL logs to the broker's log group.
func (w *WAFv2) PutLoggingConfiguration(ctx context.Context, webACLARN, logGroupARN string) error {
	_, err := w.client.PutLoggingConfiguration(ctx, &wafv2.PutLoggingConfigurationInput{
		LoggingConfiguration: &types.LoggingConfiguration{
			ResourceArn:           aws.String(webACLARN),
			LogDestinationConfigs: []string{logGroupARN},
		},
	})
	return err
}

func (w *WAFv2) lookup(ctx context.Context, name string) (string, string, error) {
	var marker *string
	for {
		out, err := w.client.ListWebACLs(ctx, &wafv2.ListWebACLsInput{
			Scope:      types.ScopeCloudfront,
			NextMarker: marker,
		})
		if err != nil {
			return "", "", fmt.Errorf("list web ACLs: %w", err)
		}
		for _, acl := range out.WebACLs {
			if aws.ToString(acl.Name) == name {
				return aws.ToString(acl.Id), aws.ToString(acl.ARN), nil
			}
		}
		if out.NextMarker == nil {
			return "", "", fmt.Errorf("web ACL %s not found after duplicate create", name)
		}
		marker = out.NextMarker
	}
}

var _ Firewall = (*WAFv2)(nil)
