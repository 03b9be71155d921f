package cloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// CloudFront implements CDN on CloudFront distributions.
type CloudFront struct {
	client *cloudfront.Client
}

// NewCloudFront creates a CDN adapter.
func NewCloudFront(client *cloudfront.Client) *CloudFront {
	return &CloudFront{client: client}
}

// Create builds a new distribution from the spec.
func (c *CloudFront) Create(ctx context.Context, spec DistributionSpec) (Distribution, error) {
	out, err := c.client.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: distributionConfig(spec, uuid.NewString(), true),
	})
	if err != nil {
		return Distribution{}, fmt.Errorf("create distribution for %s: %w", spec.InstanceID, err)
	}
	return Distribution{
		ID:         aws.ToString(out.Distribution.Id),
		ARN:        aws.ToString(out.Distribution.ARN),
		DomainName: aws.ToString(out.Distribution.DomainName),
	}, nil
}

// Update rewrites the distribution configuration to match the spec. Fields
// the broker does not manage keep whatever the existing config holds.
func (c *CloudFront) Update(ctx context.Context, distributionID string, spec DistributionSpec) error {
	current, err := c.client.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: aws.String(distributionID),
	})
	if err != nil {
		return fmt.Errorf("get distribution config %s: %w", distributionID, err)
	}

	cfg := distributionConfig(spec, aws.ToString(current.DistributionConfig.CallerReference), true)
	cfg.Logging = current.DistributionConfig.Logging

	_, err = c.client.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(distributionID),
		IfMatch:            current.ETag,
		DistributionConfig: cfg,
	})
	if err != nil {
		return fmt.Errorf("update distribution %s: %w", distributionID, err)
	}
	return nil
}

// Disable turns the distribution off so it can later be deleted.
func (c *CloudFront) Disable(ctx context.Context, distributionID string) error {
	current, err := c.client.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: aws.String(distributionID),
	})
	var notFound *types.NoSuchDistribution
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get distribution config %s: %w", distributionID, err)
	}
	if !aws.ToBool(current.DistributionConfig.Enabled) {
		return nil
	}

	cfg := current.DistributionConfig
	cfg.Enabled = aws.Bool(false)
	_, err = c.client.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(distributionID),
		IfMatch:            current.ETag,
		DistributionConfig: cfg,
	})
	if err != nil {
		return fmt.Errorf("disable distribution %s: %w", distributionID, err)
	}
	return nil
}

// Delete removes a fully undeployed distribution, tolerating its absence.
func (c *CloudFront) Delete(ctx context.Context, distributionID string) error {
	current, err := c.client.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: aws.String(distributionID),
	})
	var notFound *types.NoSuchDistribution
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get distribution config %s: %w", distributionID, err)
	}

	_, err = c.client.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      aws.String(distributionID),
		IfMatch: current.ETag,
	})
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// IsDeployed reports whether the distribution has finished propagating.
func (c *CloudFront) IsDeployed(ctx context.Context, distributionID string) (bool, error) {
	out, err := c.client.GetDistribution(ctx, &cloudfront.GetDistributionInput{
		Id: aws.String(distributionID),
	})
	if err != nil {
		return false, fmt.Errorf("get distribution %s: %w", distributionID, err)
	}
	return aws.ToString(out.Distribution.Status) == "Deployed", nil
}

const originID = "default-origin"

func distributionConfig(spec DistributionSpec, callerReference string, enabled bool) *types.DistributionConfig {
	cfg := &types.DistributionConfig{
		CallerReference: aws.String(callerReference),
		Comment:         aws.String("external domain service https://cloud-gov/external-domain-broker"),
		Enabled:         aws.Bool(enabled),
		Aliases: &types.Aliases{
			Quantity: aws.Int32(int32(len(spec.DomainNames))),
			Items:    spec.DomainNames,
		},
		Origins: &types.Origins{
			Quantity: aws.Int32(1),
			Items: []types.Origin{{
				Id:         aws.String(originID),
				DomainName: aws.String(spec.OriginHostname),
				OriginPath: aws.String(spec.OriginPath),
				CustomOriginConfig: &types.CustomOriginConfig{
					HTTPPort:             aws.Int32(80),
					HTTPSPort:            aws.Int32(443),
					OriginProtocolPolicy: types.OriginProtocolPolicy(spec.OriginProtocolPolicy),
					OriginSslProtocols: &types.OriginSslProtocols{
						Quantity: aws.Int32(1),
						Items:    []types.SslProtocol{types.SslProtocolTLSv12},
					},
				},
			}},
		},
		DefaultCacheBehavior: cacheBehavior(spec),
		CustomErrorResponses: customErrorResponses(spec.ErrorResponses),
		ViewerCertificate: &types.ViewerCertificate{
			IAMCertificateId:       aws.String(spec.IAMCertificateID),
			SSLSupportMethod:       types.SSLSupportMethodSniOnly,
			MinimumProtocolVersion: types.MinimumProtocolVersionTLSv122021,
		},
		PriceClass: types.PriceClassPriceClass100,
	}
	if spec.WebACLARN != "" {
		cfg.WebACLId = aws.String(spec.WebACLARN)
	}
	return cfg
}

func cacheBehavior(spec DistributionSpec) *types.DefaultCacheBehavior {
	cookies := &types.CookiePreference{
		Forward: types.ItemSelection(spec.ForwardCookiePolicy),
	}
	if cookies.Forward == types.ItemSelectionWhitelist {
		cookies.WhitelistedNames = &types.CookieNames{
			Quantity: aws.Int32(int32(len(spec.ForwardedCookies))),
			Items:    spec.ForwardedCookies,
		}
	}
	return &types.DefaultCacheBehavior{
		TargetOriginId:       aws.String(originID),
		ViewerProtocolPolicy: types.ViewerProtocolPolicyRedirectToHttps,
		AllowedMethods: &types.AllowedMethods{
			Quantity: aws.Int32(7),
			Items: []types.Method{
				types.MethodGet, types.MethodHead, types.MethodOptions,
				types.MethodPut, types.MethodPost, types.MethodPatch,
				types.MethodDelete,
			},
			CachedMethods: &types.CachedMethods{
				Quantity: aws.Int32(2),
				Items:    []types.Method{types.MethodGet, types.MethodHead},
			},
		},
		ForwardedValues: &types.ForwardedValues{
			QueryString: aws.Bool(true),
			Cookies:     cookies,
			Headers: &types.Headers{
				Quantity: aws.Int32(int32(len(spec.ForwardedHeaders))),
				Items:    spec.ForwardedHeaders,
			},
		},
		MinTTL:     aws.Int64(0),
		DefaultTTL: aws.Int64(86400),
		MaxTTL:     aws.Int64(31536000),
	}
}

func customErrorResponses(responses map[string]string) *types.CustomErrorResponses {
	out := &types.CustomErrorResponses{Quantity: aws.Int32(0)}
	codes := make([]string, 0, len(responses))
	for code := range responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		errorCode, err := strconv.ParseInt(code, 10, 32)
		if err != nil {
			continue
		}
		out.Items = append(out.Items, types.CustomErrorResponse{
			ErrorCode:        aws.Int32(int32(errorCode)),
			ResponseCode:     aws.String(code),
			ResponsePagePath: aws.String(responses[code]),
		})
	}
	out.Quantity = aws.Int32(int32(len(out.Items)))
	return out
}

var _ CDN = (*CloudFront)(nil)
