package cloud

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/shield"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"

	"github.com/cloud-gov/external-domain-broker/internal/config"
)

// IAM paths for uploaded server certificates. CloudFront only serves
// certificates stored under /cloudfront/.
const (
	albCertPath        = "/domains/alb/"
	cloudFrontCertPath = "/cloudfront/external-domain-broker/"
)

// Clients bundles every cloud adapter the task pipeline needs.
type Clients struct {
	DNS          DNS
	ALBCertStore CertificateStore
	CDNCertStore CertificateStore
	LoadBalancer LoadBalancer
	CDN          CDN
	Firewall     Firewall
	Shield       ShieldProtector
	CA           CertificateAuthority
}

// NewClients builds AWS service clients from the ambient credential chain.
// CloudFront, WAF (CLOUDFRONT scope), and Shield are global services served
// out of the GlobalRegion; everything else uses the configured region.
func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	regional, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	global, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.GlobalRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", cfg.AWS.GlobalRegion, err)
	}

	iamClient := iam.NewFromConfig(global)
	return &Clients{
		DNS:          NewRoute53(route53.NewFromConfig(global), cfg.Broker.HostedZoneID),
		ALBCertStore: NewIAMStore(iamClient, albCertPath),
		CDNCertStore: NewIAMStore(iamClient, cloudFrontCertPath),
		LoadBalancer: NewELBv2(elbv2.NewFromConfig(regional)),
		CDN:          NewCloudFront(cloudfront.NewFromConfig(global)),
		Firewall:     NewWAFv2(wafv2.NewFromConfig(global)),
		Shield:       NewShield(shield.NewFromConfig(global)),
		CA:           NewACMEClient(cfg.ACME.DirectoryURL, cfg.ACME.ContactEmail),
	}, nil
}
