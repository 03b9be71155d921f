package broker

import (
	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
)

// Plan and service identifiers. These are wire constants shared with the
// platform; changing one orphans every existing instance.
const (
	ServiceID = "8c16de31-104a-47b0-ba79-25e747be91d6"

	ALBPlanID             = "6f60835c-8964-4f1f-a19a-579fb27ce694"
	CDNPlanID             = "1cc78b0c-c296-48f5-9182-0b38404f79ef"
	CDNDedicatedWAFPlanID = "9d10e9cd-3a9a-4e4a-bcd1-7a0b4a62f8ba"
)

// Catalog is the OSB catalog wire shape.
type Catalog struct {
	Services []Service `json:"services"`
}

// Service describes one offered service.
type Service struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Bindable    bool            `json:"bindable"`
	Metadata    ServiceMetadata `json:"metadata"`
	Plans       []ServicePlan   `json:"plans"`
}

// ServiceMetadata is the catalog display metadata.
type ServiceMetadata struct {
	DisplayName         string `json:"displayName"`
	LongDescription     string `json:"longDescription"`
	ProviderDisplayName string `json:"providerDisplayName"`
	DocumentationURL    string `json:"documentationUrl"`
	SupportURL          string `json:"supportUrl"`
}

// ServicePlan describes one plan of a service.
type ServicePlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog returns the broker's service offering.
func (b *Broker) Catalog() Catalog {
	return Catalog{
		Services: []Service{{
			ID:          ServiceID,
			Name:        "external-domain",
			Description: "Assign a custom domain to your application with TLS and an optional CDN.",
			Bindable:    false,
			Metadata: ServiceMetadata{
				DisplayName:         "AWS ALB (or CloudFront CDN) with SSL for custom domains",
				LongDescription:     "Create a custom domain to your application with TLS and an optional CDN. This will provision a TLS certificate from Let's Encrypt, a free certificate provider.",
				ProviderDisplayName: "Cloud.gov",
				DocumentationURL:    "https://github.com/cloud-gov/external-domain-broker",
				SupportURL:          "https://cloud.gov/support",
			},
			Plans: []ServicePlan{
				{
					ID:          ALBPlanID,
					Name:        "domain",
					Description: "Basic custom domain with TLS.",
				},
				{
					ID:          CDNPlanID,
					Name:        "domain-with-cdn",
					Description: "Custom domain with TLS and CloudFront.",
				},
				{
					ID:          CDNDedicatedWAFPlanID,
					Name:        "domain-with-cdn-dedicated-waf",
					Description: "Custom domain with TLS, CloudFront, a dedicated WAF web ACL, and health-checked DNS.",
				},
			},
		}},
	}
}

// planKind maps a plan id onto the instance variant it provisions.
func planKind(planID string) (models.InstanceKind, error) {
	switch planID {
	case ALBPlanID:
		return models.KindALB, nil
	case CDNPlanID:
		return models.KindCDN, nil
	case CDNDedicatedWAFPlanID:
		return models.KindCDNDedicatedWAF, nil
	default:
		return "", brokererr.ErrNotImplemented
	}
}
