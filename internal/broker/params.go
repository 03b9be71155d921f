package broker

import (
	"sort"
	"strings"

	"github.com/cloud-gov/external-domain-broker/internal/models"
)

// ProvisionParams are the tenant-supplied provision parameters. CDN-only
// fields are ignored for the ALB plan.
type ProvisionParams struct {
	Domains string `json:"domains"`

	// Origin is a pointer because "not sent" and "sent empty" differ:
	// insecure_origin is only legal when an origin was explicitly given.
	Origin         *string           `json:"origin"`
	Path           *string           `json:"path"`
	ForwardCookies *string           `json:"forward_cookies"`
	ForwardHeaders *string           `json:"forward_headers"`
	InsecureOrigin bool              `json:"insecure_origin"`
	ErrorResponses map[string]string `json:"error_responses"`
}

// UpdateParams are the tenant-supplied update parameters. Every field is a
// pointer: the platform contract forbids touching settings the request did
// not name, so absent and present-but-empty mean different things.
type UpdateParams struct {
	Domains        *string            `json:"domains"`
	Origin         *string            `json:"origin"`
	Path           *string            `json:"path"`
	ForwardCookies *string            `json:"forward_cookies"`
	ForwardHeaders *string            `json:"forward_headers"`
	InsecureOrigin *bool              `json:"insecure_origin"`
	ErrorResponses *map[string]string `json:"error_responses"`
}

// ParseCookieOptions maps the forward_cookies parameter onto a CloudFront
// cookie policy. Absent means forward everything; empty means forward
// nothing; "*" means everything; anything else is a whitelist.
func ParseCookieOptions(forwardCookies *string) (models.CookiePolicy, []string) {
	if forwardCookies == nil {
		return models.CookiePolicyAll, []string{}
	}
	cookies := strings.ReplaceAll(*forwardCookies, " ", "")
	switch cookies {
	case "":
		return models.CookiePolicyNone, []string{}
	case "*":
		return models.CookiePolicyAll, []string{}
	default:
		return models.CookiePolicyWhitelist, strings.Split(cookies, ",")
	}
}

// ParseHeaderOptions splits the forward_headers parameter into a header
// list. Absent means no extra headers.
func ParseHeaderOptions(forwardHeaders *string) []string {
	if forwardHeaders == nil {
		return []string{}
	}
	headers := strings.ReplaceAll(*forwardHeaders, " ", "")
	if headers == "" {
		return []string{}
	}
	return strings.Split(headers, ",")
}

// NormalizeHeaders upper-cases, deduplicates, and sorts a header list.
func NormalizeHeaders(headers []string) []string {
	seen := make(map[string]struct{}, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.ToUpper(h)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
