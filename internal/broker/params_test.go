package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-gov/external-domain-broker/internal/models"
)

func strPtr(s string) *string { return &s }

func TestParseCookieOptions(t *testing.T) {
	tests := []struct {
		name        string
		input       *string
		wantPolicy  models.CookiePolicy
		wantCookies []string
	}{
		{
			name:        "absent forwards everything",
			input:       nil,
			wantPolicy:  models.CookiePolicyAll,
			wantCookies: []string{},
		},
		{
			name:        "empty forwards nothing",
			input:       strPtr(""),
			wantPolicy:  models.CookiePolicyNone,
			wantCookies: []string{},
		},
		{
			name:        "star forwards everything",
			input:       strPtr("*"),
			wantPolicy:  models.CookiePolicyAll,
			wantCookies: []string{},
		},
		{
			name:        "list becomes whitelist",
			input:       strPtr("JSESSIONID,session"),
			wantPolicy:  models.CookiePolicyWhitelist,
			wantCookies: []string{"JSESSIONID", "session"},
		},
		{
			name:        "spaces are stripped before splitting",
			input:       strPtr(" JSESSIONID , session "),
			wantPolicy:  models.CookiePolicyWhitelist,
			wantCookies: []string{"JSESSIONID", "session"},
		},
		{
			name:        "whitespace only means none",
			input:       strPtr("   "),
			wantPolicy:  models.CookiePolicyNone,
			wantCookies: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, cookies := ParseCookieOptions(tt.input)
			assert.Equal(t, tt.wantPolicy, policy)
			assert.Equal(t, tt.wantCookies, cookies)
		})
	}
}

func TestParseHeaderOptions(t *testing.T) {
	tests := []struct {
		name  string
		input *string
		want  []string
	}{
		{name: "absent means no headers", input: nil, want: []string{}},
		{name: "empty means no headers", input: strPtr(""), want: []string{}},
		{name: "splits on comma", input: strPtr("x-foo,x-bar"), want: []string{"x-foo", "x-bar"}},
		{name: "strips spaces", input: strPtr("x-foo, x-bar"), want: []string{"x-foo", "x-bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHeaderOptions(tt.input))
		})
	}
}

func TestNormalizeHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "upper-cases and sorts",
			input: []string{"x-forwarded-for", "Host"},
			want:  []string{"HOST", "X-FORWARDED-FOR"},
		},
		{
			name:  "deduplicates case-insensitively",
			input: []string{"host", "HOST", "Host"},
			want:  []string{"HOST"},
		},
		{
			name:  "empty stays empty",
			input: []string{},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeaders(tt.input))
		})
	}
}

func TestNormalizeHeadersIdempotent(t *testing.T) {
	once := NormalizeHeaders([]string{"x-b", "X-A", "x-a"})
	twice := NormalizeHeaders(once)
	assert.Equal(t, once, twice)
}
