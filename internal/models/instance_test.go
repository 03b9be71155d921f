package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomains(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "lower-cases and trims",
			raw:  " Example.COM , www.example.com ",
			want: []string{"example.com", "www.example.com"},
		},
		{
			name: "deduplicates preserving first-seen order",
			raw:  "b.example.com,a.example.com,B.example.com",
			want: []string{"b.example.com", "a.example.com"},
		},
		{
			name: "skips empty entries",
			raw:  "example.com,,  ,",
			want: []string{"example.com"},
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomains(tt.raw))
		})
	}
}

func TestHasSameDomains(t *testing.T) {
	instance := &ServiceInstance{DomainNames: []string{"a.example.com", "b.example.com"}}

	assert.True(t, instance.HasSameDomains([]string{"a.example.com", "b.example.com"}))
	assert.True(t, instance.HasSameDomains([]string{"b.example.com", "a.example.com"}))
	assert.False(t, instance.HasSameDomains([]string{"a.example.com"}))
	assert.False(t, instance.HasSameDomains([]string{"a.example.com", "c.example.com"}))

	// The comparison must not reorder the caller's slice.
	domains := []string{"b.example.com", "a.example.com"}
	instance.HasSameDomains(domains)
	assert.Equal(t, []string{"b.example.com", "a.example.com"}, domains)
}

func TestInstanceKindIsCDN(t *testing.T) {
	assert.False(t, KindALB.IsCDN())
	assert.True(t, KindCDN.IsCDN())
	assert.True(t, KindCDNDedicatedWAF.IsCDN())
	assert.False(t, KindMigration.IsCDN())
}
