package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptsIncomplete(t *testing.T) {
	assert.True(t, acceptsIncomplete(httptest.NewRequest("PUT", "/v2/service_instances/i-1?accepts_incomplete=true", nil)))
	assert.False(t, acceptsIncomplete(httptest.NewRequest("PUT", "/v2/service_instances/i-1?accepts_incomplete=false", nil)))
	assert.False(t, acceptsIncomplete(httptest.NewRequest("PUT", "/v2/service_instances/i-1", nil)))
}

func TestCorrelationID(t *testing.T) {
	r := httptest.NewRequest("PUT", "/v2/service_instances/i-1", nil)
	r.Header.Set("X-Correlation-ID", "corr-from-platform")
	assert.Equal(t, "corr-from-platform", correlationID(r))

	// Without a platform id every request still gets a unique one.
	first := correlationID(httptest.NewRequest("PUT", "/", nil))
	second := correlationID(httptest.NewRequest("PUT", "/", nil))
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
