package response

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	Accepted(w, map[string]string{"operation": "42"})

	assert.Equal(t, 202, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"operation":"42"}`, w.Body.String())
}

func TestJSONEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, 200, map[string]any{"bad": make(chan int)})

	// The status must reflect the failure, not the 200 the caller asked for.
	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to encode response")
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, brokererr.ErrAsyncRequired)

	assert.Equal(t, 422, w.Code)
	assert.JSONEq(t, `{
		"error": "AsyncRequired",
		"description": "This service plan requires client support for asynchronous service operations."
	}`, w.Body.String())

	w = httptest.NewRecorder()
	Error(w, assert.AnError)
	assert.Equal(t, 500, w.Code)
}
