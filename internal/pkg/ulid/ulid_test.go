package ulid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	first := New()
	second := New()

	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
	// Monotonic entropy keeps ids from the same process ordered.
	assert.Less(t, first, second)
}
