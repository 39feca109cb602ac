package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.True(t, Valid(a))
	assert.Len(t, a, 36)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("led_")
	assert.True(t, strings.HasPrefix(id, "led_"))
	assert.Len(t, id, 4+32)
	assert.False(t, Valid(id))
}
