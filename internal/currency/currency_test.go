package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	a := Default()

	tests := []struct {
		in   string
		want string
	}{
		{"usd", "USD"},
		{" eur ", "EUR"},
		{"TWD", "TWD"},
		{"GBP", "TWD"}, // not on the list
		{"", "TWD"},
		{"us dollar", "TWD"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Normalize(tt.in))
		})
	}
}

func TestAllowList_BaseAlwaysAllowed(t *testing.T) {
	a := NewAllowList("usd")
	assert.Equal(t, "USD", a.Base())
	assert.True(t, a.Allowed("USD"))
	assert.True(t, a.IsBase("usd"))
	assert.False(t, a.Allowed("EUR"))
}

func TestAllowList_EmptyBaseFallsBack(t *testing.T) {
	a := NewAllowList("", "usd", " ")
	assert.Equal(t, DefaultBase, a.Base())
	assert.Equal(t, []string{"TWD", "USD"}, a.Codes())
}

func TestCodes_BaseFirst(t *testing.T) {
	codes := Default().Codes()
	assert.Equal(t, "TWD", codes[0])
	assert.ElementsMatch(t, []string{"TWD", "USD", "EUR", "JPY", "CNY"}, codes)
}
