package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID", input: "2902", expected: "2902"},
		{name: "16-bit UUID uppercase", input: "180F", expected: "180f"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "Full Bluetooth SIG UUID with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "Full Bluetooth SIG UUID uppercase", input: "00002902-0000-1000-8000-00805F9B34FB", expected: "2902"},
		{name: "UUID with braces", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},
		{name: "Vendor desk position service", input: "99FA0020-338A-1024-8A49-009C0215F78A", expected: "99fa0020338a10248a49009c0215f78a"},
		{name: "Vendor UUID without dashes", input: "99fa0021338a10248a49009c0215f78a", expected: "99fa0021338a10248a49009c0215f78a"},
		{name: "Custom UUID with SIG suffix but wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "Empty string", input: "", expected: ""},
		{name: "Not hexadecimal", input: "zz12", expected: ""},
		{name: "Wrong length", input: "12345", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	got := NormalizeUUIDs([]string{"180F", "99fa0001-338a-1024-8a49-009c0215f78a"})
	assert.Equal(t, []string{"180f", "99fa0001338a10248a49009c0215f78a"}, got)
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "180f", ShortenUUID("180f"))
	assert.Equal(t, "99fa0020", ShortenUUID("99fa0020338a10248a49009c0215f78a"))
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes valid UUIDs", func(t *testing.T) {
		got, err := ValidateUUID("180F", "0x2a19")
		assert.NoError(t, err)
		assert.Equal(t, []string{"180f", "2a19"}, got)
	})

	t.Run("rejects missing UUIDs", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.EqualError(t, err, "at least one UUID is required")
	})

	t.Run("rejects empty UUID", func(t *testing.T) {
		_, err := ValidateUUID("180f", "")
		assert.EqualError(t, err, "UUID at index 1 cannot be empty")
	})

	t.Run("rejects malformed UUID", func(t *testing.T) {
		_, err := ValidateUUID("not-a-uuid")
		assert.EqualError(t, err, "invalid UUID format at index 0: not-a-uuid")
	})
}
