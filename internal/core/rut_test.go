package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDigit(t *testing.T) {
	cases := map[string]string{
		"12345678": "5",
		"11111111": "1",
		"7654321":  "6",
		"6000000":  "K",
	}
	for body, want := range cases {
		assert.Equal(t, want, CheckDigit(body), body)
	}
}

func TestValidateRUT(t *testing.T) {
	valid := map[string]string{
		"12345678-5":   "12345678-5",
		"12.345.678-5": "12345678-5",
		" 11111111-1 ": "11111111-1",
		"6000000-k":    "6000000-K",
		"7.654.321-6":  "7654321-6",
	}
	for in, want := range valid {
		got, err := ValidateRUT(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "12345678-4", "12345678", "123-4", "ABCDEFGH-1", "123456789-0"} {
		_, err := ValidateRUT(in)
		assert.ErrorIs(t, err, ErrInvalidRUT, in)
	}
}

func TestFormatRUT(t *testing.T) {
	assert.Equal(t, "12.345.678-5", FormatRUT("12345678-5"))
	assert.Equal(t, "7.654.321-6", FormatRUT("7654321-6"))
	assert.Equal(t, "6.000.000-K", FormatRUT("6000000-k"))
	assert.Equal(t, "NODASH", FormatRUT("nodash"))
}
