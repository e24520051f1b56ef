package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"10", "10.00", nil},
		{"10.5", "10.50", nil},
		{" 0.01 ", "0.01", nil},
		{"0", "0.00", nil},
		{"", "", ErrInvalidAmount},
		{"abc", "", ErrInvalidAmount},
		{"1.2.3", "", ErrInvalidAmount},
		{"-5", "", ErrNegativeAmount},
		{"1.234", "", ErrTooPrecise},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, Format(got))
	}
}

func TestParsePositive_RejectsZero(t *testing.T) {
	_, err := ParsePositive("0.00")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	d, err := ParsePositive("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", Format(d))
}

func TestArithmeticStaysExact(t *testing.T) {
	// 0.1 + 0.2 would drift in float64
	sum := MustParse("0.10").Add(MustParse("0.20"))
	assert.Equal(t, "0.30", Format(sum))

	bal := MustParse("10000").Sub(MustParse("50"))
	assert.Equal(t, "9950.00", Format(bal))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
