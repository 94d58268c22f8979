package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"-1.5", -1.5, false},
		{" 7 ", 7, false},
		{"1e3", 1000, false},
		{"", 0, true},
		{"   ", 0, true},
		{"abc", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
		{"-Infinity", 0, true},
		{"1,5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTypeMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "10", FormatNumber(10))
	assert.Equal(t, "-0.5", FormatNumber(-0.5))
	a, b := 0.1, 0.2
	assert.Equal(t, "0.30000000000000004", FormatNumber(a+b))
	assert.Equal(t, "1000000000000000000000", FormatNumber(1e21))
}

func TestAddNumber(t *testing.T) {
	n, err := addNumber(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n)

	n, err = addNumber([]byte("2.5"), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n)

	_, err = addNumber([]byte("x"), 1)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = addNumber([]byte("1e308"), 1e308)
	assert.ErrorIs(t, err, ErrTypeMismatch, "overflow to infinity is rejected")
}

func TestExtremeKeepsStoredForm(t *testing.T) {
	got, err := extreme([]string{"01", "1.0", " 1"}, true)
	require.NoError(t, err)
	assert.Equal(t, "01", got)

	got, err = extreme([]string{"2", "-0", "0"}, false)
	require.NoError(t, err)
	assert.Equal(t, "-0", got)
}
