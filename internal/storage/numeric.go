package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseNumber reads a stored value as a float64. Surrounding spaces are
// ignored; empty strings, NaN and infinities are rejected.
func parseNumber(s string) (float64, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, fmt.Errorf("%w: %q", ErrTypeMismatch, s)
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrTypeMismatch, s)
	}
	return f, nil
}

// FormatNumber renders n in its shortest exact decimal form, the stored
// representation of every arithmetic result.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// addNumber parses current (a missing value counts as zero) and adds delta.
func addNumber(current []byte, delta float64) (float64, error) {
	base := 0.0
	if current != nil {
		var err error
		if base, err = parseNumber(string(current)); err != nil {
			return 0, err
		}
	}
	sum := base + delta
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, fmt.Errorf("%w: %s + %s is not finite", ErrTypeMismatch, FormatNumber(base), FormatNumber(delta))
	}
	return sum, nil
}

func parseAll(values []string) ([]float64, error) {
	nums := make([]float64, len(values))
	for i, v := range values {
		n, err := parseNumber(v)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}
	return nums, nil
}

// extreme returns the stored string of the greatest (or least) value. Ties
// keep the first one seen.
func extreme(values []string, greatest bool) (string, error) {
	nums, err := parseAll(values)
	if err != nil {
		return "", err
	}
	if len(nums) == 0 {
		return "", ErrEmpty
	}
	best := 0
	for i, n := range nums[1:] {
		if (greatest && n > nums[best]) || (!greatest && n < nums[best]) {
			best = i + 1
		}
	}
	return values[best], nil
}

func sum(values []string) (float64, error) {
	nums, err := parseAll(values)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total, nil
}

func avg(values []string) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	total, err := sum(values)
	if err != nil {
		return 0, err
	}
	return total / float64(len(values)), nil
}
