package normalize

import "math"

// AmountToCents converts a float64 dollar amount to int64 cents.
// Uses math.Round to avoid truncation bias.
func AmountToCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

// DollarsToCents converts a nullable float64 dollar amount to nullable int64 cents.
func DollarsToCents(v *float64) *int64 {
	if v == nil {
		return nil
	}
	c := AmountToCents(*v)
	return &c
}
