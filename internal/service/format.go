package service

import "github.com/shopspring/decimal"

// FormatPrice renders a price with precision scaled to its magnitude.
func FormatPrice(p float64) string {
	d := decimal.NewFromFloat(p)
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return d.StringFixed(2)
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return d.StringFixed(4)
	case abs.GreaterThanOrEqual(decimal.New(1, -2)):
		return d.StringFixed(6)
	default:
		return d.StringFixed(8)
	}
}
