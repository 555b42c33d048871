// Package numeric provides the precision arithmetic the sizing engine and
// venue payloads share: rounding at a fixed number of decimal places and
// wire-safe rendering without float formatting artefacts.
package numeric

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds v half away from zero at places decimal places.
func Round(v float64, places int) float64 {
	if !Finite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64()
}

// Floor truncates v toward zero at places decimal places. Quantities and
// prices presented to a venue are floored so an order never exceeds what was
// sized.
func Floor(v float64, places int) float64 {
	if !Finite(v) {
		return v
	}
	return decimal.NewFromFloat(v).RoundDown(int32(places)).InexactFloat64()
}

// Render formats v at exactly places decimal places, truncating toward zero.
func Render(v float64, places int) string {
	if !Finite(v) {
		return "0"
	}
	return decimal.NewFromFloat(v).RoundDown(int32(places)).StringFixed(int32(places))
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Step returns the smallest representable increment at places decimal
// places, the unit used for precision tolerance checks.
func Step(places int) float64 {
	return math.Pow(10, -float64(places))
}
