// Package imresh tolerance-based verification for floating-point comparisons
package imresh

import (
	"math"
)

// ToleranceConfig defines tolerance parameters for floating-point
// comparison. The reductions accumulate in scheduling-dependent order, so
// their tests compare against serial references with these tolerances.
type ToleranceConfig struct {
	// AbsTol is the absolute tolerance for values near zero
	AbsTol float32

	// RelTol is the relative tolerance as a fraction of the larger value
	RelTol float32

	// ULPTol is the maximum allowed difference in ULPs (Units in Last Place)
	ULPTol int
}

// DefaultTolerance returns default tolerance configuration
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol: 1e-7,
		RelTol: 1e-5,
		ULPTol: 4,
	}
}

// ReductionTolerance returns the tolerance admitted for order-dependent
// sum reductions over n elements: O(sqrt(n)*eps) relative error.
func ReductionTolerance(n int) ToleranceConfig {
	eps := float32(math.Sqrt(float64(n))) * 1.1920929e-7
	return ToleranceConfig{
		AbsTol: eps,
		RelTol: eps,
		ULPTol: 0,
	}
}

// Float32NearEqual checks if two float32 values are equal within tolerance
func Float32NearEqual(a, b float32, tol ToleranceConfig) bool {
	if a == b {
		return true
	}

	diff := math.Abs(float64(a - b))

	if diff <= float64(tol.AbsTol) {
		return true
	}

	larger := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	if diff <= larger*float64(tol.RelTol) {
		return true
	}

	if tol.ULPTol > 0 && Float32ULPDiff(a, b) <= tol.ULPTol {
		return true
	}

	return false
}

// Float32ULPDiff computes the difference in ULPs between two float32 values
func Float32ULPDiff(a, b float32) int {
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)

	// Different signs cannot be compared by bit distance.
	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}

	var diff uint32
	if aBits > bBits {
		diff = aBits - bBits
	} else {
		diff = bBits - aBits
	}
	if diff > uint32(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(diff)
}
