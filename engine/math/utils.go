package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// DivCeil returns ⌈n/d⌉ for non-negative integers. d must be > 0.
func DivCeil[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}

// DispatchSize returns the number of workgroups needed to cover a
// width x height grid with square tiles of the given size.
func DispatchSize(width, height, tile uint32) (uint32, uint32, uint32) {
	return DivCeil(width, tile), DivCeil(height, tile), 1
}
