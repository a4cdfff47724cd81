package helpers

import "golang.org/x/exp/constraints"

func Min[T constraints.Ordered](numbers ...T) T {
	var min T = numbers[0]
	for _, n := range numbers {
		if n < min {
			min = n
		}
	}
	return min
}

func Max[T constraints.Ordered](numbers ...T) T {
	var max T = numbers[0]
	for _, n := range numbers {
		if n > max {
			max = n
		}
	}
	return max
}

// RoundUp rounds n up to the nearest multiple of step.
func RoundUp[T constraints.Integer](n, step T) T {
	return (n + step - 1) / step * step
}

// CeilDiv returns n/d rounded towards positive infinity.
func CeilDiv[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}
