package mathx

import (
	"math/bits"

	"github.com/tuborlabs/tyield/internal/errors"
)

// BpsDenominator is the basis-point scale: 10_000 = 100%.
const BpsDenominator uint64 = 10_000

// Add returns a+b or fails with ArithmeticOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errors.Overflow("add", "uint64 addition overflow")
	}
	return sum, nil
}

// Sub returns a-b or fails with ArithmeticOverflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errors.Overflow("sub", "uint64 subtraction underflow")
	}
	return diff, nil
}

// Mul returns a*b or fails with ArithmeticOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errors.Overflow("mul", "uint64 multiplication overflow")
	}
	return lo, nil
}

// Div returns a/b, failing with ArithmeticOverflow on a zero divisor.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errors.Overflow("div", "division by zero")
	}
	return a / b, nil
}

// MulDiv returns a*b/den using a 128-bit intermediate so that the product
// may exceed 64 bits as long as the quotient fits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errors.Overflow("muldiv", "division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, errors.Overflow("muldiv", "quotient exceeds uint64")
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}

// DeviationBps returns |a-b| relative to base, in basis points.
func DeviationBps(a, base uint64) (uint64, error) {
	return MulDiv(AbsDiff(a, base), BpsDenominator, base)
}
