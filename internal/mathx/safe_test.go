package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuborlabs/tyield/internal/errors"
)

// TestAdd tests checked addition
func TestAdd(t *testing.T) {
	sum, err := Add(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), sum)

	_, err = Add(math.MaxUint64, 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindArithmeticOverflow))
}

// TestSub tests checked subtraction
func TestSub(t *testing.T) {
	diff, err := Sub(10, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), diff)

	_, err = Sub(4, 10)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindArithmeticOverflow))
}

// TestMul tests checked multiplication
func TestMul(t *testing.T) {
	product, err := Mul(1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), product)

	_, err = Mul(math.MaxUint64, 2)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindArithmeticOverflow))
}

// TestDiv tests checked division including the zero divisor case
func TestDiv(t *testing.T) {
	q, err := Div(10, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q)

	_, err = Div(10, 0)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindArithmeticOverflow))
}

// TestMulDiv tests the 128-bit intermediate: products above 64 bits are fine
// as long as the quotient fits
func TestMulDiv(t *testing.T) {
	big := uint64(math.MaxUint64 / 2)
	q, err := MulDiv(big, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, big/2, q)

	_, err = MulDiv(math.MaxUint64, math.MaxUint64, 2)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindArithmeticOverflow))

	_, err = MulDiv(1, 1, 0)
	require.Error(t, err)
}

// TestAbsDiff tests absolute difference in both directions
func TestAbsDiff(t *testing.T) {
	assert.Equal(t, uint64(7), AbsDiff(10, 3))
	assert.Equal(t, uint64(7), AbsDiff(3, 10))
	assert.Equal(t, uint64(0), AbsDiff(5, 5))
}

// TestDeviationBps tests deviation measurement in basis points
func TestDeviationBps(t *testing.T) {
	// 110 vs base 100 -> 10% -> 1000 bps
	dev, err := DeviationBps(110, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), dev)

	// Symmetric below the base
	dev, err = DeviationBps(90, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), dev)

	_, err = DeviationBps(100, 0)
	require.Error(t, err)
}
