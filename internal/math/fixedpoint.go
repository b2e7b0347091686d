// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"math/bits"
	"sync"
)

var (
	// ErrOverflow is returned when a u64 accumulation or a narrowed result
	// would not fit in 64 bits.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrDivideByZero is returned when a pro-rata denominator is zero.
	ErrDivideByZero = errors.New("division by zero")
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // Floor (refunds never round in the payer's disfavour)
	RoundUp
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// CheckedAdd returns a + b or ErrOverflow if the sum wraps.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrOverflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// MultiplyInt128 performs a * b in widened precision to prevent overflow.
// The caller must return the result with ReleaseInt128.
func MultiplyInt128(a, b uint64) *big.Int {
	result := getInt128()
	result.SetUint64(a)
	factor := getInt128()
	factor.SetUint64(b)
	result.Mul(result, factor)
	putInt128(factor)
	return result
}

// ReleaseInt128 hands a value obtained from MultiplyInt128 back to the pool.
func ReleaseInt128(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with rounding and narrows the
// quotient back to 64 bits.
func DivideInt128(numerator *big.Int, denominator uint64, roundingMode RoundingMode) (uint64, error) {
	if denominator == 0 {
		return 0, ErrDivideByZero
	}

	denom := getInt128()
	denom.SetUint64(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer func() {
		putInt128(denom)
		putInt128(quotient)
		putInt128(remainder)
	}()

	quotient.QuoRem(numerator, denom, remainder)

	if !quotient.IsUint64() {
		return 0, ErrOverflow
	}
	result := quotient.Uint64()

	if remainder.Sign() == 0 {
		return result, nil
	}

	roundUp := false
	switch roundingMode {
	case RoundUp:
		roundUp = true
	case RoundHalfEven:
		// Compare 2*remainder against the denominator to avoid halving odd values
		remainder.Lsh(remainder, 1)
		switch remainder.Cmp(denom) {
		case 1:
			roundUp = true
		case 0:
			roundUp = result%2 != 0
		}
	}

	if roundUp {
		return CheckedAdd(result, 1)
	}
	return result, nil
}

// MulDiv computes a * b / c with a 128-bit intermediate.
func MulDiv(a, b, c uint64, roundingMode RoundingMode) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	product := MultiplyInt128(a, b)
	defer ReleaseInt128(product)
	return DivideInt128(product, c, roundingMode)
}

// ComputeProRata returns floor(amount * remaining / total). remaining must not
// exceed total, so the result never exceeds amount.
func ComputeProRata(amount uint64, remaining, total int64) (uint64, error) {
	if total <= 0 {
		return 0, ErrDivideByZero
	}
	if remaining <= 0 {
		return 0, nil
	}
	if remaining > total {
		remaining = total
	}
	return MulDiv(amount, uint64(remaining), uint64(total), RoundDown)
}
