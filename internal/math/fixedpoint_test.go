package math_test

import (
	fpmath "InsureLedger/internal/math"
	"errors"
	stdmath "math"
	"testing"
)

// ============================================================================
// Test: Checked arithmetic
// ============================================================================

func TestCheckedAdd(t *testing.T) {
	sum, err := fpmath.CheckedAdd(40, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 42 {
		t.Errorf("got %d, want 42", sum)
	}

	if _, err := fpmath.CheckedAdd(stdmath.MaxUint64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestCheckedSub(t *testing.T) {
	diff, err := fpmath.CheckedSub(10, 4)
	if err != nil || diff != 6 {
		t.Errorf("got (%d, %v), want (6, nil)", diff, err)
	}

	if _, err := fpmath.CheckedSub(4, 10); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// ============================================================================
// Test: Widened multiply/divide
// ============================================================================

func TestMulDiv_NoIntermediateOverflow(t *testing.T) {
	// MaxUint64 * MaxUint64 overflows 64 bits but the quotient fits
	got, err := fpmath.MulDiv(stdmath.MaxUint64, stdmath.MaxUint64, stdmath.MaxUint64, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stdmath.MaxUint64 {
		t.Errorf("got %d, want MaxUint64", got)
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	_, err := fpmath.MulDiv(stdmath.MaxUint64, 2, 1, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_DivideByZero(t *testing.T) {
	if _, err := fpmath.MulDiv(1, 1, 0, fpmath.RoundDown); !errors.Is(err, fpmath.ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestMulDiv_RoundingModes(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		c    uint64
		mode fpmath.RoundingMode
		want uint64
	}{
		{"down 7/2", 7, 1, 2, fpmath.RoundDown, 3},
		{"up 7/2", 7, 1, 2, fpmath.RoundUp, 4},
		{"half-even 5/2 -> 2", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half-even 7/2 -> 4", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half-even 10/3 -> 3", 10, 1, 3, fpmath.RoundHalfEven, 3},
		{"half-even 11/3 -> 4", 11, 1, 3, fpmath.RoundHalfEven, 4},
		{"exact", 9, 2, 3, fpmath.RoundUp, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.c, tt.mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Test: Pro-rata
// ============================================================================

func TestComputeProRata_ThirtyDayWindow(t *testing.T) {
	const duration = int64(2_592_000)

	tests := []struct {
		name    string
		elapsed int64
		want    uint64
	}{
		{"at start", 0, 100},
		{"half elapsed", 1_296_000, 50},
		{"one second left", 2_591_999, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.ComputeProRata(100, duration-tt.elapsed, duration)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeProRata_LargePremium(t *testing.T) {
	got, err := fpmath.ComputeProRata(stdmath.MaxUint64, 1_296_000, 2_592_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stdmath.MaxUint64/2 {
		t.Errorf("got %d, want %d", got, uint64(stdmath.MaxUint64/2))
	}
}

func TestComputeProRata_ZeroDuration(t *testing.T) {
	if _, err := fpmath.ComputeProRata(100, 0, 0); !errors.Is(err, fpmath.ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}
