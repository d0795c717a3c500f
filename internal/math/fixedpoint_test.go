package math_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "PMMEngine/internal/math"

	"github.com/holiman/uint256"
)

func mustRaw(t *testing.T, dec string, precision uint8) fpmath.FixedPoint {
	t.Helper()
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		t.Fatalf("raw %q: %v", dec, err)
	}
	fp, err := fpmath.FromRaw(v, precision)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	return fp
}

func assertString(t *testing.T, label string, got fpmath.FixedPoint, err error, want string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", label, err)
	}
	if got.String() != want {
		t.Errorf("%s: got %s, want %s", label, got, want)
	}
}

// ==== Test: Lifting and formatting ====

func TestFromUint64_DefaultPrecision(t *testing.T) {
	fp := fpmath.FromUint64(1000)
	if fp.Precision() != fpmath.DefaultPrecision {
		t.Fatalf("precision: got %d, want %d", fp.Precision(), fpmath.DefaultPrecision)
	}
	if fp.Raw().Dec() != "1000000000000000000000" {
		t.Errorf("raw: got %s", fp.Raw().Dec())
	}
	if fp.String() != "1000.000000000000000000" {
		t.Errorf("string: got %s", fp.String())
	}
}

func TestFromUint64Precision_RejectsOversizedPrecision(t *testing.T) {
	_, err := fpmath.FromUint64Precision(1, fpmath.MaxPrecision+1)
	if !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		precision uint8
		want      string
	}{
		{"100", 18, "100.000000000000000000"},
		{"0.1", 18, "0.100000000000000000"},
		{"1.23456789", 4, "1.2345"},
		{"1.99999", 2, "1.99"},
		{"  42 ", 0, "42"},
	}
	for _, tt := range tests {
		got, err := fpmath.Parse(tt.in, tt.precision)
		assertString(t, tt.in, got, err, tt.want)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"-1", "abc", ""} {
		if _, err := fpmath.Parse(in, 18); !errors.Is(err, fpmath.ErrArithmetic) {
			t.Errorf("Parse(%q): expected ErrArithmetic, got %v", in, err)
		}
	}
}

func TestUnmarshalText_RecoversPrecision(t *testing.T) {
	var fp fpmath.FixedPoint
	if err := fp.UnmarshalText([]byte("12.3400")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fp.Precision() != 4 {
		t.Errorf("precision: got %d, want 4", fp.Precision())
	}
	if !fp.Eq(fpmath.MustParse("12.34")) {
		t.Errorf("value: got %s, want 12.34", fp)
	}

	text, _ := fpmath.MustParse("0.5").MarshalText()
	var back fpmath.FixedPoint
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Precision() != fpmath.DefaultPrecision || back.String() != "0.500000000000000000" {
		t.Errorf("round trip: got %s (precision %d)", back, back.Precision())
	}
}

// ==== Test: Add / Sub ====

func TestAddSub(t *testing.T) {
	a := fpmath.MustParse("1.5")
	b := fpmath.MustParse("0.25")

	sum, err := a.Add(b)
	assertString(t, "add", sum, err, "1.750000000000000000")

	diff, err := a.Sub(b)
	assertString(t, "sub", diff, err, "1.250000000000000000")

	_, err = b.Sub(a)
	if !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("sub underflow: expected ErrArithmetic, got %v", err)
	}
}

func TestAdd_Overflow(t *testing.T) {
	max := mustRaw(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", 18)
	if _, err := max.Add(fpmath.MustParse("0.000000000000000001")); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

func TestAddSub_MixedPrecision(t *testing.T) {
	coarse, _ := fpmath.Parse("2", 2)
	fine := fpmath.MustParse("0.005")

	// The addend is floored to two places, the subtrahend ceiled.
	sum, err := coarse.Add(fine)
	assertString(t, "add", sum, err, "2.00")

	diff, err := coarse.Sub(fine)
	assertString(t, "sub", diff, err, "1.99")
}

// ==== Test: Multiply / Divide rounding ====

func TestMulFloorCeil(t *testing.T) {
	tiny := fpmath.MustParse("0.000000000000000001")
	half := fpmath.MustParse("0.5")

	floor, err := tiny.MulFloor(half)
	assertString(t, "mul floor", floor, err, "0.000000000000000000")

	ceil, err := tiny.MulCeil(half)
	assertString(t, "mul ceil", ceil, err, "0.000000000000000001")

	exact, err := fpmath.MustParse("1.5").MulCeil(fpmath.MustParse("4"))
	assertString(t, "exact ceil", exact, err, "6.000000000000000000")
}

func TestDivFloorCeil(t *testing.T) {
	one := fpmath.MustParse("1")
	three := fpmath.MustParse("3")

	floor, err := one.DivFloor(three)
	assertString(t, "div floor", floor, err, "0.333333333333333333")

	ceil, err := one.DivCeil(three)
	assertString(t, "div ceil", ceil, err, "0.333333333333333334")

	exact, err := fpmath.MustParse("10").DivCeil(fpmath.MustParse("4"))
	assertString(t, "exact ceil", exact, err, "2.500000000000000000")
}

func TestDiv_ByZero(t *testing.T) {
	if _, err := fpmath.MustParse("1").DivFloor(fpmath.Zero(18)); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
	if _, err := fpmath.Zero(18).ReciprocalCeil(); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("reciprocal of zero: expected ErrArithmetic, got %v", err)
	}
}

func TestMul_Overflow(t *testing.T) {
	huge := mustRaw(t, "100000000000000000000000000000000000000000000000000000000000000000000000000", 18)
	if _, err := huge.MulFloor(fpmath.MustParse("10000")); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

func TestMul_MixedPrecision(t *testing.T) {
	price, _ := fpmath.Parse("2.5", 1)
	amount := fpmath.MustParse("3")

	got, err := amount.MulFloor(price)
	assertString(t, "mul", got, err, "7.500000000000000000")

	got, err = amount.DivFloor(price)
	assertString(t, "div", got, err, "1.200000000000000000")
}

func TestReciprocal(t *testing.T) {
	three := fpmath.MustParse("3")

	floor, err := three.ReciprocalFloor()
	assertString(t, "floor", floor, err, "0.333333333333333333")

	ceil, err := three.ReciprocalCeil()
	assertString(t, "ceil", ceil, err, "0.333333333333333334")

	quarter, err := fpmath.MustParse("4").ReciprocalFloor()
	assertString(t, "exact", quarter, err, "0.250000000000000000")
}

// ==== Test: Square root ====

func TestSqrt(t *testing.T) {
	tests := []struct {
		in        string
		wantFloor string
		wantCeil  string
	}{
		{"0", "0.000000000000000000", "0.000000000000000000"},
		{"2", "1.414213562373095048", "1.414213562373095049"},
		{"3", "1.732050807568877293", "1.732050807568877294"},
		{"16", "4.000000000000000000", "4.000000000000000000"},
		{"0.25", "0.500000000000000000", "0.500000000000000000"},
		{"10000000000000000000000000000000000000000", "100000000000000000000.000000000000000000", "100000000000000000000.000000000000000000"},
	}
	for _, tt := range tests {
		x := fpmath.MustParse(tt.in)
		floor, err := x.Sqrt()
		assertString(t, "sqrt "+tt.in, floor, err, tt.wantFloor)
		ceil, err := x.SqrtCeil()
		assertString(t, "sqrt ceil "+tt.in, ceil, err, tt.wantCeil)
	}
}

func TestSqrt_MatchesBigInt(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	inputs := []string{
		"1", "7", "999999999999999999", "123456789012345678901234567890",
		"18446744073709551615000000000000000000",
		"340282366920938463463374607431768211455",
	}
	for _, in := range inputs {
		raw, _ := new(big.Int).SetString(in, 10)
		want := new(big.Int).Sqrt(new(big.Int).Mul(raw, scale))

		x := mustRaw(t, in, 18)
		got, err := x.Sqrt()
		if err != nil {
			t.Fatalf("sqrt %s: %v", in, err)
		}
		if got.Raw().ToBig().Cmp(want) != 0 {
			t.Errorf("sqrt raw %s: got %s, want %s", in, got.Raw().Dec(), want)
		}
	}
}

func TestSqrt_Overflow(t *testing.T) {
	huge := mustRaw(t, "100000000000000000000000000000000000000000000000000000000000000000000000000", 18)
	if _, err := huge.Sqrt(); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

// ==== Test: Rescale and comparison ====

func TestRescale(t *testing.T) {
	x := fpmath.MustParse("1.999999999999999999")

	down, err := x.Rescale(0, fpmath.RoundDown)
	assertString(t, "down", down, err, "1")

	up, err := x.Rescale(0, fpmath.RoundUp)
	assertString(t, "up", up, err, "2")

	widened, err := down.Rescale(6, fpmath.RoundDown)
	assertString(t, "widen", widened, err, "1.000000")

	if _, err := x.Rescale(fpmath.MaxPrecision+1, fpmath.RoundDown); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

func TestCmp_AcrossPrecisions(t *testing.T) {
	a, _ := fpmath.Parse("1.5", 1)
	b := fpmath.MustParse("1.5")
	c := fpmath.MustParse("1.500000000000000001")

	if !a.Eq(b) {
		t.Errorf("%s should equal %s", a, b)
	}
	if !a.Lt(c) || !c.Gt(a) {
		t.Errorf("%s should be below %s", a, c)
	}
	if got := fpmath.Min(c, a); !got.Eq(a) {
		t.Errorf("min: got %s, want %s", got, a)
	}
}

// ==== Test: Integer conversion ====

func TestFloorCeilUint64(t *testing.T) {
	x := fpmath.MustParse("759.746926647957852")

	floor, err := x.FloorUint64()
	if err != nil || floor != 759 {
		t.Errorf("floor: got %d, %v; want 759", floor, err)
	}
	ceil, err := x.CeilUint64()
	if err != nil || ceil != 760 {
		t.Errorf("ceil: got %d, %v; want 760", ceil, err)
	}

	whole := fpmath.FromUint64(42)
	if c, _ := whole.CeilUint64(); c != 42 {
		t.Errorf("ceil of integer: got %d, want 42", c)
	}

	tooBig := fpmath.MustParse("18446744073709551616")
	if _, err := tooBig.FloorUint64(); !errors.Is(err, fpmath.ErrArithmetic) {
		t.Errorf("expected ErrArithmetic, got %v", err)
	}
}

func TestRoundingMode_String(t *testing.T) {
	if fpmath.RoundDown.String() != "RoundDown" || fpmath.RoundUp.String() != "RoundUp" {
		t.Errorf("unexpected names: %s %s", fpmath.RoundDown, fpmath.RoundUp)
	}
}
