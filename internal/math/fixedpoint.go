// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrArithmetic covers overflow, underflow, division by zero and failed
// conversions. Nothing in this package clamps a failed result.
var ErrArithmetic = errors.New("arithmetic error")

const (
	// DefaultPrecision is the number of decimal places shared by pool values.
	DefaultPrecision uint8 = 18

	// MaxPrecision keeps base*base inside 256 bits, so reciprocals cannot
	// overflow on the scaling step alone.
	MaxPrecision uint8 = 38

	maxSqrtIterations = 256
)

// RoundingMode selects the direction of every lossy step. There is no default:
// amounts owed to the pool round up, amounts owed to a user round down.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "RoundDown"
	case RoundUp:
		return "RoundUp"
	default:
		return fmt.Sprintf("RoundingMode(%d)", int(m))
	}
}

var (
	pow10 [MaxPrecision + 1]uint256.Int
	one   = uint256.NewInt(1)
)

func init() {
	pow10[0].SetOne()
	ten := uint256.NewInt(10)
	for i := 1; i <= int(MaxPrecision); i++ {
		pow10[i].Mul(&pow10[i-1], ten)
	}
}

// FixedPoint is an unsigned decimal value: magnitude / 10^precision.
// Values are immutable; every operation returns a new value.
type FixedPoint struct {
	mag       uint256.Int
	precision uint8
}

func checkPrecision(p uint8) error {
	if p > MaxPrecision {
		return fmt.Errorf("precision %d exceeds %d: %w", p, MaxPrecision, ErrArithmetic)
	}
	return nil
}

// FromUint64 lifts an integer amount at DefaultPrecision.
func FromUint64(v uint64) FixedPoint {
	fp, _ := FromUint64Precision(v, DefaultPrecision)
	return fp
}

// FromUint64Precision lifts an integer amount at the given precision.
func FromUint64Precision(v uint64, precision uint8) (FixedPoint, error) {
	if err := checkPrecision(precision); err != nil {
		return FixedPoint{}, err
	}
	var z uint256.Int
	// 2^64 * 10^38 stays far below 2^256.
	z.Mul(uint256.NewInt(v), &pow10[precision])
	return FixedPoint{mag: z, precision: precision}, nil
}

// FromRaw wraps an already-scaled magnitude.
func FromRaw(raw *uint256.Int, precision uint8) (FixedPoint, error) {
	if err := checkPrecision(precision); err != nil {
		return FixedPoint{}, err
	}
	return FixedPoint{mag: *raw, precision: precision}, nil
}

// One returns 1 at the given precision.
func One(precision uint8) FixedPoint {
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	return FixedPoint{mag: pow10[precision], precision: precision}
}

// Zero returns 0 at the given precision.
func Zero(precision uint8) FixedPoint {
	return FixedPoint{precision: precision}
}

// Parse reads a non-negative decimal string. Digits beyond precision are floored.
func Parse(s string, precision uint8) (FixedPoint, error) {
	if err := checkPrecision(precision); err != nil {
		return FixedPoint{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return FixedPoint{}, fmt.Errorf("parse %q: %v: %w", s, err, ErrArithmetic)
	}
	if d.IsNegative() {
		return FixedPoint{}, fmt.Errorf("parse %q: negative value: %w", s, ErrArithmetic)
	}
	scaled := d.Shift(int32(precision)).Floor()
	mag, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return FixedPoint{}, fmt.Errorf("parse %q: overflow: %w", s, ErrArithmetic)
	}
	return FixedPoint{mag: *mag, precision: precision}, nil
}

// MustParse is Parse at DefaultPrecision that panics on error. Intended for
// constants and tests.
func MustParse(s string) FixedPoint {
	fp, err := Parse(s, DefaultPrecision)
	if err != nil {
		panic(err)
	}
	return fp
}

// Raw returns a copy of the scaled magnitude.
func (f FixedPoint) Raw() *uint256.Int {
	return f.mag.Clone()
}

func (f FixedPoint) Precision() uint8 { return f.precision }

func (f FixedPoint) base() *uint256.Int { return &pow10[f.precision] }

func (f FixedPoint) IsZero() bool { return f.mag.IsZero() }

// Rescale converts to another precision, rounding in the given direction when
// digits are dropped.
func (f FixedPoint) Rescale(precision uint8, mode RoundingMode) (FixedPoint, error) {
	if err := checkPrecision(precision); err != nil {
		return FixedPoint{}, err
	}
	switch {
	case precision == f.precision:
		return f, nil
	case precision > f.precision:
		var z uint256.Int
		if _, overflow := z.MulOverflow(&f.mag, &pow10[precision-f.precision]); overflow {
			return FixedPoint{}, fmt.Errorf("rescale overflow: %w", ErrArithmetic)
		}
		return FixedPoint{mag: z, precision: precision}, nil
	default:
		z, err := mulDiv(&f.mag, one, &pow10[f.precision-precision], mode)
		if err != nil {
			return FixedPoint{}, fmt.Errorf("rescale: %w", err)
		}
		return FixedPoint{mag: z, precision: precision}, nil
	}
}

// Add returns f + o at f's precision. A finer-grained addend is floored first.
func (f FixedPoint) Add(o FixedPoint) (FixedPoint, error) {
	other, err := o.Rescale(f.precision, RoundDown)
	if err != nil {
		return FixedPoint{}, fmt.Errorf("add: %w", err)
	}
	var z uint256.Int
	if _, overflow := z.AddOverflow(&f.mag, &other.mag); overflow {
		return FixedPoint{}, fmt.Errorf("add overflow: %w", ErrArithmetic)
	}
	return FixedPoint{mag: z, precision: f.precision}, nil
}

// Sub returns f - o at f's precision and fails instead of wrapping. A
// finer-grained subtrahend is ceiled first so the difference never exceeds the
// exact value.
func (f FixedPoint) Sub(o FixedPoint) (FixedPoint, error) {
	other, err := o.Rescale(f.precision, RoundUp)
	if err != nil {
		return FixedPoint{}, fmt.Errorf("sub: %w", err)
	}
	var z uint256.Int
	if _, underflow := z.SubOverflow(&f.mag, &other.mag); underflow {
		return FixedPoint{}, fmt.Errorf("sub underflow %s - %s: %w", f, o, ErrArithmetic)
	}
	return FixedPoint{mag: z, precision: f.precision}, nil
}

// MulFloor returns floor(f * o) at f's precision.
func (f FixedPoint) MulFloor(o FixedPoint) (FixedPoint, error) {
	return f.mul(o, RoundDown)
}

// MulCeil returns ceil(f * o) at f's precision.
func (f FixedPoint) MulCeil(o FixedPoint) (FixedPoint, error) {
	return f.mul(o, RoundUp)
}

func (f FixedPoint) mul(o FixedPoint, mode RoundingMode) (FixedPoint, error) {
	z, err := mulDiv(&f.mag, &o.mag, o.base(), mode)
	if err != nil {
		return FixedPoint{}, fmt.Errorf("mul: %w", err)
	}
	return FixedPoint{mag: z, precision: f.precision}, nil
}

// DivFloor returns floor(f / o) at f's precision.
func (f FixedPoint) DivFloor(o FixedPoint) (FixedPoint, error) {
	return f.div(o, RoundDown)
}

// DivCeil returns ceil(f / o) at f's precision.
func (f FixedPoint) DivCeil(o FixedPoint) (FixedPoint, error) {
	return f.div(o, RoundUp)
}

func (f FixedPoint) div(o FixedPoint, mode RoundingMode) (FixedPoint, error) {
	z, err := mulDiv(&f.mag, o.base(), &o.mag, mode)
	if err != nil {
		return FixedPoint{}, fmt.Errorf("div: %w", err)
	}
	return FixedPoint{mag: z, precision: f.precision}, nil
}

// ReciprocalFloor returns floor(1 / f).
func (f FixedPoint) ReciprocalFloor() (FixedPoint, error) {
	return One(f.precision).DivFloor(f)
}

// ReciprocalCeil returns ceil(1 / f).
func (f FixedPoint) ReciprocalCeil() (FixedPoint, error) {
	return One(f.precision).DivCeil(f)
}

// Sqrt returns floor(sqrt(f)) at f's precision.
func (f FixedPoint) Sqrt() (FixedPoint, error) {
	return f.sqrt(RoundDown)
}

// SqrtCeil returns ceil(sqrt(f)) at f's precision.
func (f FixedPoint) SqrtCeil() (FixedPoint, error) {
	return f.sqrt(RoundUp)
}

func (f FixedPoint) sqrt(mode RoundingMode) (FixedPoint, error) {
	// sqrt(m/B) * B == sqrt(m*B)
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(&f.mag, f.base()); overflow {
		return FixedPoint{}, fmt.Errorf("sqrt overflow: %w", ErrArithmetic)
	}
	root, err := isqrt(&scaled)
	if err != nil {
		return FixedPoint{}, err
	}
	if mode == RoundUp {
		var sq uint256.Int
		sq.Mul(&root, &root)
		if !sq.Eq(&scaled) {
			root.AddUint64(&root, 1)
		}
	}
	return FixedPoint{mag: root, precision: f.precision}, nil
}

// isqrt is Newton's method started from a power of two at or above the root,
// so the sequence decreases monotonically onto floor(sqrt(x)).
func isqrt(x *uint256.Int) (uint256.Int, error) {
	var y, next uint256.Int
	if x.IsZero() {
		return y, nil
	}
	y.Lsh(one, uint((x.BitLen()+1)/2))
	for i := 0; i < maxSqrtIterations; i++ {
		next.Div(x, &y)
		next.Add(&next, &y)
		next.Rsh(&next, 1)
		if !next.Lt(&y) {
			return y, nil
		}
		y.Set(&next)
	}
	return y, fmt.Errorf("sqrt did not converge in %d iterations: %w", maxSqrtIterations, ErrArithmetic)
}

// mulDiv computes x*y/d with a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int, mode RoundingMode) (uint256.Int, error) {
	var z uint256.Int
	if d.IsZero() {
		return z, fmt.Errorf("division by zero: %w", ErrArithmetic)
	}
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		return z, fmt.Errorf("overflow: %w", ErrArithmetic)
	}
	if mode == RoundUp {
		// x*y - z*d is the remainder, which is below 2^256, so comparing the
		// wrapped products detects a non-zero remainder exactly.
		var prod, back uint256.Int
		prod.Mul(x, y)
		back.Mul(&z, d)
		if !prod.Eq(&back) {
			if _, overflow := z.AddOverflow(&z, one); overflow {
				return z, fmt.Errorf("overflow: %w", ErrArithmetic)
			}
		}
	}
	return z, nil
}

// Cmp compares exact values, even across precisions.
func (f FixedPoint) Cmp(o FixedPoint) int {
	if f.precision == o.precision {
		return f.mag.Cmp(&o.mag)
	}
	if f.precision < o.precision {
		var up uint256.Int
		if _, overflow := up.MulOverflow(&f.mag, &pow10[o.precision-f.precision]); overflow {
			return 1
		}
		return up.Cmp(&o.mag)
	}
	return -o.Cmp(f)
}

func (f FixedPoint) Eq(o FixedPoint) bool  { return f.Cmp(o) == 0 }
func (f FixedPoint) Lt(o FixedPoint) bool  { return f.Cmp(o) < 0 }
func (f FixedPoint) Gt(o FixedPoint) bool  { return f.Cmp(o) > 0 }
func (f FixedPoint) Lte(o FixedPoint) bool { return f.Cmp(o) <= 0 }
func (f FixedPoint) Gte(o FixedPoint) bool { return f.Cmp(o) >= 0 }

// Min returns the smaller of a and b.
func Min(a, b FixedPoint) FixedPoint {
	if b.Lt(a) {
		return b
	}
	return a
}

// FloorUint64 truncates to an integer token amount.
func (f FixedPoint) FloorUint64() (uint64, error) {
	return f.toUint64(RoundDown)
}

// CeilUint64 rounds up to an integer token amount.
func (f FixedPoint) CeilUint64() (uint64, error) {
	return f.toUint64(RoundUp)
}

func (f FixedPoint) toUint64(mode RoundingMode) (uint64, error) {
	q, err := mulDiv(&f.mag, one, f.base(), mode)
	if err != nil {
		return 0, err
	}
	if !q.IsUint64() {
		return 0, fmt.Errorf("%s does not fit in uint64: %w", f, ErrArithmetic)
	}
	return q.Uint64(), nil
}

// Decimal returns the value as a shopspring decimal, for display and JSON.
func (f FixedPoint) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(f.mag.ToBig(), -int32(f.precision))
}

// String prints every fractional digit, so the precision survives a round trip.
func (f FixedPoint) String() string {
	return f.Decimal().StringFixed(int32(f.precision))
}

func (f FixedPoint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText takes the precision from the number of fractional digits.
func (f *FixedPoint) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var precision int
	if i := strings.IndexByte(s, '.'); i >= 0 {
		precision = len(s) - i - 1
	}
	if precision > int(MaxPrecision) {
		return fmt.Errorf("%q has more than %d fractional digits: %w", s, MaxPrecision, ErrArithmetic)
	}
	parsed, err := Parse(s, uint8(precision))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
