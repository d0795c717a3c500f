// Package curve holds the closed-form PMM curve functions. Everything here is
// pure: no state, no logging, deterministic rounding.
//
// Notation follows the usual PMM derivation: v0 is the target (equilibrium)
// reserve, v1 the current reserve, v2 the reserve after the trade, i the market
// price and k the slope in [0, 1].
package curve

import (
	"errors"
	"fmt"

	fpmath "PMMEngine/internal/math"
)

// ErrInvalidCurveParameters is returned when a slope lies outside [0, 1] or a
// reserve ordering precondition does not hold.
var ErrInvalidCurveParameters = errors.New("invalid curve parameters")

// Direction says which way the counter reserve moves in SolveForTrade.
type Direction int

const (
	// Decrease: the counter reserve shrinks and the pool pays it out.
	Decrease Direction = iota
	// Increase: the counter reserve grows and the pool is paid.
	Increase
)

func (d Direction) String() string {
	if d == Increase {
		return "Increase"
	}
	return "Decrease"
}

// ValidateSlope rejects k > 1. The unsigned type already excludes k < 0.
func ValidateSlope(slope fpmath.FixedPoint) error {
	if slope.Gt(fpmath.One(slope.Precision())) {
		return fmt.Errorf("slope %s above 1: %w", slope, ErrInvalidCurveParameters)
	}
	return nil
}

// Integrate returns i*(v1-v2)*(1 - k + k*v0^2/(v1*v2)), the amount paid out as
// the other side's reserve moves from v1 down to v2. Every step is floored.
func Integrate(v0, v1, v2, price, slope fpmath.FixedPoint) (fpmath.FixedPoint, error) {
	return integrate(v0, v1, v2, price, slope, fpmath.RoundDown)
}

// IntegrateCeil is Integrate with every step rounded up, for amounts the pool
// is owed.
func IntegrateCeil(v0, v1, v2, price, slope fpmath.FixedPoint) (fpmath.FixedPoint, error) {
	return integrate(v0, v1, v2, price, slope, fpmath.RoundUp)
}

func integrate(v0, v1, v2, price, slope fpmath.FixedPoint, mode fpmath.RoundingMode) (fpmath.FixedPoint, error) {
	if err := ValidateSlope(slope); err != nil {
		return fpmath.FixedPoint{}, err
	}
	// A linear curve may integrate down to an empty reserve; any other slope
	// divides by v2.
	if v1.Lt(v2) || v0.Lt(v1) || (v2.IsZero() && !slope.IsZero()) {
		return fpmath.FixedPoint{}, fmt.Errorf("integrate needs v0 >= v1 >= v2 > 0, got %s, %s, %s: %w",
			v0, v1, v2, ErrInvalidCurveParameters)
	}

	var c fpmath.Calc
	fair := c.Mul(price, c.Sub(v1, v2), mode)
	if slope.IsZero() {
		return fair, c.Err()
	}

	one := fpmath.One(slope.Precision())
	v0v0v1v2 := c.Div(c.Div(c.Mul(v0, v0, mode), v1, mode), v2, mode)
	penalty := c.Mul(slope, v0v0v1v2, mode)
	factor := c.Add(c.Sub(one, slope), penalty)
	result := c.Mul(fair, factor, mode)
	if c.Err() != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("integrate: %w", c.Err())
	}
	return result, nil
}

// SolveForTrade returns |v1 - v2| where v2 solves
//
//	(1-k)*v2^2 + b*v2 - k*v0^2 = 0
//
// for a trade that moves the counter reserve by i*amount in the given
// direction. The negative root is discarded. The result is the amount paid out
// (Decrease) or owed to the pool (Increase).
func SolveForTrade(v0, v1, amount, price, slope fpmath.FixedPoint, dir Direction) (fpmath.FixedPoint, error) {
	if err := ValidateSlope(slope); err != nil {
		return fpmath.FixedPoint{}, err
	}

	var c fpmath.Calc
	p := slope.Precision()
	one := fpmath.One(p)
	zero := fpmath.Zero(p)

	// Payouts price the input down, receipts price it up.
	var idelta fpmath.FixedPoint
	if dir == Increase {
		idelta = c.MulCeil(price, amount)
	} else {
		idelta = c.MulFloor(price, amount)
	}
	if c.Err() != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for trade: %w", c.Err())
	}
	if idelta.IsZero() {
		return zero, nil
	}

	if slope.IsZero() {
		if dir == Increase {
			return idelta, nil
		}
		return fpmath.Min(idelta, v1), nil
	}
	if v0.IsZero() || v1.IsZero() {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for trade needs v0, v1 > 0, got %s, %s: %w",
			v0, v1, ErrInvalidCurveParameters)
	}

	var result fpmath.FixedPoint
	switch {
	case slope.Eq(one):
		// Constant product: i*delta = v0^2 * |1/v2 - 1/v1|, so v2 = v1/(1 +- t)
		// with t = i*delta*v1/v0^2.
		var v2 fpmath.FixedPoint
		if dir == Increase {
			t := c.DivCeil(c.MulCeil(idelta, v1), c.MulFloor(v0, v0))
			if c.Err() == nil && t.Gte(one) {
				return fpmath.FixedPoint{}, fmt.Errorf("solve for trade: constant-product receipt unbounded: %w",
					fpmath.ErrArithmetic)
			}
			v2 = c.DivCeil(v1, c.Sub(one, t))
			result = c.Sub(v2, v1)
		} else {
			t := c.DivFloor(c.MulFloor(idelta, v1), c.MulCeil(v0, v0))
			v2 = c.DivCeil(v1, c.Add(one, t))
			result = c.Sub(v1, v2)
		}

	default:
		// Every intermediate is rounded so that v2 comes out high: payouts
		// shrink and receipts grow.
		oneMinusK := c.Sub(one, slope)

		// b = (1-k)*v1 - k*v0^2/v1 - i*delta (Decrease) or + i*delta (Increase).
		// The sign comes from comparing the two non-negative halves.
		left := c.MulCeil(oneMinusK, v1)
		right := c.DivFloor(c.MulFloor(slope, c.MulFloor(v0, v0)), v1)
		if dir == Increase {
			left = c.Add(left, idelta)
		} else {
			right = c.Add(right, idelta)
		}
		var b fpmath.FixedPoint
		negativeB := left.Gte(right)
		if negativeB {
			b = c.Sub(left, right)
		} else {
			b = c.Sub(right, left)
		}

		// sqrt(b^2 + 4(1-k)k*v0^2)
		four := fpmath.FromUint64(4)
		fourAC := c.MulCeil(c.MulCeil(four, oneMinusK), c.MulCeil(slope, c.MulCeil(v0, v0)))
		root := c.SqrtCeil(c.Add(c.MulCeil(b, b), fourAC))

		var numerator fpmath.FixedPoint
		if negativeB {
			numerator = c.Add(b, root)
		} else {
			numerator = c.Sub(root, b)
		}
		two := fpmath.FromUint64(2)
		v2 := c.DivCeil(numerator, c.MulFloor(two, oneMinusK))
		if c.Err() != nil {
			break
		}

		switch {
		case dir == Increase && v2.Gt(v1):
			result = c.Sub(v2, v1)
		case dir == Decrease && v2.Lt(v1):
			result = c.Sub(v1, v2)
		default:
			result = zero
		}
	}

	if c.Err() != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for trade: %w", c.Err())
	}
	return result, nil
}

// SolveForTarget returns the equilibrium reserve v0 >= v1 that integrates back
// down to v1 over a priced delta of i*delta.
func SolveForTarget(v1, delta, price, slope fpmath.FixedPoint) (fpmath.FixedPoint, error) {
	if err := ValidateSlope(slope); err != nil {
		return fpmath.FixedPoint{}, err
	}

	var c fpmath.Calc
	p := slope.Precision()
	idelta := c.MulFloor(price, delta)
	if c.Err() != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for target: %w", c.Err())
	}

	if idelta.IsZero() {
		return v1, nil
	}
	if slope.IsZero() {
		v0 := c.Add(v1, idelta)
		if c.Err() != nil {
			return fpmath.FixedPoint{}, fmt.Errorf("solve for target: %w", c.Err())
		}
		return v0, nil
	}
	if v1.IsZero() {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for target needs v1 > 0 when slope > 0: %w",
			ErrInvalidCurveParameters)
	}

	four := fpmath.FromUint64(4)
	two := fpmath.FromUint64(2)
	v1sq := c.MulFloor(v1, v1)
	ideltaV1 := c.MulFloor(idelta, v1)

	var v0 fpmath.FixedPoint
	if slope.Eq(fpmath.One(p)) {
		// (v1 + sqrt(v1^2 + 4*i*delta*v1)) / 2
		root := c.Sqrt(c.Add(v1sq, c.MulFloor(four, ideltaV1)))
		v0 = c.DivFloor(c.Add(v1, root), two)
	} else {
		// v1 + (sqrt(v1^2 + 4k*i*delta*v1) - v1) / 2k
		root := c.Sqrt(c.Add(v1sq, c.MulFloor(c.MulFloor(four, slope), ideltaV1)))
		if c.Err() == nil && root.Lte(v1) {
			// delta is below the resolution of the square root
			return v1, nil
		}
		v0 = c.Add(v1, c.DivFloor(c.Sub(root, v1), c.MulFloor(two, slope)))
	}
	if c.Err() != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("solve for target: %w", c.Err())
	}
	if v0.Lt(v1) {
		// floor of the k == 1 halving can land one unit under v1
		return v1, nil
	}
	return v0, nil
}
