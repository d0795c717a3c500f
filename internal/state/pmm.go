// internal/state/pmm.go
package state

import (
	"fmt"

	"PMMEngine/internal/curve"
	fpmath "PMMEngine/internal/math"
)

// PMMState is the curve state of one pool. Methods have value receivers and
// return a new state, so a failed operation never leaves a half-applied copy.
// Reserves are always whole token amounts; targets may carry fractions.
type PMMState struct {
	MarketPrice  fpmath.FixedPoint `json:"market_price"`
	Slope        fpmath.FixedPoint `json:"slope"`
	BaseTarget   fpmath.FixedPoint `json:"base_target"`
	QuoteTarget  fpmath.FixedPoint `json:"quote_target"`
	BaseReserve  fpmath.FixedPoint `json:"base_reserve"`
	QuoteReserve fpmath.FixedPoint `json:"quote_reserve"`
	Regime       Regime            `json:"regime"`
}

// NewState returns an empty, balanced pool quoting at marketPrice with slope k.
func NewState(marketPrice, slope fpmath.FixedPoint) (PMMState, error) {
	price, err := marketPrice.Rescale(fpmath.DefaultPrecision, fpmath.RoundDown)
	if err != nil {
		return PMMState{}, err
	}
	k, err := slope.Rescale(fpmath.DefaultPrecision, fpmath.RoundDown)
	if err != nil {
		return PMMState{}, err
	}
	zero := fpmath.Zero(fpmath.DefaultPrecision)
	s := PMMState{
		MarketPrice:  price,
		Slope:        k,
		BaseTarget:   zero,
		QuoteTarget:  zero,
		BaseReserve:  zero,
		QuoteReserve: zero,
		Regime:       Balanced,
	}
	if err := s.Validate(); err != nil {
		return PMMState{}, err
	}
	return s, nil
}

// Validate checks the parameters and that the cached regime matches the
// reserves. Run it on anything loaded from outside the process.
func (s PMMState) Validate() error {
	fields := []struct {
		name  string
		value fpmath.FixedPoint
	}{
		{"market_price", s.MarketPrice},
		{"slope", s.Slope},
		{"base_target", s.BaseTarget},
		{"quote_target", s.QuoteTarget},
		{"base_reserve", s.BaseReserve},
		{"quote_reserve", s.QuoteReserve},
	}
	for _, f := range fields {
		if f.value.Precision() != fpmath.DefaultPrecision {
			return fmt.Errorf("%s has precision %d, want %d: %w",
				f.name, f.value.Precision(), fpmath.DefaultPrecision, curve.ErrInvalidCurveParameters)
		}
	}
	if s.MarketPrice.IsZero() {
		return fmt.Errorf("market price is zero: %w", curve.ErrInvalidCurveParameters)
	}
	if err := curve.ValidateSlope(s.Slope); err != nil {
		return err
	}
	return s.checkRegime()
}

func (s PMMState) checkRegime() error {
	var ok bool
	switch s.Regime {
	case Balanced:
		ok = s.BaseReserve.Eq(s.BaseTarget) && s.QuoteReserve.Eq(s.QuoteTarget)
	case BaseSurplus:
		ok = s.BaseReserve.Gte(s.BaseTarget) && s.QuoteReserve.Lte(s.QuoteTarget)
	case QuoteSurplus:
		ok = s.QuoteReserve.Gte(s.QuoteTarget) && s.BaseReserve.Lte(s.BaseTarget)
	}
	if !ok {
		return fmt.Errorf("%s with base %s/%s quote %s/%s: %w", s.Regime,
			s.BaseReserve, s.BaseTarget, s.QuoteReserve, s.QuoteTarget, ErrRegimeInvariant)
	}
	return nil
}

// AdjustTarget re-derives the target on the deficit side from the current
// reserves and market price. At equilibrium there is nothing to derive and the
// call fails with ErrEquilibriumAdjustment.
func (s PMMState) AdjustTarget() (PMMState, error) {
	var c fpmath.Calc
	switch s.Regime {
	case BaseSurplus:
		delta := c.Sub(s.BaseReserve, s.BaseTarget)
		if err := c.Err(); err != nil {
			return PMMState{}, fmt.Errorf("adjust target: %w", err)
		}
		target, err := curve.SolveForTarget(s.QuoteReserve, delta, s.MarketPrice, s.Slope)
		if err != nil {
			return PMMState{}, fmt.Errorf("adjust quote target: %w", err)
		}
		s.QuoteTarget = target

	case QuoteSurplus:
		delta := c.Sub(s.QuoteReserve, s.QuoteTarget)
		inverse := c.ReciprocalFloor(s.MarketPrice)
		if err := c.Err(); err != nil {
			return PMMState{}, fmt.Errorf("adjust target: %w", err)
		}
		target, err := curve.SolveForTarget(s.BaseReserve, delta, inverse, s.Slope)
		if err != nil {
			return PMMState{}, fmt.Errorf("adjust base target: %w", err)
		}
		s.BaseTarget = target

	default:
		return PMMState{}, ErrEquilibriumAdjustment
	}
	return s, nil
}

// WithMarketPrice applies a new reference price and re-derives the target on
// the deficit side.
func (s PMMState) WithMarketPrice(price fpmath.FixedPoint) (PMMState, error) {
	p, err := price.Rescale(fpmath.DefaultPrecision, fpmath.RoundDown)
	if err != nil {
		return PMMState{}, err
	}
	if p.IsZero() {
		return PMMState{}, fmt.Errorf("market price is zero: %w", curve.ErrInvalidCurveParameters)
	}
	s.MarketPrice = p
	if s.Regime == Balanced {
		return s, nil
	}
	return s.reconcile(s.Regime)
}

// MidPrice is the marginal price of base in quote at the current reserves:
// i / f(Q0/Q) with a base surplus, i * f(B0/B) otherwise, f(r) = 1 - k + k*r^2.
func (s PMMState) MidPrice() (fpmath.FixedPoint, error) {
	if s.Regime == Balanced || s.Slope.IsZero() {
		return s.MarketPrice, nil
	}
	adjusted, err := s.AdjustTarget()
	if err != nil {
		return fpmath.FixedPoint{}, err
	}

	var c fpmath.Calc
	one := fpmath.One(fpmath.DefaultPrecision)
	curvature := func(target, reserve fpmath.FixedPoint) fpmath.FixedPoint {
		ratio := c.DivFloor(c.DivFloor(c.MulFloor(target, target), reserve), reserve)
		return c.Add(c.Sub(one, s.Slope), c.MulFloor(s.Slope, ratio))
	}

	var mid fpmath.FixedPoint
	if adjusted.Regime == BaseSurplus {
		mid = c.DivFloor(s.MarketPrice, curvature(adjusted.QuoteTarget, adjusted.QuoteReserve))
	} else {
		mid = c.MulFloor(s.MarketPrice, curvature(adjusted.BaseTarget, adjusted.BaseReserve))
	}
	if err := c.Err(); err != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("mid price: %w", err)
	}
	return mid, nil
}

// reconcile settles a state whose reserves have just moved. hint is the regime
// the operation expects to land in. Balanced snaps both targets onto the
// reserves; a surplus hint re-derives the opposite target. If the hinted side
// does not hold, the other surplus side is tried.
func (s PMMState) reconcile(hint Regime) (PMMState, error) {
	baseUp := s.BaseReserve.Gte(s.BaseTarget)
	quoteUp := s.QuoteReserve.Gte(s.QuoteTarget)

	switch hint {
	case Balanced:
		s.BaseTarget = s.BaseReserve
		s.QuoteTarget = s.QuoteReserve
		s.Regime = Balanced
		return s, nil
	case BaseSurplus:
		if baseUp {
			return s.settle(BaseSurplus)
		}
		if quoteUp {
			return s.settle(QuoteSurplus)
		}
	case QuoteSurplus:
		if quoteUp {
			return s.settle(QuoteSurplus)
		}
		if baseUp {
			return s.settle(BaseSurplus)
		}
	}
	return PMMState{}, fmt.Errorf("both reserves below target (base %s/%s quote %s/%s): %w",
		s.BaseReserve, s.BaseTarget, s.QuoteReserve, s.QuoteTarget, ErrRegimeInvariant)
}

func (s PMMState) settle(r Regime) (PMMState, error) {
	s.Regime = r
	next, err := s.AdjustTarget()
	if err != nil {
		return PMMState{}, err
	}
	if next.BaseReserve.Eq(next.BaseTarget) && next.QuoteReserve.Eq(next.QuoteTarget) {
		next.Regime = Balanced
	}
	if err := next.checkRegime(); err != nil {
		return PMMState{}, err
	}
	return next, nil
}

// CanonicalBytes returns a deterministic serialization for hashing.
func (s PMMState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 6*33+1)
	for _, v := range []fpmath.FixedPoint{
		s.MarketPrice, s.Slope,
		s.BaseTarget, s.QuoteTarget,
		s.BaseReserve, s.QuoteReserve,
	} {
		// precision (1 byte) + magnitude (32 bytes BE)
		buf = append(buf, v.Precision())
		raw := v.Raw().Bytes32()
		buf = append(buf, raw[:]...)
	}
	return append(buf, s.Regime.StorageByte())
}

func lift(v uint64) fpmath.FixedPoint {
	return fpmath.FromUint64(v)
}

// reserveUint64 returns a reserve as a token amount. Reserves only ever move by
// whole amounts, so the floor is exact.
func reserveUint64(v fpmath.FixedPoint) (uint64, error) {
	return v.FloorUint64()
}
