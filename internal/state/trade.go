package state

import (
	"fmt"

	"PMMEngine/internal/curve"
	fpmath "PMMEngine/internal/math"
)

// TradeResult is the externally visible outcome of a trade.
type TradeResult struct {
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
	Regime    Regime `json:"regime"`
}

// SellBase prices a sale of amount base tokens to the pool. The quote paid out
// is floored. The returned state carries the moved reserves and re-derived
// targets; the receiver is left untouched.
//
//	Balanced      solve against (Q0, Q0)                      -> BaseSurplus
//	BaseSurplus   solve against (Q0, Q)                       -> BaseSurplus
//	QuoteSurplus  amount <  B0-B: integrate, capped at Q-Q0   -> QuoteSurplus
//	              amount == B0-B: exactly Q-Q0                -> Balanced
//	              amount >  B0-B: Q-Q0 plus a balanced sale   -> BaseSurplus
func (s PMMState) SellBase(amount uint64) (TradeResult, PMMState, error) {
	if amount == 0 {
		return TradeResult{Regime: s.Regime}, s, nil
	}
	amt := lift(amount)

	var (
		out  fpmath.FixedPoint
		hint Regime
		err  error
	)
	switch s.Regime {
	case Balanced:
		out, err = curve.SolveForTrade(s.QuoteTarget, s.QuoteTarget, amt, s.MarketPrice, s.Slope, curve.Decrease)
		hint = BaseSurplus

	case BaseSurplus:
		out, err = curve.SolveForTrade(s.QuoteTarget, s.QuoteReserve, amt, s.MarketPrice, s.Slope, curve.Decrease)
		hint = BaseSurplus

	case QuoteSurplus:
		out, hint, err = crossSell(amt,
			s.BaseTarget, s.BaseReserve, s.QuoteTarget, s.QuoteReserve,
			s.MarketPrice, s.Slope)

	default:
		return TradeResult{}, PMMState{}, fmt.Errorf("sell base from %s: %w", s.Regime, ErrRegimeInvariant)
	}
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell base: %w", err)
	}

	quoteOut, err := out.FloorUint64()
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell base: %w", err)
	}

	var c fpmath.Calc
	next := s
	next.BaseReserve = c.Add(s.BaseReserve, amt)
	next.QuoteReserve = c.Sub(s.QuoteReserve, lift(quoteOut))
	if err := c.Err(); err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell base: %w", err)
	}
	next, err = next.reconcile(hint)
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell base: %w", err)
	}
	return TradeResult{AmountIn: amount, AmountOut: quoteOut, Regime: next.Regime}, next, nil
}

// SellQuote mirrors SellBase for a sale of quote tokens, pricing with 1/i.
func (s PMMState) SellQuote(amount uint64) (TradeResult, PMMState, error) {
	if amount == 0 {
		return TradeResult{Regime: s.Regime}, s, nil
	}
	amt := lift(amount)

	inverse, err := s.MarketPrice.ReciprocalFloor()
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote: %w", err)
	}

	var (
		out  fpmath.FixedPoint
		hint Regime
	)
	switch s.Regime {
	case Balanced:
		out, err = curve.SolveForTrade(s.BaseTarget, s.BaseTarget, amt, inverse, s.Slope, curve.Decrease)
		hint = QuoteSurplus

	case QuoteSurplus:
		out, err = curve.SolveForTrade(s.BaseTarget, s.BaseReserve, amt, inverse, s.Slope, curve.Decrease)
		hint = QuoteSurplus

	case BaseSurplus:
		var crossed Regime
		out, crossed, err = crossSell(amt,
			s.QuoteTarget, s.QuoteReserve, s.BaseTarget, s.BaseReserve,
			inverse, s.Slope)
		hint = mirror(crossed)

	default:
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote from %s: %w", s.Regime, ErrRegimeInvariant)
	}
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote: %w", err)
	}

	baseOut, err := out.FloorUint64()
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote: %w", err)
	}

	var c fpmath.Calc
	next := s
	next.QuoteReserve = c.Add(s.QuoteReserve, amt)
	next.BaseReserve = c.Sub(s.BaseReserve, lift(baseOut))
	if err := c.Err(); err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote: %w", err)
	}
	next, err = next.reconcile(hint)
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("sell quote: %w", err)
	}
	return TradeResult{AmountIn: amount, AmountOut: baseOut, Regime: next.Regime}, next, nil
}

// crossSell handles a sale of the token the pool is short of. "in" is the side
// being sold into (reserve below target), "out" the side paid out (reserve above
// target). The regime returned is expressed from the seller's perspective:
// QuoteSurplus means the "in" side is still short, BaseSurplus means the sale
// crossed equilibrium and the "in" side is now in surplus.
func crossSell(amount, inTarget, inReserve, outTarget, outReserve, price, slope fpmath.FixedPoint) (fpmath.FixedPoint, Regime, error) {
	var c fpmath.Calc
	backToOnePay := c.Sub(inTarget, inReserve)
	backToOneReceive := c.Sub(outReserve, outTarget)
	if err := c.Err(); err != nil {
		return fpmath.FixedPoint{}, Balanced, err
	}

	switch amount.Cmp(backToOnePay) {
	case -1:
		integral, err := curve.Integrate(inTarget, c.Add(inReserve, amount), inReserve, price, slope)
		if err == nil {
			err = c.Err()
		}
		if err != nil {
			return fpmath.FixedPoint{}, Balanced, err
		}
		return fpmath.Min(integral, backToOneReceive), QuoteSurplus, nil

	case 0:
		return backToOneReceive, Balanced, nil

	default:
		rest, err := curve.SolveForTrade(outTarget, outTarget, c.Sub(amount, backToOnePay), price, slope, curve.Decrease)
		if err == nil {
			err = c.Err()
		}
		if err != nil {
			return fpmath.FixedPoint{}, Balanced, err
		}
		total := c.Add(backToOneReceive, rest)
		return total, BaseSurplus, c.Err()
	}
}

// mirror swaps the two surplus regimes. crossSell reports regimes from the
// base seller's side; a quote seller sees them reversed.
func mirror(r Regime) Regime {
	switch r {
	case BaseSurplus:
		return QuoteSurplus
	case QuoteSurplus:
		return BaseSurplus
	default:
		return r
	}
}

// BuyBase prices a purchase of exactly amount base tokens. The quote owed to
// the pool is rounded up.
//
//	Balanced      integrate (B0, B0, B0-amount), ceiled              -> QuoteSurplus
//	QuoteSurplus  integrate (B0, B, B-amount), ceiled                -> QuoteSurplus
//	BaseSurplus   amount <  B-B0: solve against (Q0, Q), increasing   -> BaseSurplus
//	              amount == B-B0: exactly Q0-Q                        -> Balanced
//	              amount >  B-B0: Q0-Q plus a balanced purchase       -> QuoteSurplus
func (s PMMState) BuyBase(amount uint64) (TradeResult, PMMState, error) {
	if amount == 0 {
		return TradeResult{Regime: s.Regime}, s, nil
	}
	amt := lift(amount)
	if amt.Gte(s.BaseReserve) {
		return TradeResult{}, PMMState{}, fmt.Errorf("buy %d base from reserve %s: %w",
			amount, s.BaseReserve, ErrInsufficientLiquidity)
	}

	var (
		c    fpmath.Calc
		pay  fpmath.FixedPoint
		hint Regime
		err  error
	)
	switch s.Regime {
	case Balanced:
		pay, err = curve.IntegrateCeil(s.BaseTarget, s.BaseTarget, c.Sub(s.BaseTarget, amt), s.MarketPrice, s.Slope)
		hint = QuoteSurplus

	case QuoteSurplus:
		pay, err = curve.IntegrateCeil(s.BaseTarget, s.BaseReserve, c.Sub(s.BaseReserve, amt), s.MarketPrice, s.Slope)
		hint = QuoteSurplus

	case BaseSurplus:
		backToOneReceive := c.Sub(s.BaseReserve, s.BaseTarget)
		backToOnePay := c.Sub(s.QuoteTarget, s.QuoteReserve)
		if err := c.Err(); err != nil {
			return TradeResult{}, PMMState{}, fmt.Errorf("buy base: %w", err)
		}
		switch amt.Cmp(backToOneReceive) {
		case -1:
			pay, err = curve.SolveForTrade(s.QuoteTarget, s.QuoteReserve, amt, s.MarketPrice, s.Slope, curve.Increase)
			hint = BaseSurplus
		case 0:
			pay = backToOnePay
			hint = Balanced
		default:
			var rest fpmath.FixedPoint
			remaining := c.Sub(amt, backToOneReceive)
			rest, err = curve.IntegrateCeil(s.BaseTarget, s.BaseTarget, c.Sub(s.BaseTarget, remaining), s.MarketPrice, s.Slope)
			pay = c.Add(backToOnePay, rest)
			hint = QuoteSurplus
		}

	default:
		return TradeResult{}, PMMState{}, fmt.Errorf("buy base from %s: %w", s.Regime, ErrRegimeInvariant)
	}
	if err == nil {
		err = c.Err()
	}
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("buy base: %w", err)
	}

	quoteIn, err := pay.CeilUint64()
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("buy base: %w", err)
	}

	next := s
	next.BaseReserve = c.Sub(s.BaseReserve, amt)
	next.QuoteReserve = c.Add(s.QuoteReserve, lift(quoteIn))
	if err := c.Err(); err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("buy base: %w", err)
	}
	next, err = next.reconcile(hint)
	if err != nil {
		return TradeResult{}, PMMState{}, fmt.Errorf("buy base: %w", err)
	}
	return TradeResult{AmountIn: quoteIn, AmountOut: amount, Regime: next.Regime}, next, nil
}

// SwapBaseIn sells base and fails with ErrExceededSlippage when the quote
// received would fall below minQuoteOut.
func (s PMMState) SwapBaseIn(amount, minQuoteOut uint64) (TradeResult, PMMState, error) {
	res, next, err := s.SellBase(amount)
	if err != nil {
		return TradeResult{}, PMMState{}, err
	}
	if res.AmountOut < minQuoteOut {
		return TradeResult{}, PMMState{}, fmt.Errorf("quote out %d below minimum %d: %w",
			res.AmountOut, minQuoteOut, ErrExceededSlippage)
	}
	return res, next, nil
}

// SwapQuoteIn sells quote and fails with ErrExceededSlippage when the base
// received would fall below minBaseOut.
func (s PMMState) SwapQuoteIn(amount, minBaseOut uint64) (TradeResult, PMMState, error) {
	res, next, err := s.SellQuote(amount)
	if err != nil {
		return TradeResult{}, PMMState{}, err
	}
	if res.AmountOut < minBaseOut {
		return TradeResult{}, PMMState{}, fmt.Errorf("base out %d below minimum %d: %w",
			res.AmountOut, minBaseOut, ErrExceededSlippage)
	}
	return res, next, nil
}

// SwapBaseOut buys exactly amount base and fails with ErrExceededSlippage when
// the quote owed would exceed maxQuoteIn.
func (s PMMState) SwapBaseOut(amount, maxQuoteIn uint64) (TradeResult, PMMState, error) {
	res, next, err := s.BuyBase(amount)
	if err != nil {
		return TradeResult{}, PMMState{}, err
	}
	if res.AmountIn > maxQuoteIn {
		return TradeResult{}, PMMState{}, fmt.Errorf("quote in %d above maximum %d: %w",
			res.AmountIn, maxQuoteIn, ErrExceededSlippage)
	}
	return res, next, nil
}
