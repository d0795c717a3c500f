package state

import (
	"fmt"

	fpmath "PMMEngine/internal/math"
)

// DepositResult is the outcome of a sized deposit.
type DepositResult struct {
	BaseIn  uint64 `json:"base_in"`
	QuoteIn uint64 `json:"quote_in"`
	Shares  uint64 `json:"shares"`
}

// BuyShares mints shares for tokens already moved into the pool. baseBalance
// and quoteBalance are the pool balances after the transfer; the inputs are
// their excess over the recorded reserves.
//
// The first deposit (totalShares == 0) sets both targets to the balances and
// mints min(baseBalance, quoteBalance/price). Later deposits mint pro rata to
// the smaller of the two contribution ratios and scale both targets by it; the
// excess on the other side leaves the pool in surplus.
func (s PMMState) BuyShares(baseBalance, quoteBalance, totalShares uint64) (uint64, PMMState, error) {
	var c fpmath.Calc
	baseBal := lift(baseBalance)
	quoteBal := lift(quoteBalance)
	baseInput := c.Sub(baseBal, s.BaseReserve)
	quoteInput := c.Sub(quoteBal, s.QuoteReserve)
	if err := c.Err(); err != nil {
		return 0, PMMState{}, fmt.Errorf("buy shares: balance below reserve: %w", err)
	}
	if baseInput.IsZero() {
		return 0, PMMState{}, ErrNoBaseInput
	}

	next := s
	next.BaseReserve = baseBal
	next.QuoteReserve = quoteBal

	if totalShares == 0 {
		minted := baseBal
		if c.MulFloor(s.MarketPrice, baseBal).Gt(quoteBal) {
			minted = c.DivFloor(quoteBal, s.MarketPrice)
		}
		if err := c.Err(); err != nil {
			return 0, PMMState{}, fmt.Errorf("buy shares: %w", err)
		}
		shares, err := minted.FloorUint64()
		if err != nil {
			return 0, PMMState{}, fmt.Errorf("buy shares: %w", err)
		}
		next.BaseTarget = baseBal
		next.QuoteTarget = quoteBal
		next.Regime = Balanced
		return shares, next, nil
	}

	if s.BaseReserve.IsZero() || s.QuoteReserve.IsZero() {
		return 0, PMMState{}, fmt.Errorf("reserves %s/%s: %w", s.BaseReserve, s.QuoteReserve, ErrIncorrectMint)
	}

	mintRatio := fpmath.Min(
		c.DivFloor(baseInput, s.BaseReserve),
		c.DivFloor(quoteInput, s.QuoteReserve),
	)
	minted := c.MulFloor(lift(totalShares), mintRatio)
	next.BaseTarget = c.Add(s.BaseTarget, c.MulFloor(s.BaseTarget, mintRatio))
	next.QuoteTarget = c.Add(s.QuoteTarget, c.MulFloor(s.QuoteTarget, mintRatio))
	if err := c.Err(); err != nil {
		return 0, PMMState{}, fmt.Errorf("buy shares: %w", err)
	}
	shares, err := minted.FloorUint64()
	if err != nil {
		return 0, PMMState{}, fmt.Errorf("buy shares: %w", err)
	}

	next, err = next.reconcile(depositHint(s.Regime, next))
	if err != nil {
		return 0, PMMState{}, fmt.Errorf("buy shares: %w", err)
	}
	return shares, next, nil
}

// depositHint picks the regime a deposit settles into once the targets have
// been scaled. A balanced pool stays balanced only when the deposit was exactly
// proportional; otherwise the side holding the excess becomes the surplus side.
func depositHint(prev Regime, next PMMState) Regime {
	if prev != Balanced {
		return prev
	}
	switch {
	case next.QuoteReserve.Gt(next.QuoteTarget):
		return QuoteSurplus
	case next.BaseReserve.Gt(next.BaseTarget):
		return BaseSurplus
	}
	return Balanced
}

// SellShares burns shareAmount of totalShares and pays out the pro-rata slice
// of both reserves, floored. The minimums are checked before anything moves.
// Burning the whole supply empties the pool.
func (s PMMState) SellShares(shareAmount, minBaseOut, minQuoteOut, totalShares uint64) (uint64, uint64, PMMState, error) {
	if totalShares == 0 || shareAmount > totalShares {
		return 0, 0, PMMState{}, fmt.Errorf("sell %d of %d shares: %w", shareAmount, totalShares, fpmath.ErrArithmetic)
	}

	var c fpmath.Calc
	shares := lift(shareAmount)
	supply := lift(totalShares)
	slice := func(v fpmath.FixedPoint) fpmath.FixedPoint {
		return c.DivFloor(c.MulFloor(v, shares), supply)
	}

	baseAmount := slice(s.BaseReserve)
	quoteAmount := slice(s.QuoteReserve)
	baseTargetCut := slice(s.BaseTarget)
	quoteTargetCut := slice(s.QuoteTarget)
	if err := c.Err(); err != nil {
		return 0, 0, PMMState{}, fmt.Errorf("sell shares: %w", err)
	}
	baseOut, err := baseAmount.FloorUint64()
	if err != nil {
		return 0, 0, PMMState{}, fmt.Errorf("sell shares: %w", err)
	}
	quoteOut, err := quoteAmount.FloorUint64()
	if err != nil {
		return 0, 0, PMMState{}, fmt.Errorf("sell shares: %w", err)
	}

	if baseOut < minBaseOut || quoteOut < minQuoteOut {
		return 0, 0, PMMState{}, fmt.Errorf("withdraw %d/%d below minimum %d/%d: %w",
			baseOut, quoteOut, minBaseOut, minQuoteOut, ErrWithdrawNotEnough)
	}

	next := s
	if shareAmount == totalShares {
		zero := fpmath.Zero(fpmath.DefaultPrecision)
		next.BaseReserve, next.QuoteReserve = zero, zero
		next.BaseTarget, next.QuoteTarget = zero, zero
		next.Regime = Balanced
		return baseOut, quoteOut, next, nil
	}

	next.BaseReserve = c.Sub(s.BaseReserve, lift(baseOut))
	next.QuoteReserve = c.Sub(s.QuoteReserve, lift(quoteOut))
	next.BaseTarget = c.Sub(s.BaseTarget, baseTargetCut)
	next.QuoteTarget = c.Sub(s.QuoteTarget, quoteTargetCut)
	if err := c.Err(); err != nil {
		return 0, 0, PMMState{}, fmt.Errorf("sell shares: %w", err)
	}

	next, err = next.reconcile(s.Regime)
	if err != nil {
		return 0, 0, PMMState{}, fmt.Errorf("sell shares: %w", err)
	}
	return baseOut, quoteOut, next, nil
}

// CalculateDepositAmount trims an offered (baseIn, quoteIn) pair to the part
// the pool accepts. An empty pool takes the market-price ratio; a funded pool
// takes its current reserve ratio, scaling down whichever side is in excess.
func (s PMMState) CalculateDepositAmount(baseIn, quoteIn uint64) (uint64, uint64, error) {
	var c fpmath.Calc
	base := lift(baseIn)
	quote := lift(quoteIn)

	var acceptedBase, acceptedQuote fpmath.FixedPoint
	switch {
	case s.BaseReserve.IsZero() && s.QuoteReserve.IsZero():
		if c.MulFloor(s.MarketPrice, base).Gt(quote) {
			acceptedBase = c.DivFloor(quote, s.MarketPrice)
			acceptedQuote = quote
		} else {
			acceptedBase = base
			acceptedQuote = c.MulFloor(base, s.MarketPrice)
		}

	case !s.BaseReserve.IsZero() && !s.QuoteReserve.IsZero():
		baseRatio := c.DivFloor(base, s.BaseReserve)
		quoteRatio := c.DivFloor(quote, s.QuoteReserve)
		if baseRatio.Lt(quoteRatio) {
			acceptedBase = base
			acceptedQuote = c.DivFloor(c.MulFloor(s.QuoteReserve, base), s.BaseReserve)
		} else {
			acceptedBase = c.DivFloor(c.MulFloor(s.BaseReserve, quote), s.QuoteReserve)
			acceptedQuote = quote
		}

	default:
		return 0, 0, fmt.Errorf("reserves %s/%s: %w", s.BaseReserve, s.QuoteReserve, ErrIncorrectMint)
	}
	if err := c.Err(); err != nil {
		return 0, 0, fmt.Errorf("deposit amount: %w", err)
	}

	b, err := acceptedBase.FloorUint64()
	if err != nil {
		return 0, 0, fmt.Errorf("deposit amount: %w", err)
	}
	q, err := acceptedQuote.FloorUint64()
	if err != nil {
		return 0, 0, fmt.Errorf("deposit amount: %w", err)
	}
	return b, q, nil
}

// Deposit sizes an offered pair, mints shares for the accepted part and fails
// with ErrExceededSlippage when fewer than minShares would be minted.
func (s PMMState) Deposit(baseIn, quoteIn, minShares, totalShares uint64) (DepositResult, PMMState, error) {
	base, quote, err := s.CalculateDepositAmount(baseIn, quoteIn)
	if err != nil {
		return DepositResult{}, PMMState{}, err
	}
	baseReserve, err := reserveUint64(s.BaseReserve)
	if err != nil {
		return DepositResult{}, PMMState{}, err
	}
	quoteReserve, err := reserveUint64(s.QuoteReserve)
	if err != nil {
		return DepositResult{}, PMMState{}, err
	}
	if base > ^uint64(0)-baseReserve || quote > ^uint64(0)-quoteReserve {
		return DepositResult{}, PMMState{}, fmt.Errorf("deposit overflows reserves: %w", fpmath.ErrArithmetic)
	}

	shares, next, err := s.BuyShares(baseReserve+base, quoteReserve+quote, totalShares)
	if err != nil {
		return DepositResult{}, PMMState{}, err
	}
	if shares == 0 || shares < minShares {
		return DepositResult{}, PMMState{}, fmt.Errorf("minted %d shares, want at least %d: %w",
			shares, minShares, ErrExceededSlippage)
	}
	return DepositResult{BaseIn: base, QuoteIn: quote, Shares: shares}, next, nil
}
