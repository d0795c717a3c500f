package state_test

import (
	"errors"
	"math/rand"
	"testing"

	"PMMEngine/internal/curve"
	"PMMEngine/internal/state"
)

type tradeWant struct {
	out    uint64
	regime state.Regime
	b0, q0 string
	b, q   string
}

func checkTrade(t *testing.T, res state.TradeResult, s state.PMMState, err error, got uint64, want tradeWant) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want.out {
		t.Errorf("amount: got %d, want %d", got, want.out)
	}
	if res.Regime != want.regime || s.Regime != want.regime {
		t.Errorf("regime: got %s/%s, want %s", res.Regime, s.Regime, want.regime)
	}
	assertFP(t, "base target", s.BaseTarget, want.b0)
	assertFP(t, "quote target", s.QuoteTarget, want.q0)
	assertFP(t, "base reserve", s.BaseReserve, want.b)
	assertFP(t, "quote reserve", s.QuoteReserve, want.q)
	assertValid(t, s)
}

// ============================================================================
// Test: SellBase
// ============================================================================

func TestSellBase_ReferenceScenario(t *testing.T) {
	s := balanced("100", "0.1")
	res, next, err := s.SellBase(10)
	checkTrade(t, res, next, err, res.AmountOut, tradeWant{
		out:    759,
		regime: state.BaseSurplus,
		b0:     "1000.000000000000000000",
		q0:     "1001.203551798133709040",
		b:      "1010.000000000000000000",
		q:      "241.000000000000000000",
	})
	if res.AmountIn != 10 {
		t.Errorf("amount in: got %d", res.AmountIn)
	}
	// the receiver is never mutated
	assertFP(t, "original quote reserve", s.QuoteReserve, "1000.000000000000000000")
	if s.Regime != state.Balanced {
		t.Errorf("original regime changed to %s", s.Regime)
	}
}

func TestSellBase_ZeroAmountIsNoop(t *testing.T) {
	s := balanced("1", "0.5")
	res, next, err := s.SellBase(0)
	if err != nil {
		t.Fatal(err)
	}
	if res.AmountOut != 0 || next != s {
		t.Errorf("expected no-op, got %+v", res)
	}
}

func TestSellBase_CrossingBranchesLinear(t *testing.T) {
	// Selling 100 quote into a linear pool leaves base 100 short of target.
	_, short, err := balanced("1", "0").SellQuote(100)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("below distance", func(t *testing.T) {
		res, next, err := short.SellBase(40)
		checkTrade(t, res, next, err, res.AmountOut, tradeWant{
			out: 40, regime: state.QuoteSurplus,
			b0: "1000.000000000000000000", q0: "1000.000000000000000000",
			b: "940.000000000000000000", q: "1060.000000000000000000",
		})
	})

	t.Run("exactly at distance", func(t *testing.T) {
		res, next, err := short.SellBase(100)
		checkTrade(t, res, next, err, res.AmountOut, tradeWant{
			out: 100, regime: state.Balanced,
			b0: "1000.000000000000000000", q0: "1000.000000000000000000",
			b: "1000.000000000000000000", q: "1000.000000000000000000",
		})
	})

	t.Run("past distance", func(t *testing.T) {
		res, next, err := short.SellBase(150)
		checkTrade(t, res, next, err, res.AmountOut, tradeWant{
			out: 150, regime: state.BaseSurplus,
			b0: "1000.000000000000000000", q0: "1000.000000000000000000",
			b: "1050.000000000000000000", q: "950.000000000000000000",
		})
	})
}

func TestSellBase_CrossingBranchesCurved(t *testing.T) {
	res, short, err := balanced("1", "0.5").SellQuote(100)
	checkTrade(t, res, short, err, res.AmountOut, tradeWant{
		out: 95, regime: state.QuoteSurplus,
		b0: "1000.012499921875976547", q0: "1000.000000000000000000",
		b: "905.000000000000000000", q: "1100.000000000000000000",
	})

	res, next, err := short.SellBase(50)
	checkTrade(t, res, next, err, res.AmountOut, tradeWant{
		out: 53, regime: state.QuoteSurplus,
		b0: "1000.897097607940913345", q0: "1000.000000000000000000",
		b: "955.000000000000000000", q: "1047.000000000000000000",
	})

	res, next, err = short.SellBase(200)
	checkTrade(t, res, next, err, res.AmountOut, tradeWant{
		out: 199, regime: state.BaseSurplus,
		b0: "1000.012499921875976547", q0: "1000.494115495328383324",
		b: "1105.000000000000000000", q: "901.000000000000000000",
	})
}

// The integral over the whole rebalancing distance must agree with the
// surplus the equilibrium branch pays out.
func TestSellBase_BoundaryAgreement(t *testing.T) {
	_, short, err := balanced("1", "0.5").SellQuote(100)
	if err != nil {
		t.Fatal(err)
	}
	inverse, err := short.MarketPrice.ReciprocalFloor()
	if err != nil {
		t.Fatal(err)
	}
	integral, err := curve.Integrate(short.BaseTarget, short.BaseTarget, short.BaseReserve, inverse, short.Slope)
	if err != nil {
		t.Fatal(err)
	}
	surplus, err := short.QuoteReserve.Sub(short.QuoteTarget)
	if err != nil {
		t.Fatal(err)
	}
	diff, err := surplus.Sub(integral)
	if err != nil {
		t.Fatalf("integral %s exceeds surplus %s", integral, surplus)
	}
	if diff.Gt(fp("0.000000000001")) {
		t.Errorf("integral %s too far from surplus %s", integral, surplus)
	}
	assertFP(t, "integral", integral, "99.999999999999999923")
}

// ============================================================================
// Test: SellQuote
// ============================================================================

func TestSellQuote_LinearLeavesBaseShort(t *testing.T) {
	res, next, err := balanced("1", "0").SellQuote(100)
	checkTrade(t, res, next, err, res.AmountOut, tradeWant{
		out: 100, regime: state.QuoteSurplus,
		b0: "1000.000000000000000000", q0: "1000.000000000000000000",
		b: "900.000000000000000000", q: "1100.000000000000000000",
	})
}

func TestSellQuote_CrossesBackFromBaseSurplus(t *testing.T) {
	_, long, err := balanced("1", "0").SellBase(100)
	if err != nil {
		t.Fatal(err)
	}
	res, next, err := long.SellQuote(100)
	checkTrade(t, res, next, err, res.AmountOut, tradeWant{
		out: 100, regime: state.Balanced,
		b0: "1000.000000000000000000", q0: "1000.000000000000000000",
		b: "1000.000000000000000000", q: "1000.000000000000000000",
	})
}

// ============================================================================
// Test: BuyBase
// ============================================================================

func TestBuyBase_FromBalanced(t *testing.T) {
	res, next, err := balanced("1", "0.5").BuyBase(10)
	checkTrade(t, res, next, err, res.AmountIn, tradeWant{
		out: 11, regime: state.QuoteSurplus,
		b0: "1000.939558614804673161", q0: "1000.000000000000000000",
		b: "990.000000000000000000", q: "1011.000000000000000000",
	})
	if res.AmountOut != 10 {
		t.Errorf("amount out: got %d", res.AmountOut)
	}
}

func TestBuyBase_CrossingBranches(t *testing.T) {
	res, long, err := balanced("1", "0.5").SellBase(100)
	checkTrade(t, res, long, err, res.AmountOut, tradeWant{
		out: 95, regime: state.BaseSurplus,
		b0: "1000.000000000000000000", q0: "1000.012499921875976547",
		b: "1100.000000000000000000", q: "905.000000000000000000",
	})

	res, next, err := long.BuyBase(50)
	checkTrade(t, res, next, err, res.AmountIn, tradeWant{
		out: 47, regime: state.BaseSurplus,
		b0: "1000.000000000000000000", q0: "1000.751717460429842454",
		b: "1050.000000000000000000", q: "952.000000000000000000",
	})

	res, next, err = long.BuyBase(150)
	checkTrade(t, res, next, err, res.AmountIn, tradeWant{
		out: 147, regime: state.QuoteSurplus,
		b0: "1000.637921602232524824", q0: "1000.012499921875976547",
		b: "950.000000000000000000", q: "1052.000000000000000000",
	})
}

func TestBuyBase_ExactlyAtDistance(t *testing.T) {
	_, long, err := balanced("1", "0").SellBase(100)
	if err != nil {
		t.Fatal(err)
	}
	res, next, err := long.BuyBase(100)
	checkTrade(t, res, next, err, res.AmountIn, tradeWant{
		out: 100, regime: state.Balanced,
		b0: "1000.000000000000000000", q0: "1000.000000000000000000",
		b: "1000.000000000000000000", q: "1000.000000000000000000",
	})
}

func TestBuyBase_InsufficientLiquidity(t *testing.T) {
	for _, amount := range []uint64{1000, 5000} {
		_, _, err := balanced("1", "0.5").BuyBase(amount)
		if !errors.Is(err, state.ErrInsufficientLiquidity) {
			t.Errorf("buy %d: expected ErrInsufficientLiquidity, got %v", amount, err)
		}
	}
}

// ============================================================================
// Test: Slippage wrappers
// ============================================================================

func TestSwapBaseIn_Slippage(t *testing.T) {
	s := balanced("100", "0.1")
	if _, _, err := s.SwapBaseIn(10, 760); !errors.Is(err, state.ErrExceededSlippage) {
		t.Errorf("expected ErrExceededSlippage, got %v", err)
	}
	res, _, err := s.SwapBaseIn(10, 759)
	if err != nil || res.AmountOut != 759 {
		t.Errorf("got %+v, %v", res, err)
	}
}

func TestSwapQuoteIn_Slippage(t *testing.T) {
	s := balanced("1", "0.5")
	if _, _, err := s.SwapQuoteIn(100, 96); !errors.Is(err, state.ErrExceededSlippage) {
		t.Errorf("expected ErrExceededSlippage, got %v", err)
	}
	if _, _, err := s.SwapQuoteIn(100, 95); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSwapBaseOut_Slippage(t *testing.T) {
	s := balanced("1", "0.5")
	if _, _, err := s.SwapBaseOut(10, 10); !errors.Is(err, state.ErrExceededSlippage) {
		t.Errorf("expected ErrExceededSlippage, got %v", err)
	}
	res, _, err := s.SwapBaseOut(10, 11)
	if err != nil || res.AmountIn != 11 {
		t.Errorf("got %+v, %v", res, err)
	}
}

// ============================================================================
// Test: Properties
// ============================================================================

func TestRoundTrip_NoFreeBase(t *testing.T) {
	for _, slope := range []string{"0", "0.5", "1"} {
		for _, quote := range []string{"1000", "2000", "5000", "10000"} {
			for _, amount := range []uint64{1, 10, 100, 500} {
				s := pool("1", slope, "1000", quote, "1000", quote, state.Balanced)
				res, after, err := s.SellBase(amount)
				if err != nil {
					t.Fatalf("k=%s q=%s sell %d: %v", slope, quote, amount, err)
				}
				if res.AmountOut == 0 {
					continue
				}
				back, _, err := after.SellQuote(res.AmountOut)
				if err != nil {
					t.Fatalf("k=%s q=%s sell back %d: %v", slope, quote, res.AmountOut, err)
				}
				if back.AmountOut > amount {
					t.Errorf("k=%s q=%s: sold %d base, got %d back", slope, quote, amount, back.AmountOut)
				}
			}
		}
	}
}

func TestRandomWalk_RegimeAlwaysConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, slope := range []string{"0", "0.1", "0.5", "1"} {
		for _, price := range []string{"1", "100", "0.25", "1.5"} {
			s, err := state.NewState(fp(price), fp(slope))
			if err != nil {
				t.Fatal(err)
			}
			dep, s, err := s.Deposit(1000, 1000000, 0, 0)
			if err != nil {
				t.Fatalf("seed deposit: %v", err)
			}
			total := dep.Shares

			for step := 0; step < 40; step++ {
				var next state.PMMState
				amount := uint64(rng.Intn(300) + 1)
				switch rng.Intn(5) {
				case 0:
					_, next, err = s.SellBase(amount)
				case 1:
					_, next, err = s.SellQuote(amount)
				case 2:
					_, next, err = s.BuyBase(amount)
				case 3:
					var d state.DepositResult
					d, next, err = s.Deposit(amount, amount*uint64(rng.Intn(200)+1), 0, total)
					if err == nil {
						total += d.Shares
					}
				case 4:
					if total < 2 {
						continue
					}
					burn := uint64(rng.Int63n(int64(total-1))) + 1
					_, _, next, err = s.SellShares(burn, 0, 0, total)
					if err == nil {
						total -= burn
					}
				}
				if errors.Is(err, state.ErrRegimeInvariant) {
					t.Fatalf("k=%s i=%s step %d: %v", slope, price, step, err)
				}
				if err != nil {
					continue
				}
				if verr := next.Validate(); verr != nil {
					t.Fatalf("k=%s i=%s step %d: %v", slope, price, step, verr)
				}
				s = next
			}
		}
	}
}
