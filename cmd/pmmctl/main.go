package main

import (
	"encoding/json"
	"fmt"
	"os"

	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/state"

	"github.com/spf13/cobra"
)

// poolFlags describe a pool offline. Without targets the reserves are taken as
// a first deposit, which sets both targets to the reserves.
type poolFlags struct {
	price        string
	slope        string
	baseReserve  uint64
	quoteReserve uint64
	baseTarget   string
	quoteTarget  string
	totalShares  uint64
}

func (f *poolFlags) register(cmd *cobra.Command) {
	fl := cmd.PersistentFlags()
	fl.StringVar(&f.price, "price", "", "market price of base in quote (decimal)")
	fl.StringVar(&f.slope, "slope", "", "curve slope k in [0, 1] (decimal)")
	fl.Uint64Var(&f.baseReserve, "base-reserve", 0, "base token reserve")
	fl.Uint64Var(&f.quoteReserve, "quote-reserve", 0, "quote token reserve")
	fl.StringVar(&f.baseTarget, "base-target", "", "base target (decimal); defaults to a first deposit")
	fl.StringVar(&f.quoteTarget, "quote-target", "", "quote target (decimal); defaults to a first deposit")
	fl.Uint64Var(&f.totalShares, "total-shares", 0, "outstanding shares; defaults to the first-deposit mint")
	cmd.MarkPersistentFlagRequired("price")
	cmd.MarkPersistentFlagRequired("slope")
}

func (f *poolFlags) build() (state.PMMState, uint64, error) {
	price, err := fpmath.Parse(f.price, fpmath.DefaultPrecision)
	if err != nil {
		return state.PMMState{}, 0, fmt.Errorf("--price: %w", err)
	}
	slope, err := fpmath.Parse(f.slope, fpmath.DefaultPrecision)
	if err != nil {
		return state.PMMState{}, 0, fmt.Errorf("--slope: %w", err)
	}
	s, err := state.NewState(price, slope)
	if err != nil {
		return state.PMMState{}, 0, err
	}

	if f.baseTarget == "" && f.quoteTarget == "" {
		if f.baseReserve == 0 && f.quoteReserve == 0 {
			return s, 0, nil
		}
		shares, next, err := s.BuyShares(f.baseReserve, f.quoteReserve, 0)
		if err != nil {
			return state.PMMState{}, 0, err
		}
		if f.totalShares != 0 {
			shares = f.totalShares
		}
		return next, shares, nil
	}

	s.BaseTarget, err = fpmath.Parse(f.baseTarget, fpmath.DefaultPrecision)
	if err != nil {
		return state.PMMState{}, 0, fmt.Errorf("--base-target: %w", err)
	}
	s.QuoteTarget, err = fpmath.Parse(f.quoteTarget, fpmath.DefaultPrecision)
	if err != nil {
		return state.PMMState{}, 0, fmt.Errorf("--quote-target: %w", err)
	}
	s.BaseReserve = fpmath.FromUint64(f.baseReserve)
	s.QuoteReserve = fpmath.FromUint64(f.quoteReserve)
	switch {
	case s.BaseReserve.Gt(s.BaseTarget):
		s.Regime = state.BaseSurplus
	case s.QuoteReserve.Gt(s.QuoteTarget):
		s.Regime = state.QuoteSurplus
	default:
		s.Regime = state.Balanced
	}
	if err := s.Validate(); err != nil {
		return state.PMMState{}, 0, err
	}
	return s, f.totalShares, nil
}

func newRootCmd() *cobra.Command {
	pf := &poolFlags{}
	root := &cobra.Command{
		Use:   "pmmctl",
		Short: "Evaluate PMM curves offline",
		Long: `pmmctl prices trades, mid prices and deposits against a pool described
entirely by flags. Nothing is read from or written to a running pmmd.`,
		SilenceUsage: true,
	}
	pf.register(root)
	root.AddCommand(newQuoteCmd(pf), newMidPriceCmd(pf), newDepositSizeCmd(pf))
	return root
}

func newQuoteCmd(pf *poolFlags) *cobra.Command {
	var (
		side   string
		amount uint64
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a trade without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := pf.build()
			if err != nil {
				return err
			}
			var res state.TradeResult
			switch event.SideFromCommandType(event.CommandTypeFromSubject(side)) {
			case event.SideSellBase:
				res, s, err = s.SellBase(amount)
			case event.SideSellQuote:
				res, s, err = s.SellQuote(amount)
			case event.SideBuyBase:
				res, s, err = s.BuyBase(amount)
			default:
				return fmt.Errorf("--side %q: want sell_base, sell_quote or buy_base", side)
			}
			if err != nil {
				return fmt.Errorf("%s (code %s)", err, state.CodeName(state.Code(err)))
			}
			return printJSON(cmd, map[string]interface{}{
				"side":       side,
				"amount_in":  res.AmountIn,
				"amount_out": res.AmountOut,
				"regime":     res.Regime.String(),
				"state":      s,
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", "sell_base", "sell_base, sell_quote or buy_base")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "base amount for sell_base and buy_base, quote amount for sell_quote")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newMidPriceCmd(pf *poolFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mid-price",
		Short: "Print the marginal price of base in quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := pf.build()
			if err != nil {
				return err
			}
			mid, err := s.MidPrice()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"mid_price": mid.String(),
				"regime":    s.Regime.String(),
			})
		},
	}
}

func newDepositSizeCmd(pf *poolFlags) *cobra.Command {
	var baseIn, quoteIn uint64
	cmd := &cobra.Command{
		Use:   "deposit-size",
		Short: "Show how much of an offered deposit the pool accepts and the shares minted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, total, err := pf.build()
			if err != nil {
				return err
			}
			res, _, err := s.Deposit(baseIn, quoteIn, 0, total)
			if err != nil {
				return fmt.Errorf("%s (code %s)", err, state.CodeName(state.Code(err)))
			}
			return printJSON(cmd, map[string]interface{}{
				"base_in":      res.BaseIn,
				"quote_in":     res.QuoteIn,
				"shares":       res.Shares,
				"total_shares": total + res.Shares,
			})
		},
	}
	cmd.Flags().Uint64Var(&baseIn, "base-in", 0, "offered base amount")
	cmd.Flags().Uint64Var(&quoteIn, "quote-in", 0, "offered quote amount")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
