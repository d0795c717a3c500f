package state_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"PMMEngine/internal/curve"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/state"
)

func TestRegime_StorageBytes(t *testing.T) {
	tests := []struct {
		regime state.Regime
		b      byte
	}{
		{state.Balanced, 0},
		{state.QuoteSurplus, 1},
		{state.BaseSurplus, 2},
	}
	for _, tc := range tests {
		if got := tc.regime.StorageByte(); got != tc.b {
			t.Errorf("%s: got byte %d, want %d", tc.regime, got, tc.b)
		}
		back, err := state.RegimeFromStorageByte(tc.b)
		if err != nil || back != tc.regime {
			t.Errorf("byte %d: got %s, %v", tc.b, back, err)
		}
	}
	if _, err := state.RegimeFromStorageByte(3); !errors.Is(err, state.ErrRegimeInvariant) {
		t.Errorf("expected ErrRegimeInvariant, got %v", err)
	}
}

func TestRegime_JSON(t *testing.T) {
	s := balanced("100", "0.1")
	s.Regime = state.Balanced
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var back state.PMMState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if back != s {
		t.Errorf("got %+v, want %+v", back, s)
	}

	var r state.Regime
	if err := r.UnmarshalText([]byte("Sideways")); !errors.Is(err, state.ErrRegimeInvariant) {
		t.Errorf("expected ErrRegimeInvariant, got %v", err)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		code uint32
		name string
	}{
		{nil, state.CodeOK, "ok"},
		{fmt.Errorf("wrapped: %w", fpmath.ErrArithmetic), state.CodeArithmetic, "arithmetic"},
		{curve.ErrInvalidCurveParameters, state.CodeInvalidCurveParameters, "invalid_curve_parameters"},
		{state.ErrNoBaseInput, state.CodeNoBaseInput, "no_base_input"},
		{state.ErrIncorrectMint, state.CodeIncorrectMint, "incorrect_mint"},
		{state.ErrWithdrawNotEnough, state.CodeWithdrawNotEnough, "withdraw_not_enough"},
		{state.ErrEquilibriumAdjustment, state.CodeEquilibriumAdjustment, "equilibrium_adjustment"},
		{state.ErrExceededSlippage, state.CodeExceededSlippage, "exceeded_slippage"},
		{state.ErrInsufficientLiquidity, state.CodeInsufficientLiquidity, "insufficient_liquidity"},
		{state.ErrRegimeInvariant, state.CodeRegimeInvariant, "regime_invariant"},
		{errors.New("disk on fire"), state.CodeUnknown, "unknown"},
	}
	for _, tc := range tests {
		code := state.Code(tc.err)
		if code != tc.code {
			t.Errorf("%v: got code %d, want %d", tc.err, code, tc.code)
		}
		if name := state.CodeName(code); name != tc.name {
			t.Errorf("code %d: got %q, want %q", code, name, tc.name)
		}
	}
}
