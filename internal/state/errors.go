package state

import (
	"errors"

	"PMMEngine/internal/curve"
	fpmath "PMMEngine/internal/math"
)

var (
	ErrNoBaseInput           = errors.New("deposit carries no base input")
	ErrIncorrectMint         = errors.New("incorrect mint: one reserve is zero")
	ErrWithdrawNotEnough     = errors.New("withdraw amount below minimum")
	ErrEquilibriumAdjustment = errors.New("target adjustment requested at equilibrium")
	ErrExceededSlippage      = errors.New("exceeded slippage limit")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrRegimeInvariant       = errors.New("regime invariant violated")
)

// Error codes handed to the dispatch layer. Values are stable; append only.
const (
	CodeOK uint32 = iota
	CodeArithmetic
	CodeInvalidCurveParameters
	CodeNoBaseInput
	CodeIncorrectMint
	CodeWithdrawNotEnough
	CodeEquilibriumAdjustment
	CodeExceededSlippage
	CodeInsufficientLiquidity
	CodeRegimeInvariant
	CodeUnknown uint32 = 255
)

// Code maps an error returned by the curve engine to its numbered code.
func Code(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, fpmath.ErrArithmetic):
		return CodeArithmetic
	case errors.Is(err, curve.ErrInvalidCurveParameters):
		return CodeInvalidCurveParameters
	case errors.Is(err, ErrNoBaseInput):
		return CodeNoBaseInput
	case errors.Is(err, ErrIncorrectMint):
		return CodeIncorrectMint
	case errors.Is(err, ErrWithdrawNotEnough):
		return CodeWithdrawNotEnough
	case errors.Is(err, ErrEquilibriumAdjustment):
		return CodeEquilibriumAdjustment
	case errors.Is(err, ErrExceededSlippage):
		return CodeExceededSlippage
	case errors.Is(err, ErrInsufficientLiquidity):
		return CodeInsufficientLiquidity
	case errors.Is(err, ErrRegimeInvariant):
		return CodeRegimeInvariant
	default:
		return CodeUnknown
	}
}

// CodeName is the label used in metrics and logs.
func CodeName(code uint32) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeArithmetic:
		return "arithmetic"
	case CodeInvalidCurveParameters:
		return "invalid_curve_parameters"
	case CodeNoBaseInput:
		return "no_base_input"
	case CodeIncorrectMint:
		return "incorrect_mint"
	case CodeWithdrawNotEnough:
		return "withdraw_not_enough"
	case CodeEquilibriumAdjustment:
		return "equilibrium_adjustment"
	case CodeExceededSlippage:
		return "exceeded_slippage"
	case CodeInsufficientLiquidity:
		return "insufficient_liquidity"
	case CodeRegimeInvariant:
		return "regime_invariant"
	default:
		return "unknown"
	}
}
