// internal/state/regime.go
package state

import "fmt"

// Regime classifies which side of equilibrium the pool sits on. It is derived
// from the reserve/target comparison and re-checked by Validate; a stored
// regime is a cache, never an authority.
type Regime int32

const (
	// Balanced: both reserves equal their targets exactly.
	Balanced Regime = iota
	// BaseSurplus: base reserve at or above target, quote at or below.
	BaseSurplus
	// QuoteSurplus: quote reserve at or above target, base at or below.
	QuoteSurplus
)

// Persisted regime bytes. Values are fixed; do not renumber.
const (
	regimeByteBalanced     byte = 0
	regimeByteQuoteSurplus byte = 1
	regimeByteBaseSurplus  byte = 2
)

func (r Regime) String() string {
	switch r {
	case Balanced:
		return "Balanced"
	case BaseSurplus:
		return "BaseSurplus"
	case QuoteSurplus:
		return "QuoteSurplus"
	default:
		return "Unknown"
	}
}

// StorageByte returns the persisted encoding of r.
func (r Regime) StorageByte() byte {
	switch r {
	case QuoteSurplus:
		return regimeByteQuoteSurplus
	case BaseSurplus:
		return regimeByteBaseSurplus
	default:
		return regimeByteBalanced
	}
}

// RegimeFromStorageByte decodes a persisted regime. Unknown bytes are rejected
// rather than defaulted.
func RegimeFromStorageByte(b byte) (Regime, error) {
	switch b {
	case regimeByteBalanced:
		return Balanced, nil
	case regimeByteQuoteSurplus:
		return QuoteSurplus, nil
	case regimeByteBaseSurplus:
		return BaseSurplus, nil
	default:
		return Balanced, fmt.Errorf("unknown regime byte %d: %w", b, ErrRegimeInvariant)
	}
}

func (r Regime) MarshalText() ([]byte, error) {
	if r < Balanced || r > QuoteSurplus {
		return nil, fmt.Errorf("unknown regime %d", int32(r))
	}
	return []byte(r.String()), nil
}

func (r *Regime) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Balanced":
		*r = Balanced
	case "BaseSurplus":
		*r = BaseSurplus
	case "QuoteSurplus":
		*r = QuoteSurplus
	default:
		return fmt.Errorf("unknown regime %q: %w", text, ErrRegimeInvariant)
	}
	return nil
}
