package math

// Calc chains FixedPoint operations and keeps the first error, so a formula
// reads as one expression. After an error every later step is a no-op that
// returns its first operand; callers must check Err before using a result.
type Calc struct {
	err error
}

// Err returns the first error recorded, if any.
func (c *Calc) Err() error { return c.err }

func (c *Calc) keep(v FixedPoint, err error) FixedPoint {
	if c.err == nil && err != nil {
		c.err = err
	}
	return v
}

func (c *Calc) Add(a, b FixedPoint) FixedPoint {
	if c.err != nil {
		return a
	}
	return c.keep(a.Add(b))
}

func (c *Calc) Sub(a, b FixedPoint) FixedPoint {
	if c.err != nil {
		return a
	}
	return c.keep(a.Sub(b))
}

// Mul multiplies with an explicit rounding mode.
func (c *Calc) Mul(a, b FixedPoint, mode RoundingMode) FixedPoint {
	if c.err != nil {
		return a
	}
	if mode == RoundUp {
		return c.keep(a.MulCeil(b))
	}
	return c.keep(a.MulFloor(b))
}

// Div divides with an explicit rounding mode.
func (c *Calc) Div(a, b FixedPoint, mode RoundingMode) FixedPoint {
	if c.err != nil {
		return a
	}
	if mode == RoundUp {
		return c.keep(a.DivCeil(b))
	}
	return c.keep(a.DivFloor(b))
}

func (c *Calc) MulFloor(a, b FixedPoint) FixedPoint { return c.Mul(a, b, RoundDown) }
func (c *Calc) MulCeil(a, b FixedPoint) FixedPoint  { return c.Mul(a, b, RoundUp) }
func (c *Calc) DivFloor(a, b FixedPoint) FixedPoint { return c.Div(a, b, RoundDown) }
func (c *Calc) DivCeil(a, b FixedPoint) FixedPoint  { return c.Div(a, b, RoundUp) }

func (c *Calc) Sqrt(a FixedPoint) FixedPoint {
	if c.err != nil {
		return a
	}
	return c.keep(a.Sqrt())
}

func (c *Calc) SqrtCeil(a FixedPoint) FixedPoint {
	if c.err != nil {
		return a
	}
	return c.keep(a.SqrtCeil())
}

func (c *Calc) ReciprocalFloor(a FixedPoint) FixedPoint {
	if c.err != nil {
		return a
	}
	return c.keep(a.ReciprocalFloor())
}

// Lift converts an integer token amount at the precision of ref.
func (c *Calc) Lift(v uint64, ref FixedPoint) FixedPoint {
	if c.err != nil {
		return ref
	}
	return c.keep(FromUint64Precision(v, ref.precision))
}
