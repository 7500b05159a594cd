// Package fixedpoint implements the 18-decimal fixed-point scalar used for
// all fee arithmetic. Values are 256-bit unsigned integers with an implicit
// scale of 10^18, matching the on-chain settlement engine's representation,
// so results here are bit-for-bit reproducible against the ledger.
//
// All operations are checked and return explicit errors — never float64 for
// money, and never silent wraparound. Multiply-then-divide goes through a
// 512-bit intermediate with floor rounding (MulDivDown), the rounding
// direction the reference integer implementation uses for fees.
package fixedpoint

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result exceeds 2^256 - 1.
	ErrOverflow = errors.New("fixedpoint: overflow")

	// ErrUnderflow is returned when a subtraction would go negative.
	ErrUnderflow = errors.New("fixedpoint: underflow")

	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrNegative is returned when parsing a negative decimal value.
	ErrNegative = errors.New("fixedpoint: negative value")
)

// scale is 10^18, the implicit denominator of every FP value.
var scale = uint256.MustFromDecimal("1000000000000000000")

// FP is an unsigned 18-decimal fixed-point number. The zero value is 0.
// FP has value semantics: operations return new values and never mutate
// their receiver, so FP values may be shared freely across goroutines.
type FP struct {
	v uint256.Int
}

// Zero returns 0.
func Zero() FP { return FP{} }

// One returns 1.0 (10^18 raw).
func One() FP {
	var z uint256.Int
	z.Set(scale)
	return FP{v: z}
}

// FromRaw interprets u as an already-scaled raw value (u / 10^18).
func FromRaw(u *uint256.Int) FP {
	var z uint256.Int
	z.Set(u)
	return FP{v: z}
}

// FromUint64 returns n as a fixed-point value (n * 10^18).
func FromUint64(n uint64) (FP, error) {
	var z uint256.Int
	if _, overflow := z.MulOverflow(uint256.NewInt(n), scale); overflow {
		return FP{}, ErrOverflow
	}
	return FP{v: z}, nil
}

// FromDec parses a decimal string like "0.05" or "1000" into a fixed-point
// value. Digits beyond the 18th decimal place are truncated toward zero.
func FromDec(s string) (FP, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return FP{}, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return FP{}, ErrNegative
	}
	v, overflow := uint256.FromBig(d.Shift(18).BigInt())
	if overflow {
		return FP{}, ErrOverflow
	}
	return FP{v: *v}, nil
}

// MustFromDec is FromDec that panics on error. For constants and tests only.
func MustFromDec(s string) FP {
	f, err := FromDec(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Raw returns a copy of the underlying scaled integer.
func (a FP) Raw() *uint256.Int {
	var z uint256.Int
	z.Set(&a.v)
	return &z
}

// IsZero reports whether a == 0.
func (a FP) IsZero() bool { return a.v.IsZero() }

// Eq reports whether a == b.
func (a FP) Eq(b FP) bool { return a.v.Eq(&b.v) }

// Lt reports whether a < b.
func (a FP) Lt(b FP) bool { return a.v.Lt(&b.v) }

// Gt reports whether a > b.
func (a FP) Gt(b FP) bool { return a.v.Gt(&b.v) }

// Cmp returns -1, 0, or +1 comparing a against b.
func (a FP) Cmp(b FP) int { return a.v.Cmp(&b.v) }

// Add returns a + b, or ErrOverflow.
func (a FP) Add(b FP) (FP, error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(&a.v, &b.v); overflow {
		return FP{}, ErrOverflow
	}
	return FP{v: z}, nil
}

// Sub returns a - b, or ErrUnderflow when b > a.
func (a FP) Sub(b FP) (FP, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(&a.v, &b.v); underflow {
		return FP{}, ErrUnderflow
	}
	return FP{v: z}, nil
}

// MulDivDown returns (a * b) / c with a 512-bit intermediate product and the
// quotient rounded toward zero. This is the parity-critical primitive: fees
// are always floored so rounding can never over-charge the trader.
func (a FP) MulDivDown(b, c FP) (FP, error) {
	if c.v.IsZero() {
		return FP{}, ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&a.v, &b.v, &c.v); overflow {
		return FP{}, ErrOverflow
	}
	return FP{v: z}, nil
}

// MulDivUp returns (a * b) / c rounded away from zero.
func (a FP) MulDivUp(b, c FP) (FP, error) {
	q, err := a.MulDivDown(b, c)
	if err != nil {
		return FP{}, err
	}
	var rem uint256.Int
	rem.MulMod(&a.v, &b.v, &c.v) // full-precision (a*b) mod c
	if rem.IsZero() {
		return q, nil
	}
	return q.Add(FP{v: *uint256.NewInt(1)})
}

// MulDown returns a * b rounded down (fixed-point multiply).
func (a FP) MulDown(b FP) (FP, error) {
	return a.MulDivDown(b, FP{v: *scale})
}

// MulUp returns a * b rounded up.
func (a FP) MulUp(b FP) (FP, error) {
	return a.MulDivUp(b, FP{v: *scale})
}

// DivDown returns a / b rounded down (fixed-point divide).
func (a FP) DivDown(b FP) (FP, error) {
	return a.MulDivDown(FP{v: *scale}, b)
}

// DivUp returns a / b rounded up.
func (a FP) DivUp(b FP) (FP, error) {
	return a.MulDivUp(FP{v: *scale}, b)
}

// Decimal converts to a shopspring decimal for display and reporting.
// Exact: the full 18 decimal places are preserved.
func (a FP) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), -18)
}

// String renders the canonical decimal form, e.g. "0.05", "1000".
// Trailing fractional zeros are trimmed.
func (a FP) String() string {
	return a.Decimal().String()
}

// MarshalJSON encodes as a quoted decimal string.
func (a FP) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes from a quoted decimal string or a bare JSON number.
func (a *FP) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*a = FP{}
		return nil
	}
	f, err := FromDec(s)
	if err != nil {
		return err
	}
	*a = f
	return nil
}

// Value implements driver.Valuer: stored as the canonical decimal string,
// compatible with a NUMERIC column.
func (a FP) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner for TEXT/NUMERIC round-trips.
func (a *FP) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*a = FP{}
		return nil
	case string:
		f, err := FromDec(s)
		if err != nil {
			return err
		}
		*a = f
		return nil
	case []byte:
		return a.Scan(string(s))
	default:
		return fmt.Errorf("fixedpoint: cannot scan %T", src)
	}
}

// FromBig converts a raw (already 10^18-scaled) big.Int.
func FromBig(b *big.Int) (FP, error) {
	if b.Sign() < 0 {
		return FP{}, ErrNegative
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return FP{}, ErrOverflow
	}
	return FP{v: *v}, nil
}
