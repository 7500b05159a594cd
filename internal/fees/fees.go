// Package fees computes the trading fees a fixed-rate AMM charges when a
// short position is opened or closed. The arithmetic reproduces, bit for
// bit, what the on-chain settlement engine would charge for the same
// inputs, so quotes produced here are safe to pre-validate trades against.
//
// All monetary values use fixedpoint.FP — never float64 for money. Every
// function is pure: it reads the immutable PoolState snapshot, performs a
// fixed number of checked fixed-point operations, and returns. Arithmetic
// failures (overflow, underflow, division by zero) indicate a corrupted
// snapshot and propagate unmodified; callers must reject the trade rather
// than substitute a default fee.
package fees

import (
	"errors"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
)

// ErrInvalidDuration is returned when a pool's position duration is zero.
var ErrInvalidDuration = errors.New("fees: position duration must be positive")

// PoolState is an immutable snapshot of the AMM parameters a fee evaluation
// reads. It is constructed once per evaluation from upstream pool state and
// never mutated, so it may be shared across goroutines without locking.
type PoolState struct {
	curveFee         fixedpoint.FP
	governanceLPFee  fixedpoint.FP
	flatFee          fixedpoint.FP
	vaultSharePrice  fixedpoint.FP
	spotPrice        fixedpoint.FP
	positionDuration uint64
}

// Config carries the snapshot inputs. Rates are unitless fractions
// (conventionally <= 1.0); SpotPrice is the AMM's current price in (0, 1];
// VaultSharePrice converts vault shares to the base asset. None of these
// are derived here — price derivation belongs to the upstream pool.
type Config struct {
	CurveFee         fixedpoint.FP
	GovernanceLPFee  fixedpoint.FP
	FlatFee          fixedpoint.FP
	VaultSharePrice  fixedpoint.FP
	SpotPrice        fixedpoint.FP
	PositionDuration uint64 // full term length in seconds
}

// NewPoolState builds a snapshot. Only the position duration is validated
// mechanically; rate and price sanity is the upstream pool's contract
// (violations surface later as arithmetic errors, not silent defaults).
func NewPoolState(cfg Config) (*PoolState, error) {
	if cfg.PositionDuration == 0 {
		return nil, ErrInvalidDuration
	}
	return &PoolState{
		curveFee:         cfg.CurveFee,
		governanceLPFee:  cfg.GovernanceLPFee,
		flatFee:          cfg.FlatFee,
		vaultSharePrice:  cfg.VaultSharePrice,
		spotPrice:        cfg.SpotPrice,
		positionDuration: cfg.PositionDuration,
	}, nil
}

// CurveFee returns the pool's curve fee rate.
func (s *PoolState) CurveFee() fixedpoint.FP { return s.curveFee }

// GovernanceLPFee returns the governance share of the curve fee.
func (s *PoolState) GovernanceLPFee() fixedpoint.FP { return s.governanceLPFee }

// FlatFee returns the pool's flat fee rate.
func (s *PoolState) FlatFee() fixedpoint.FP { return s.flatFee }

// VaultSharePrice returns the shares-to-base exchange rate.
func (s *PoolState) VaultSharePrice() fixedpoint.FP { return s.vaultSharePrice }

// SpotPrice returns the snapshot's AMM spot price.
func (s *PoolState) SpotPrice() fixedpoint.FP { return s.spotPrice }

// PositionDuration returns the full term length in seconds.
func (s *PoolState) PositionDuration() uint64 { return s.positionDuration }

// OpenShortCurveFee is the curve fee charged when a short is opened:
//
//	curveFee * (1 - spotPrice) * shortAmount
//
// The spot price is caller-supplied rather than read from the snapshot so
// the fee can be evaluated against a price quoted at a specific point
// (pre-trade vs. post-trade). The result is denominated in the same unit
// as shortAmount.
func (s *PoolState) OpenShortCurveFee(shortAmount, spotPrice fixedpoint.FP) (fixedpoint.FP, error) {
	discount, err := fixedpoint.One().Sub(spotPrice)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	fee, err := s.curveFee.MulDown(discount)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	return fee.MulDown(shortAmount)
}

// OpenShortGovernanceFee is the governance cut of the open curve fee:
//
//	governanceLPFee * OpenShortCurveFee(shortAmount, spotPrice)
//
// It calls OpenShortCurveFee rather than restating the formula, so a change
// to the curve fee is reflected here automatically.
func (s *PoolState) OpenShortGovernanceFee(shortAmount, spotPrice fixedpoint.FP) (fixedpoint.FP, error) {
	curveFee, err := s.OpenShortCurveFee(shortAmount, spotPrice)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	return s.governanceLPFee.MulDown(curveFee)
}

// CloseShortCurveFee is the curve fee charged when a short is closed,
// proportional to the time-weighted remaining notional:
//
//	curveFee * (1 - spotPrice) * (bondAmount * t) / vaultSharePrice
//
// where t is the normalized time remaining. The bond-denominated quantity
// is converted to shares by dividing by the vault share price inside a
// single MulDivDown, multiplying before dividing so the floor is applied
// once, exactly where the reference implementation applies it. The spot
// price is read live from the snapshot: close-time assessment must reflect
// the pool's price at close. Returns the fee in shares.
func (s *PoolState) CloseShortCurveFee(bondAmount fixedpoint.FP, maturityTime, currentTime uint64) (fixedpoint.FP, error) {
	t := s.NormalizedTimeRemaining(maturityTime, currentTime)

	discount, err := fixedpoint.One().Sub(s.spotPrice)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	fee, err := s.curveFee.MulDown(discount)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	base, err := bondAmount.MulDivDown(t, s.vaultSharePrice)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	return fee.MulDown(base)
}

// CloseShortFlatFee is the time-decay-independent per-unit fee component:
//
//	(bondAmount * (1 - t)) / vaultSharePrice * flatFee
//
// Zero immediately after opening (t = 1), fully charged at maturity
// (t = 0). Returns the fee in shares.
func (s *PoolState) CloseShortFlatFee(bondAmount fixedpoint.FP, maturityTime, currentTime uint64) (fixedpoint.FP, error) {
	t := s.NormalizedTimeRemaining(maturityTime, currentTime)

	elapsed, err := fixedpoint.One().Sub(t)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	base, err := bondAmount.MulDivDown(elapsed, s.vaultSharePrice)
	if err != nil {
		return fixedpoint.FP{}, err
	}
	return base.MulDown(s.flatFee)
}

// NormalizedTimeRemaining returns the fraction of the position's term left
// until maturity as a fixed-point value in [0, 1]. It floors at 0 once
// currentTime reaches maturityTime and caps at 1 when the remaining term
// exceeds the pool's position duration (a maturity further out than one
// full term can only come from corrupted upstream state; capping keeps the
// result inside the documented range).
func (s *PoolState) NormalizedTimeRemaining(maturityTime, currentTime uint64) fixedpoint.FP {
	if currentTime >= maturityTime {
		return fixedpoint.Zero()
	}
	remaining := maturityTime - currentTime
	if remaining >= s.positionDuration {
		return fixedpoint.One()
	}
	// remaining < duration, so the quotient is below 1e18 and the
	// product fits 256 bits; floor division matches the reference.
	rem, _ := fixedpoint.FromUint64(remaining)
	dur, _ := fixedpoint.FromUint64(s.positionDuration)
	t, _ := rem.DivDown(dur)
	return t
}
