// Package model defines the core domain types shared across the fee engine.
// All monetary values use fixedpoint.FP — never float64 for money.
package model

import (
	"time"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
)

// Quote sides.
const (
	SideOpen  = "open"
	SideClose = "close"
)

// Pool statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Pool is the engine's view of one fixed-rate AMM pool: the fee parameters
// and the latest pricing snapshot pushed by the upstream price feed. The
// engine never derives SpotPrice or VaultSharePrice itself.
type Pool struct {
	ID                 string        `json:"id" db:"id"`
	Symbol             string        `json:"symbol" db:"symbol"`
	CurveFee           fixedpoint.FP `json:"curve_fee" db:"curve_fee"`
	GovernanceLPFee    fixedpoint.FP `json:"governance_lp_fee" db:"governance_lp_fee"`
	FlatFee            fixedpoint.FP `json:"flat_fee" db:"flat_fee"`
	VaultSharePrice    fixedpoint.FP `json:"vault_share_price" db:"vault_share_price"`
	SpotPrice          fixedpoint.FP `json:"spot_price" db:"spot_price"`
	PositionDuration   uint64        `json:"position_duration" db:"position_duration"`     // seconds
	CheckpointDuration uint64        `json:"checkpoint_duration" db:"checkpoint_duration"` // seconds
	Status             string        `json:"status" db:"status"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
}

// FeeQuote is an immutable record of one fee evaluation. Once created,
// these are never modified or deleted; together they form the engine's
// audit ledger and the basis for trader exposure accounting.
type FeeQuote struct {
	ID            string        `json:"id" db:"id"`
	Trader        string        `json:"trader" db:"trader"`
	PoolID        string        `json:"pool_id" db:"pool_id"`
	Symbol        string        `json:"symbol" db:"symbol"`
	Side          string        `json:"side" db:"side"` // "open" or "close"
	Amount        fixedpoint.FP `json:"amount" db:"amount"`
	CurveFee      fixedpoint.FP `json:"curve_fee" db:"curve_fee"`
	GovernanceFee fixedpoint.FP `json:"governance_fee" db:"governance_fee"`
	FlatFee       fixedpoint.FP `json:"flat_fee" db:"flat_fee"`
	TotalFee      fixedpoint.FP `json:"total_fee" db:"total_fee"`
	MaturityTime  uint64        `json:"maturity_time" db:"maturity_time"`
	QuoteTime     uint64        `json:"quote_time" db:"quote_time"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// Exposure is a trader's outstanding short notional in one maturity bucket.
type Exposure struct {
	Trader     string        `json:"trader"`
	Bucket     uint64        `json:"bucket"` // bucket start, unix seconds
	BondAmount fixedpoint.FP `json:"bond_amount"`
}
