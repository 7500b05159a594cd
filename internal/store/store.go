// Package store defines the persistence interface for the fee engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool operations ---

	// CreatePool persists a new pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// GetPoolBySymbol retrieves a pool by its market symbol.
	GetPoolBySymbol(ctx context.Context, symbol string) (*model.Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// UpdatePoolPricing replaces the pool's pricing snapshot with values
	// pushed by the upstream price feed.
	UpdatePoolPricing(ctx context.Context, id string, spotPrice, vaultSharePrice fixedpoint.FP) error

	// --- Immutable quote ledger ---

	// InsertFeeQuote appends an immutable fee evaluation record.
	InsertFeeQuote(ctx context.Context, quote *model.FeeQuote) error

	// GetQuotesByPool returns all quotes for a pool.
	GetQuotesByPool(ctx context.Context, poolID string) ([]model.FeeQuote, error)

	// GetQuotesByTrader returns all quotes for a trader.
	GetQuotesByTrader(ctx context.Context, trader string) ([]model.FeeQuote, error)

	// --- Exposure queries ---

	// GetTraderBucketExposures returns outstanding short bond notional per
	// maturity bucket, computed from the quote ledger (opens add, closes
	// subtract, floored at zero).
	GetTraderBucketExposures(ctx context.Context, trader string, bucketSeconds uint64) (map[uint64]fixedpoint.FP, error)
}
