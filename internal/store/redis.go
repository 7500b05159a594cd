package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePoolPricing(ctx context.Context, id string, spotPrice, vaultSharePrice fixedpoint.FP) error {
	if err := s.primary.UpdatePoolPricing(ctx, id, spotPrice, vaultSharePrice); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate with fresh pricing.
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

func (s *CachedStore) InsertFeeQuote(ctx context.Context, quote *model.FeeQuote) error {
	if err := s.primary.InsertFeeQuote(ctx, quote); err != nil {
		return err
	}
	// Invalidate exposure cache for this trader.
	s.rdb.Del(ctx, exposuresKey(quote.Trader))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) GetPoolBySymbol(ctx context.Context, symbol string) (*model.Pool, error) {
	// Try cache via symbol→poolID mapping.
	poolID, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetPool(ctx, poolID)
	}

	// Cache miss.
	p, err := s.primary.GetPoolBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// Cache both the pool and the symbol→ID mapping.
	s.cachePool(ctx, p)
	s.rdb.Set(ctx, symbolKey(symbol), p.ID, s.ttl)
	return p, nil
}

// GetTraderBucketExposures caches the aggregated exposure map keyed by
// trader. The bucket width is part of the cached payload, so a width
// change falls back to the primary.
func (s *CachedStore) GetTraderBucketExposures(ctx context.Context, trader string, bucketSeconds uint64) (map[uint64]fixedpoint.FP, error) {
	type cached struct {
		BucketSeconds uint64                   `json:"bucket_seconds"`
		Exposures     map[uint64]fixedpoint.FP `json:"exposures"`
	}

	data, err := s.rdb.Get(ctx, exposuresKey(trader)).Bytes()
	if err == nil {
		var c cached
		if json.Unmarshal(data, &c) == nil && c.BucketSeconds == bucketSeconds {
			return c.Exposures, nil
		}
	}

	exposures, err := s.primary.GetTraderBucketExposures(ctx, trader, bucketSeconds)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cached{BucketSeconds: bucketSeconds, Exposures: exposures}); err == nil {
		s.rdb.Set(ctx, exposuresKey(trader), data, s.ttl)
	}
	return exposures, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetQuotesByPool(ctx context.Context, poolID string) ([]model.FeeQuote, error) {
	return s.primary.GetQuotesByPool(ctx, poolID)
}

func (s *CachedStore) GetQuotesByTrader(ctx context.Context, trader string) ([]model.FeeQuote, error) {
	return s.primary.GetQuotesByTrader(ctx, trader)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.ID), data, s.ttl)
	}
}

func poolKey(id string) string          { return fmt.Sprintf("pool:%s", id) }
func symbolKey(symbol string) string    { return fmt.Sprintf("symbol:%s", symbol) }
func exposuresKey(trader string) string { return fmt.Sprintf("exposures:%s", trader) }
