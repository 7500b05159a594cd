package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[string]*model.Pool
	quotes []model.FeeQuote
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*model.Pool),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pools {
		if existing.Symbol == p.Symbol {
			return fmt.Errorf("pool for symbol %s already exists", p.Symbol)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *p
	s.pools[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s not found", id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPoolBySymbol(_ context.Context, symbol string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pools {
		if p.Symbol == symbol {
			copy := *p
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("pool for symbol %s not found", symbol)
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	return pools, nil
}

func (s *MemoryStore) UpdatePoolPricing(_ context.Context, id string, spotPrice, vaultSharePrice fixedpoint.FP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("pool %s not found", id)
	}
	p.SpotPrice = spotPrice
	p.VaultSharePrice = vaultSharePrice
	return nil
}

func (s *MemoryStore) InsertFeeQuote(_ context.Context, quote *model.FeeQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes = append(s.quotes, *quote)
	return nil
}

func (s *MemoryStore) GetQuotesByPool(_ context.Context, poolID string) ([]model.FeeQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FeeQuote
	for _, q := range s.quotes {
		if q.PoolID == poolID {
			result = append(result, q)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetQuotesByTrader(_ context.Context, trader string) ([]model.FeeQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FeeQuote
	for _, q := range s.quotes {
		if q.Trader == trader {
			result = append(result, q)
		}
	}
	return result, nil
}

// GetTraderBucketExposures aggregates the quote ledger into outstanding
// short notional per maturity bucket. Opens add bond amount, closes
// subtract; a bucket never goes below zero (a close quoted without a
// matching open in this engine is an upstream bookkeeping gap, not debt).
func (s *MemoryStore) GetTraderBucketExposures(_ context.Context, trader string, bucketSeconds uint64) (map[uint64]fixedpoint.FP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bucketSeconds == 0 {
		bucketSeconds = 1
	}

	exposures := make(map[uint64]fixedpoint.FP)
	for _, q := range s.quotes {
		if q.Trader != trader {
			continue
		}
		bucket := q.MaturityTime - q.MaturityTime%bucketSeconds
		current := exposures[bucket]

		if q.Side == model.SideOpen {
			next, err := current.Add(q.Amount)
			if err != nil {
				return nil, err
			}
			exposures[bucket] = next
		} else {
			next, err := current.Sub(q.Amount)
			if err != nil {
				next = fixedpoint.Zero()
			}
			exposures[bucket] = next
		}
	}

	for bucket, amount := range exposures {
		if amount.IsZero() {
			delete(exposures, bucket)
		}
	}
	return exposures, nil
}
