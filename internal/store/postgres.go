package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Fixed-point values are stored as NUMERIC in their canonical decimal
// string form, so what the ledger records is exactly what was quoted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, symbol, curve_fee, governance_lp_fee, flat_fee,
		                    vault_share_price, spot_price, position_duration,
		                    checkpoint_duration, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
		         $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		p.ID, p.Symbol,
		p.CurveFee.String(), p.GovernanceLPFee.String(), p.FlatFee.String(),
		p.VaultSharePrice.String(), p.SpotPrice.String(),
		int64(p.PositionDuration), int64(p.CheckpointDuration),
		p.Status, p.CreatedAt,
	)
	return err
}

const poolColumns = `id, symbol,
	curve_fee::TEXT, governance_lp_fee::TEXT, flat_fee::TEXT,
	vault_share_price::TEXT, spot_price::TEXT,
	position_duration, checkpoint_duration, status, created_at`

func (s *PostgresStore) scanPool(row interface{ Scan(...interface{}) error }) (*model.Pool, error) {
	var p model.Pool
	var curveFee, govFee, flatFee, sharePrice, spotPrice string
	var positionDuration, checkpointDuration int64

	if err := row.Scan(&p.ID, &p.Symbol,
		&curveFee, &govFee, &flatFee,
		&sharePrice, &spotPrice,
		&positionDuration, &checkpointDuration,
		&p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.PositionDuration = uint64(positionDuration)
	p.CheckpointDuration = uint64(checkpointDuration)

	var err error
	if p.CurveFee, err = fixedpoint.FromDec(curveFee); err != nil {
		return nil, err
	}
	if p.GovernanceLPFee, err = fixedpoint.FromDec(govFee); err != nil {
		return nil, err
	}
	if p.FlatFee, err = fixedpoint.FromDec(flatFee); err != nil {
		return nil, err
	}
	if p.VaultSharePrice, err = fixedpoint.FromDec(sharePrice); err != nil {
		return nil, err
	}
	if p.SpotPrice, err = fixedpoint.FromDec(spotPrice); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	p, err := s.scanPool(row)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPoolBySymbol(ctx context.Context, symbol string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE symbol = $1`, symbol)
	p, err := s.scanPool(row)
	if err != nil {
		return nil, fmt.Errorf("get pool by symbol %s: %w", symbol, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := s.scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpdatePoolPricing(ctx context.Context, id string, spotPrice, vaultSharePrice fixedpoint.FP) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pools
		 SET spot_price = $2::NUMERIC, vault_share_price = $3::NUMERIC
		 WHERE id = $1`,
		id, spotPrice.String(), vaultSharePrice.String(),
	)
	return err
}

func (s *PostgresStore) InsertFeeQuote(ctx context.Context, q *model.FeeQuote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fee_quotes (id, trader, pool_id, symbol, side, amount,
		                         curve_fee, governance_fee, flat_fee, total_fee,
		                         maturity_time, quote_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13)`,
		q.ID, q.Trader, q.PoolID, q.Symbol, q.Side, q.Amount.String(),
		q.CurveFee.String(), q.GovernanceFee.String(), q.FlatFee.String(), q.TotalFee.String(),
		int64(q.MaturityTime), int64(q.QuoteTime), q.CreatedAt,
	)
	return err
}

const quoteColumns = `id, trader, pool_id, symbol, side, amount::TEXT,
	curve_fee::TEXT, governance_fee::TEXT, flat_fee::TEXT, total_fee::TEXT,
	maturity_time, quote_time, created_at`

func (s *PostgresStore) GetQuotesByPool(ctx context.Context, poolID string) ([]model.FeeQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM fee_quotes WHERE pool_id = $1 ORDER BY created_at`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFeeQuotes(rows)
}

func (s *PostgresStore) GetQuotesByTrader(ctx context.Context, trader string) ([]model.FeeQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM fee_quotes WHERE trader = $1 ORDER BY created_at`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFeeQuotes(rows)
}

// GetTraderBucketExposures aggregates the quote ledger in SQL: opens add
// bond amount, closes subtract, floored at zero per bucket.
func (s *PostgresStore) GetTraderBucketExposures(ctx context.Context, trader string, bucketSeconds uint64) (map[uint64]fixedpoint.FP, error) {
	if bucketSeconds == 0 {
		bucketSeconds = 1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT (maturity_time - maturity_time % $2)::BIGINT AS bucket,
		        GREATEST(COALESCE(SUM(CASE WHEN side = 'open' THEN amount
		                                   WHEN side = 'close' THEN -amount
		                                   ELSE 0 END), 0), 0)::TEXT AS exposure
		 FROM fee_quotes
		 WHERE trader = $1
		 GROUP BY bucket`, trader, int64(bucketSeconds))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make(map[uint64]fixedpoint.FP)
	for rows.Next() {
		var bucket int64
		var expStr string
		if err := rows.Scan(&bucket, &expStr); err != nil {
			return nil, err
		}
		exp, err := fixedpoint.FromDec(expStr)
		if err != nil {
			return nil, err
		}
		if !exp.IsZero() {
			exposures[uint64(bucket)] = exp
		}
	}
	return exposures, rows.Err()
}

// scanFeeQuotes reads pgx rows into FeeQuote slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanFeeQuotes(rows pgxRows) ([]model.FeeQuote, error) {
	var quotes []model.FeeQuote
	for rows.Next() {
		var q model.FeeQuote
		var amount, curveFee, govFee, flatFee, total string
		var maturityTime, quoteTime int64

		if err := rows.Scan(&q.ID, &q.Trader, &q.PoolID, &q.Symbol, &q.Side, &amount,
			&curveFee, &govFee, &flatFee, &total,
			&maturityTime, &quoteTime, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.MaturityTime = uint64(maturityTime)
		q.QuoteTime = uint64(quoteTime)

		var err error
		if q.Amount, err = fixedpoint.FromDec(amount); err != nil {
			return nil, err
		}
		if q.CurveFee, err = fixedpoint.FromDec(curveFee); err != nil {
			return nil, err
		}
		if q.GovernanceFee, err = fixedpoint.FromDec(govFee); err != nil {
			return nil, err
		}
		if q.FlatFee, err = fixedpoint.FromDec(flatFee); err != nil {
			return nil, err
		}
		if q.TotalFee, err = fixedpoint.FromDec(total); err != nil {
			return nil, err
		}

		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
