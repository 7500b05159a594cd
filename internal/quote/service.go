// Package quote provides the HTTP handlers and business logic for managing
// pools, evaluating short open/close fee quotes, and querying trader
// exposure.
//
// All monetary values use fixedpoint.FP — never float64 for money. The fee
// arithmetic itself lives in internal/fees; this package owns the snapshot
// construction, exposure checks, the immutable quote ledger, and the HTTP
// surface.
package quote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fixedrate/fee-engine/internal/asset"
	"github.com/fixedrate/fee-engine/internal/exposure"
	"github.com/fixedrate/fee-engine/internal/fees"
	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/metrics"
	"github.com/fixedrate/fee-engine/internal/model"
	"github.com/fixedrate/fee-engine/internal/store"
)

// displayPlaces is the rounding used for human-readable fee strings in
// responses. The exact fixed-point values are always returned alongside.
const displayPlaces = 6

// Service handles pool and quote operations. Uses a mutex to serialize
// quote issuance (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	limiter *exposure.Limiter
	clock   func() time.Time
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new quote service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *exposure.Limiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		limiter: limiter,
		clock:   time.Now,
		wsHub:   hub,
	}
}

// SetClock overrides the service clock. For tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool registration.
type CreatePoolRequest struct {
	Symbol             string        `json:"symbol"`
	CurveFee           fixedpoint.FP `json:"curve_fee"`
	GovernanceLPFee    fixedpoint.FP `json:"governance_lp_fee"`
	FlatFee            fixedpoint.FP `json:"flat_fee"`
	VaultSharePrice    fixedpoint.FP `json:"vault_share_price"`
	SpotPrice          fixedpoint.FP `json:"spot_price"`
	PositionDuration   uint64        `json:"position_duration"`   // seconds
	CheckpointDuration uint64        `json:"checkpoint_duration"` // seconds
}

// UpdatePricingRequest is the JSON body for PUT /pools/{poolID}/pricing.
// Prices arrive from the upstream feed; the engine never derives them.
type UpdatePricingRequest struct {
	SpotPrice       fixedpoint.FP `json:"spot_price"`
	VaultSharePrice fixedpoint.FP `json:"vault_share_price"`
}

// OpenQuoteRequest is the JSON body for POST /quotes/short/open.
type OpenQuoteRequest struct {
	Trader      string         `json:"trader"`
	Symbol      string         `json:"symbol"`
	ShortAmount fixedpoint.FP  `json:"short_amount"`
	SpotPrice   *fixedpoint.FP `json:"spot_price,omitempty"` // default: pool snapshot
}

// OpenQuoteResponse is returned from POST /quotes/short/open.
// Fees are denominated in the same unit as the short amount.
type OpenQuoteResponse struct {
	QuoteID         string        `json:"quote_id"`
	Trader          string        `json:"trader"`
	Symbol          string        `json:"symbol"`
	AssetID         string        `json:"asset_id"`
	ShortAmount     fixedpoint.FP `json:"short_amount"`
	SpotPrice       fixedpoint.FP `json:"spot_price"`
	MaturityTime    uint64        `json:"maturity_time"`
	CurveFee        fixedpoint.FP `json:"curve_fee"`
	GovernanceFee   fixedpoint.FP `json:"governance_fee"`
	TotalFee        fixedpoint.FP `json:"total_fee"`
	TotalFeeDisplay string        `json:"total_fee_display"`
}

// CloseQuoteRequest is the JSON body for POST /quotes/short/close.
type CloseQuoteRequest struct {
	Trader       string        `json:"trader"`
	Symbol       string        `json:"symbol"`
	BondAmount   fixedpoint.FP `json:"bond_amount"`
	MaturityTime uint64        `json:"maturity_time"`
	CurrentTime  uint64        `json:"current_time,omitempty"` // default: server clock
}

// CloseQuoteResponse is returned from POST /quotes/short/close.
// Fees are denominated in vault shares.
type CloseQuoteResponse struct {
	QuoteID         string        `json:"quote_id"`
	Trader          string        `json:"trader"`
	Symbol          string        `json:"symbol"`
	AssetID         string        `json:"asset_id"`
	BondAmount      fixedpoint.FP `json:"bond_amount"`
	MaturityTime    uint64        `json:"maturity_time"`
	CurrentTime     uint64        `json:"current_time"`
	TimeRemaining   fixedpoint.FP `json:"time_remaining"`
	CurveFee        fixedpoint.FP `json:"curve_fee"`
	FlatFee         fixedpoint.FP `json:"flat_fee"`
	TotalFee        fixedpoint.FP `json:"total_fee"`
	TotalFeeDisplay string        `json:"total_fee_display"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	one := fixedpoint.One()
	if req.CurveFee.Gt(one) || req.GovernanceLPFee.Gt(one) || req.FlatFee.Gt(one) {
		writeError(w, "fee rates must not exceed 1.0", http.StatusBadRequest)
		return
	}
	if req.SpotPrice.IsZero() || req.SpotPrice.Gt(one) {
		writeError(w, "spot_price must be in (0, 1]", http.StatusBadRequest)
		return
	}
	if req.VaultSharePrice.IsZero() {
		writeError(w, "vault_share_price must be positive", http.StatusBadRequest)
		return
	}

	// Validate the parameters can construct a fee snapshot.
	if _, err := fees.NewPoolState(fees.Config{
		CurveFee:         req.CurveFee,
		GovernanceLPFee:  req.GovernanceLPFee,
		FlatFee:          req.FlatFee,
		VaultSharePrice:  req.VaultSharePrice,
		SpotPrice:        req.SpotPrice,
		PositionDuration: req.PositionDuration,
	}); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	checkpoint := req.CheckpointDuration
	if checkpoint == 0 || checkpoint > req.PositionDuration {
		checkpoint = req.PositionDuration
	}

	pool := &model.Pool{
		ID:                 uuid.New().String(),
		Symbol:             req.Symbol,
		CurveFee:           req.CurveFee,
		GovernanceLPFee:    req.GovernanceLPFee,
		FlatFee:            req.FlatFee,
		VaultSharePrice:    req.VaultSharePrice,
		SpotPrice:          req.SpotPrice,
		PositionDuration:   req.PositionDuration,
		CheckpointDuration: checkpoint,
		Status:             model.StatusActive,
		CreatedAt:          s.clock().UTC(),
	}

	ctx := r.Context()
	if err := s.store.CreatePool(ctx, pool); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.ActivePools.Inc()

	slog.Info("pool registered",
		"id", pool.ID,
		"symbol", pool.Symbol,
		"curve_fee", pool.CurveFee.String(),
		"flat_fee", pool.FlatFee.String(),
		"position_duration", pool.PositionDuration,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pool)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	pool, err := s.store.GetPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pool)
}

// ListPools handles GET /api/v1/pools
// Returns all pools, optionally filtered by ?status=<status>.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		var filtered []model.Pool
		for _, p := range pools {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		if filtered == nil {
			filtered = []model.Pool{}
		}
		pools = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pools)
}

// UpdatePricing handles PUT /api/v1/pools/{poolID}/pricing
// The upstream price feed pushes fresh spot and vault share prices here.
func (s *Service) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req UpdatePricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SpotPrice.IsZero() || req.SpotPrice.Gt(fixedpoint.One()) {
		writeError(w, "spot_price must be in (0, 1]", http.StatusBadRequest)
		return
	}
	if req.VaultSharePrice.IsZero() {
		writeError(w, "vault_share_price must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	if err := s.store.UpdatePoolPricing(ctx, poolID, req.SpotPrice, req.VaultSharePrice); err != nil {
		writeError(w, "failed to update pricing", http.StatusInternalServerError)
		return
	}

	slog.Info("pool pricing updated",
		"id", poolID,
		"symbol", pool.Symbol,
		"spot_price", req.SpotPrice.String(),
		"vault_share_price", req.VaultSharePrice.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:            "pricing_updated",
			PoolID:          poolID,
			Symbol:          pool.Symbol,
			SpotPrice:       req.SpotPrice.String(),
			VaultSharePrice: req.VaultSharePrice.String(),
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// QuoteOpenShort handles POST /api/v1/quotes/short/open
// Evaluates the curve and governance fees for opening a short and appends
// an immutable quote record.
func (s *Service) QuoteOpenShort(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req OpenQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	if req.ShortAmount.IsZero() {
		writeError(w, "short_amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize quote issuance.
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.store.GetPoolBySymbol(ctx, req.Symbol)
	if err != nil {
		writeError(w, "pool not found for symbol: "+req.Symbol, http.StatusNotFound)
		return
	}
	if pool.Status != model.StatusActive {
		writeError(w, "pool is not active", http.StatusConflict)
		return
	}

	state, err := poolState(pool)
	if err != nil {
		writeError(w, "internal error: invalid pool configuration", http.StatusInternalServerError)
		return
	}

	// Caller may pin the fee to a specific quoted price (e.g. pre-trade
	// spot); otherwise the snapshot's live price is used.
	spotPrice := state.SpotPrice()
	if req.SpotPrice != nil {
		spotPrice = *req.SpotPrice
	}

	quoteTime := uint64(s.clock().Unix())
	maturity := asset.AlignMaturity(quoteTime+pool.PositionDuration, pool.CheckpointDuration)

	// --- Exposure limit check ---
	exposures, err := s.store.GetTraderBucketExposures(ctx, req.Trader, s.limiter.BucketSeconds)
	if err != nil {
		writeError(w, "failed to check exposure limits", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.CheckLimit(maturity, req.ShortAmount, exposures); err != nil {
		metrics.ExposureLimitRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	// --- Fee evaluation ---
	curveFee, err := state.OpenShortCurveFee(req.ShortAmount, spotPrice)
	if err != nil {
		writeArithmeticError(w, err)
		return
	}
	governanceFee, err := state.OpenShortGovernanceFee(req.ShortAmount, spotPrice)
	if err != nil {
		writeArithmeticError(w, err)
		return
	}

	// The governance fee is the protocol's cut of the curve fee, not an
	// additional charge: the trader pays the curve fee in total.
	totalFee := curveFee

	entry := &model.FeeQuote{
		ID:            uuid.New().String(),
		Trader:        req.Trader,
		PoolID:        pool.ID,
		Symbol:        pool.Symbol,
		Side:          model.SideOpen,
		Amount:        req.ShortAmount,
		CurveFee:      curveFee,
		GovernanceFee: governanceFee,
		TotalFee:      totalFee,
		MaturityTime:  maturity,
		QuoteTime:     quoteTime,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.store.InsertFeeQuote(ctx, entry); err != nil {
		writeError(w, "failed to record quote", http.StatusInternalServerError)
		return
	}

	metrics.QuotesTotal.WithLabelValues(model.SideOpen).Inc()
	metrics.QuoteLatency.WithLabelValues(model.SideOpen).Observe(time.Since(start).Seconds())

	resp := OpenQuoteResponse{
		QuoteID:         entry.ID,
		Trader:          req.Trader,
		Symbol:          pool.Symbol,
		AssetID:         asset.ShortKey{PoolID: pool.ID, MaturityTime: maturity}.Encode(),
		ShortAmount:     req.ShortAmount,
		SpotPrice:       spotPrice,
		MaturityTime:    maturity,
		CurveFee:        curveFee,
		GovernanceFee:   governanceFee,
		TotalFee:        totalFee,
		TotalFeeDisplay: totalFee.Decimal().Round(displayPlaces).String(),
	}

	slog.Info("open short quoted",
		"quote_id", entry.ID,
		"trader", req.Trader,
		"symbol", pool.Symbol,
		"amount", req.ShortAmount.String(),
		"curve_fee", curveFee.String(),
		"governance_fee", governanceFee.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "quote_issued",
			PoolID:   pool.ID,
			Symbol:   pool.Symbol,
			Side:     model.SideOpen,
			Amount:   req.ShortAmount.String(),
			TotalFee: totalFee.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// QuoteCloseShort handles POST /api/v1/quotes/short/close
// Evaluates the curve and flat fees for closing (or settling) a short.
func (s *Service) QuoteCloseShort(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req CloseQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	if req.BondAmount.IsZero() {
		writeError(w, "bond_amount must be positive", http.StatusBadRequest)
		return
	}
	if req.MaturityTime == 0 {
		writeError(w, "maturity_time is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.store.GetPoolBySymbol(ctx, req.Symbol)
	if err != nil {
		writeError(w, "pool not found for symbol: "+req.Symbol, http.StatusNotFound)
		return
	}
	if pool.Status != model.StatusActive {
		writeError(w, "pool is not active", http.StatusConflict)
		return
	}

	state, err := poolState(pool)
	if err != nil {
		writeError(w, "internal error: invalid pool configuration", http.StatusInternalServerError)
		return
	}

	currentTime := req.CurrentTime
	if currentTime == 0 {
		currentTime = uint64(s.clock().Unix())
	}

	curveFee, err := state.CloseShortCurveFee(req.BondAmount, req.MaturityTime, currentTime)
	if err != nil {
		writeArithmeticError(w, err)
		return
	}
	flatFee, err := state.CloseShortFlatFee(req.BondAmount, req.MaturityTime, currentTime)
	if err != nil {
		writeArithmeticError(w, err)
		return
	}
	totalFee, err := curveFee.Add(flatFee)
	if err != nil {
		writeArithmeticError(w, err)
		return
	}

	entry := &model.FeeQuote{
		ID:           uuid.New().String(),
		Trader:       req.Trader,
		PoolID:       pool.ID,
		Symbol:       pool.Symbol,
		Side:         model.SideClose,
		Amount:       req.BondAmount,
		CurveFee:     curveFee,
		FlatFee:      flatFee,
		TotalFee:     totalFee,
		MaturityTime: req.MaturityTime,
		QuoteTime:    currentTime,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.store.InsertFeeQuote(ctx, entry); err != nil {
		writeError(w, "failed to record quote", http.StatusInternalServerError)
		return
	}

	metrics.QuotesTotal.WithLabelValues(model.SideClose).Inc()
	metrics.QuoteLatency.WithLabelValues(model.SideClose).Observe(time.Since(start).Seconds())

	resp := CloseQuoteResponse{
		QuoteID:         entry.ID,
		Trader:          req.Trader,
		Symbol:          pool.Symbol,
		AssetID:         asset.ShortKey{PoolID: pool.ID, MaturityTime: req.MaturityTime}.Encode(),
		BondAmount:      req.BondAmount,
		MaturityTime:    req.MaturityTime,
		CurrentTime:     currentTime,
		TimeRemaining:   state.NormalizedTimeRemaining(req.MaturityTime, currentTime),
		CurveFee:        curveFee,
		FlatFee:         flatFee,
		TotalFee:        totalFee,
		TotalFeeDisplay: totalFee.Decimal().Round(displayPlaces).String(),
	}

	slog.Info("close short quoted",
		"quote_id", entry.ID,
		"trader", req.Trader,
		"symbol", pool.Symbol,
		"amount", req.BondAmount.String(),
		"curve_fee", curveFee.String(),
		"flat_fee", flatFee.String(),
		"time_remaining", resp.TimeRemaining.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "quote_issued",
			PoolID:   pool.ID,
			Symbol:   pool.Symbol,
			Side:     model.SideClose,
			Amount:   req.BondAmount.String(),
			TotalFee: totalFee.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetPoolQuotes handles GET /api/v1/pools/{poolID}/quotes
func (s *Service) GetPoolQuotes(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	quotes, err := s.store.GetQuotesByPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "failed to get pool quotes", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []model.FeeQuote{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quotes)
}

// GetTraderQuotes handles GET /api/v1/traders/{trader}/quotes
func (s *Service) GetTraderQuotes(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")

	quotes, err := s.store.GetQuotesByTrader(r.Context(), trader)
	if err != nil {
		writeError(w, "failed to get trader quotes", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []model.FeeQuote{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quotes)
}

// GetTraderExposure handles GET /api/v1/exposure/{trader}
// Returns outstanding short notional per maturity bucket.
func (s *Service) GetTraderExposure(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")

	exposures, err := s.store.GetTraderBucketExposures(r.Context(), trader, s.limiter.BucketSeconds)
	if err != nil {
		writeError(w, "failed to load exposures", http.StatusInternalServerError)
		return
	}

	result := make([]model.Exposure, 0, len(exposures))
	for bucket, amount := range exposures {
		result = append(result, model.Exposure{
			Trader:     trader,
			Bucket:     bucket,
			BondAmount: amount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// poolState builds the immutable fee snapshot from a stored pool.
func poolState(pool *model.Pool) (*fees.PoolState, error) {
	return fees.NewPoolState(fees.Config{
		CurveFee:         pool.CurveFee,
		GovernanceLPFee:  pool.GovernanceLPFee,
		FlatFee:          pool.FlatFee,
		VaultSharePrice:  pool.VaultSharePrice,
		SpotPrice:        pool.SpotPrice,
		PositionDuration: pool.PositionDuration,
	})
}

// writeArithmeticError maps fixed-point failures to 422: the snapshot or
// inputs violate an upstream invariant and the trade must be rejected,
// never quoted with a substituted fee.
func writeArithmeticError(w http.ResponseWriter, err error) {
	if errors.Is(err, fixedpoint.ErrOverflow) ||
		errors.Is(err, fixedpoint.ErrUnderflow) ||
		errors.Is(err, fixedpoint.ErrDivisionByZero) {
		metrics.ArithmeticFailures.Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
