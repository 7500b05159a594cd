package quote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fixedrate/fee-engine/internal/exposure"
	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/model"
	"github.com/fixedrate/fee-engine/internal/quote"
	"github.com/fixedrate/fee-engine/internal/store"
)

func fp(s string) fixedpoint.FP {
	return fixedpoint.MustFromDec(s)
}

const (
	oneDay  = 86400
	oneYear = 365 * oneDay

	// testNow is a fixed clock so maturities are deterministic.
	testNow = int64(1767225600)
)

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*quote.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	limiter := exposure.NewLimiter(fp("1000000"), fp("5000000"), oneDay, 7)
	svc := quote.NewService(ms, limiter, nil)
	svc.SetClock(func() time.Time { return time.Unix(testNow, 0).UTC() })

	r := chi.NewRouter()
	r.Post("/api/v1/pools", svc.CreatePool)
	r.Get("/api/v1/pools/{poolID}", svc.GetPool)
	r.Put("/api/v1/pools/{poolID}/pricing", svc.UpdatePricing)
	r.Get("/api/v1/pools/{poolID}/quotes", svc.GetPoolQuotes)
	r.Post("/api/v1/quotes/short/open", svc.QuoteOpenShort)
	r.Post("/api/v1/quotes/short/close", svc.QuoteCloseShort)
	r.Get("/api/v1/traders/{trader}/quotes", svc.GetTraderQuotes)
	r.Get("/api/v1/exposure/{trader}", svc.GetTraderExposure)

	return svc, ms, r
}

// seedPool creates a test pool directly in the store:
// curveFee=0.01, governanceLPFee=0.1, flatFee=0.01,
// vaultSharePrice=2, spotPrice=0.95, one-year term, daily checkpoints.
func seedPool(t *testing.T, ms *store.MemoryStore, symbol string) *model.Pool {
	t.Helper()
	pool := &model.Pool{
		ID:                 "test-pool-" + symbol,
		Symbol:             symbol,
		CurveFee:           fp("0.01"),
		GovernanceLPFee:    fp("0.1"),
		FlatFee:            fp("0.01"),
		VaultSharePrice:    fp("2"),
		SpotPrice:          fp("0.95"),
		PositionDuration:   oneYear,
		CheckpointDuration: oneDay,
		Status:             model.StatusActive,
		CreatedAt:          time.Unix(testNow, 0).UTC(),
	}
	if err := ms.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return pool
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- Pool management ---

func TestCreatePool(t *testing.T) {
	_, _, r := newTestEnv(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/pools", quote.CreatePoolRequest{
		Symbol:             "HY-DAI-365",
		CurveFee:           fp("0.01"),
		GovernanceLPFee:    fp("0.1"),
		FlatFee:            fp("0.01"),
		VaultSharePrice:    fp("1.05"),
		SpotPrice:          fp("0.95"),
		PositionDuration:   oneYear,
		CheckpointDuration: oneDay,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var pool model.Pool
	if err := json.NewDecoder(w.Body).Decode(&pool); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pool.ID == "" {
		t.Error("pool ID not assigned")
	}
	if pool.Status != model.StatusActive {
		t.Errorf("status = %s, want active", pool.Status)
	}
	if !pool.CurveFee.Eq(fp("0.01")) {
		t.Errorf("curve fee = %s, want 0.01", pool.CurveFee)
	}
}

func TestCreatePool_RejectsBadParameters(t *testing.T) {
	_, _, r := newTestEnv(t)

	base := quote.CreatePoolRequest{
		Symbol:           "HY-DAI-365",
		CurveFee:         fp("0.01"),
		GovernanceLPFee:  fp("0.1"),
		FlatFee:          fp("0.01"),
		VaultSharePrice:  fp("1"),
		SpotPrice:        fp("0.95"),
		PositionDuration: oneYear,
	}

	tests := []struct {
		name   string
		mutate func(*quote.CreatePoolRequest)
	}{
		{"missing symbol", func(q *quote.CreatePoolRequest) { q.Symbol = "" }},
		{"curve fee above one", func(q *quote.CreatePoolRequest) { q.CurveFee = fp("1.01") }},
		{"spot above one", func(q *quote.CreatePoolRequest) { q.SpotPrice = fp("1.01") }},
		{"zero spot", func(q *quote.CreatePoolRequest) { q.SpotPrice = fixedpoint.Zero() }},
		{"zero share price", func(q *quote.CreatePoolRequest) { q.VaultSharePrice = fixedpoint.Zero() }},
		{"zero duration", func(q *quote.CreatePoolRequest) { q.PositionDuration = 0 }},
	}
	for _, tt := range tests {
		req := base
		tt.mutate(&req)
		w := doJSON(t, r, http.MethodPost, "/api/v1/pools", req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

func TestCreatePool_DuplicateSymbol(t *testing.T) {
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPost, "/api/v1/pools", quote.CreatePoolRequest{
		Symbol:           "HY-DAI-365",
		CurveFee:         fp("0.01"),
		GovernanceLPFee:  fp("0.1"),
		FlatFee:          fp("0.01"),
		VaultSharePrice:  fp("1"),
		SpotPrice:        fp("0.95"),
		PositionDuration: oneYear,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// --- Open short quotes ---

func TestQuoteOpenShort_Scenario(t *testing.T) {
	// curveFee=0.01, spot=0.95, amount=1000:
	// curve fee = 0.01 * 0.05 * 1000 = 0.5, governance = 0.1 * 0.5 = 0.05.
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("1000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp quote.OpenQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.CurveFee.Eq(fp("0.5")) {
		t.Errorf("curve fee = %s, want 0.5", resp.CurveFee)
	}
	if !resp.GovernanceFee.Eq(fp("0.05")) {
		t.Errorf("governance fee = %s, want 0.05", resp.GovernanceFee)
	}
	if !resp.TotalFee.Eq(fp("0.5")) {
		t.Errorf("total fee = %s, want 0.5", resp.TotalFee)
	}
	if resp.TotalFeeDisplay != "0.5" {
		t.Errorf("display = %s, want 0.5", resp.TotalFeeDisplay)
	}
	if resp.MaturityTime%oneDay != 0 {
		t.Errorf("maturity %d not aligned to checkpoint", resp.MaturityTime)
	}
	if resp.MaturityTime < uint64(testNow)+oneYear {
		t.Errorf("maturity %d earlier than one full term", resp.MaturityTime)
	}
}

func TestQuoteOpenShort_CallerPinnedSpot(t *testing.T) {
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	pinned := fp("0.9")
	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("1000"),
		SpotPrice:   &pinned,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp quote.OpenQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 0.01 * 0.1 * 1000 = 1
	if !resp.CurveFee.Eq(fp("1")) {
		t.Errorf("curve fee = %s, want 1", resp.CurveFee)
	}
}

func TestQuoteOpenShort_CorruptSpotRejected(t *testing.T) {
	// A pinned spot above 1 makes 1 - spot underflow; the quote must be
	// rejected, not defaulted.
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	pinned := fp("1.000000000000000001")
	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("1000"),
		SpotPrice:   &pinned,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body = %s", w.Code, w.Body.String())
	}
}

func TestQuoteOpenShort_UnknownSymbol(t *testing.T) {
	_, _, r := newTestEnv(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "NOPE",
		ShortAmount: fp("1"),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestQuoteOpenShort_ExposureLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	limiter := exposure.NewLimiter(fp("100"), fp("500"), oneDay, 7)
	svc := quote.NewService(ms, limiter, nil)
	svc.SetClock(func() time.Time { return time.Unix(testNow, 0).UTC() })

	r := chi.NewRouter()
	r.Post("/api/v1/quotes/short/open", svc.QuoteOpenShort)
	seedPool(t, ms, "HY-DAI-365")

	// First quote fills the bucket.
	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("100"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("first quote: status = %d, body = %s", w.Code, w.Body.String())
	}

	// Second quote at the same maturity must be rejected.
	w = doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("1"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409; body = %s", w.Code, w.Body.String())
	}
}

// --- Close short quotes ---

func TestQuoteCloseShort_AtMaturity(t *testing.T) {
	// timeRemaining = 0: curve fee vanishes, flat fee is fully charged:
	// (100 / 2) * 0.01 = 0.5 shares.
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/close", quote.CloseQuoteRequest{
		Trader:       "trader-1",
		Symbol:       "HY-DAI-365",
		BondAmount:   fp("100"),
		MaturityTime: uint64(testNow),
		CurrentTime:  uint64(testNow),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp quote.CloseQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.CurveFee.IsZero() {
		t.Errorf("curve fee at maturity = %s, want 0", resp.CurveFee)
	}
	if !resp.FlatFee.Eq(fp("0.5")) {
		t.Errorf("flat fee = %s, want 0.5", resp.FlatFee)
	}
	if !resp.TimeRemaining.IsZero() {
		t.Errorf("time remaining = %s, want 0", resp.TimeRemaining)
	}
}

func TestQuoteCloseShort_JustOpened(t *testing.T) {
	// timeRemaining = 1: flat fee vanishes, curve fee is fully charged:
	// 0.01 * 0.05 * (100 / 2) = 0.025 shares.
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	maturity := uint64(testNow) + oneYear
	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/close", quote.CloseQuoteRequest{
		Trader:       "trader-1",
		Symbol:       "HY-DAI-365",
		BondAmount:   fp("100"),
		MaturityTime: maturity,
		CurrentTime:  uint64(testNow),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp quote.CloseQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.CurveFee.Eq(fp("0.025")) {
		t.Errorf("curve fee = %s, want 0.025", resp.CurveFee)
	}
	if !resp.FlatFee.IsZero() {
		t.Errorf("flat fee just after open = %s, want 0", resp.FlatFee)
	}
	if !resp.TimeRemaining.Eq(fixedpoint.One()) {
		t.Errorf("time remaining = %s, want 1", resp.TimeRemaining)
	}
	if !resp.TotalFee.Eq(fp("0.025")) {
		t.Errorf("total fee = %s, want 0.025", resp.TotalFee)
	}
}

func TestQuoteCloseShort_DefaultsToServerClock(t *testing.T) {
	_, ms, r := newTestEnv(t)
	seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/close", quote.CloseQuoteRequest{
		Trader:       "trader-1",
		Symbol:       "HY-DAI-365",
		BondAmount:   fp("100"),
		MaturityTime: uint64(testNow), // matured exactly now
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp quote.CloseQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CurrentTime != uint64(testNow) {
		t.Errorf("current time = %d, want %d", resp.CurrentTime, testNow)
	}
}

// --- Pricing updates ---

func TestUpdatePricing_AffectsSubsequentQuotes(t *testing.T) {
	_, ms, r := newTestEnv(t)
	pool := seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPut, "/api/v1/pools/"+pool.ID+"/pricing", quote.UpdatePricingRequest{
		SpotPrice:       fp("0.9"),
		VaultSharePrice: fp("2"),
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Fee now reflects the wider discount: 0.01 * 0.1 * 1000 = 1.
	w = doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("1000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp quote.OpenQuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.CurveFee.Eq(fp("1")) {
		t.Errorf("curve fee = %s, want 1", resp.CurveFee)
	}
}

// --- Ledger and exposure ---

func TestQuoteLedgerAndExposure(t *testing.T) {
	_, ms, r := newTestEnv(t)
	pool := seedPool(t, ms, "HY-DAI-365")

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-DAI-365",
		ShortAmount: fp("250"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("open quote: status = %d", w.Code)
	}

	// Ledger records the quote.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pools/"+pool.ID+"/quotes", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("quotes: status = %d", rec.Code)
	}
	var quotes []model.FeeQuote
	if err := json.NewDecoder(rec.Body).Decode(&quotes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("ledger has %d quotes, want 1", len(quotes))
	}
	if quotes[0].Side != model.SideOpen {
		t.Errorf("side = %s, want open", quotes[0].Side)
	}
	if !quotes[0].Amount.Eq(fp("250")) {
		t.Errorf("amount = %s, want 250", quotes[0].Amount)
	}

	// Exposure reflects the open notional.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/exposure/trader-1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("exposure: status = %d", rec.Code)
	}
	var exposures []model.Exposure
	if err := json.NewDecoder(rec.Body).Decode(&exposures); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(exposures) != 1 {
		t.Fatalf("got %d exposure buckets, want 1", len(exposures))
	}
	if !exposures[0].BondAmount.Eq(fp("250")) {
		t.Errorf("exposure = %s, want 250", exposures[0].BondAmount)
	}

	// Trader history returns the same ledger entry.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/traders/trader-1/quotes", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("trader quotes: status = %d", rec.Code)
	}
	var history []model.FeeQuote
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 || history[0].Trader != "trader-1" {
		t.Errorf("trader history = %+v, want one quote for trader-1", history)
	}
}

func TestPausedPoolRejectsQuotes(t *testing.T) {
	_, ms, r := newTestEnv(t)
	paused := *seedPool(t, ms, "HY-DAI-365")
	paused.ID = "test-pool-paused"
	paused.Symbol = "HY-PAUSED"
	paused.Status = model.StatusPaused
	if err := ms.CreatePool(context.Background(), &paused); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/quotes/short/open", quote.OpenQuoteRequest{
		Trader:      "trader-1",
		Symbol:      "HY-PAUSED",
		ShortAmount: fp("1"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}
