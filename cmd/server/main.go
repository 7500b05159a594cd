package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fixedrate/fee-engine/internal/exposure"
	"github.com/fixedrate/fee-engine/internal/fixedpoint"
	"github.com/fixedrate/fee-engine/internal/metrics"
	"github.com/fixedrate/fee-engine/internal/quote"
	"github.com/fixedrate/fee-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exposure limits ---
	maxPerBucket := envFP("MAX_BUCKET_EXPOSURE", "1000000")
	maxCorrelated := envFP("MAX_CORRELATED_EXPOSURE", "5000000")
	bucketSeconds := envUint("EXPOSURE_BUCKET_SECONDS", 86400)
	windowBuckets := envUint("EXPOSURE_WINDOW_BUCKETS", 7)
	limiter := exposure.NewLimiter(maxPerBucket, maxCorrelated, bucketSeconds, windowBuckets)

	// --- WebSocket hub ---
	wsHub := quote.NewWSHub()
	go wsHub.Run()

	// --- Quote service ---
	quoteSvc := quote.NewService(st, limiter, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fee-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pricing and quote events.
		r.Get("/ws", wsHub.HandleWS)

		// Pool management.
		r.Get("/pools", quoteSvc.ListPools)
		r.Post("/pools", quoteSvc.CreatePool)
		r.Get("/pools/{poolID}", quoteSvc.GetPool)
		r.Put("/pools/{poolID}/pricing", quoteSvc.UpdatePricing)
		r.Get("/pools/{poolID}/quotes", quoteSvc.GetPoolQuotes)

		// Fee quotes.
		r.Post("/quotes/short/open", quoteSvc.QuoteOpenShort)
		r.Post("/quotes/short/close", quoteSvc.QuoteCloseShort)

		// Trader queries.
		r.Get("/traders/{trader}/quotes", quoteSvc.GetTraderQuotes)
		r.Get("/exposure/{trader}", quoteSvc.GetTraderExposure)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fee-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fee-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fee-engine stopped")
}

// envFP reads a fixed-point decimal from the environment, falling back to
// def. Invalid values are fatal: a mistyped limit must not silently become
// a default.
func envFP(key, def string) fixedpoint.FP {
	s := os.Getenv(key)
	if s == "" {
		s = def
	}
	v, err := fixedpoint.FromDec(s)
	if err != nil {
		slog.Error("invalid "+key, "value", s, "err", err)
		os.Exit(1)
	}
	return v
}

func envUint(key string, def uint64) uint64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		slog.Error("invalid "+key, "value", s, "err", err)
		os.Exit(1)
	}
	return v
}
