package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/auth"
	"github.com/amerfu/bllm/internal/billing"
	"github.com/amerfu/bllm/internal/config"
	"github.com/amerfu/bllm/internal/exchange"
	"github.com/amerfu/bllm/internal/handlers"
	"github.com/amerfu/bllm/internal/ledger"
	"github.com/amerfu/bllm/internal/middleware"
	"github.com/amerfu/bllm/internal/monitor"
	"github.com/amerfu/bllm/internal/pricing"
)

// Dependencies carries the wired services the router exposes. Construction
// happens in main; the router only routes.
type Dependencies struct {
	Billing  *billing.Service
	Pricing  *pricing.Manager
	Exchange *exchange.Manager
	Monitor  *monitor.Monitor
	Auth     *auth.Verifier
	Store    *ledger.Store
}

// New assembles the public RPC surface. Reads are open, billing mutations
// need a bearer token, and the admin surface additionally needs the admin
// key.
func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	healthHandler := handlers.NewHealthHandler(deps.Store)
	billingHandler := handlers.NewBillingHandler(logger, deps.Billing)
	pricingHandler := handlers.NewPricingHandler(logger, deps.Pricing)
	exchangeHandler := handlers.NewExchangeHandler(logger, deps.Exchange)
	monitoringHandler := handlers.NewMonitoringHandler(logger, deps.Monitor)

	authMiddleware := middleware.NewAuth(logger, deps.Auth)

	// Health checks
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Public reads
	r.Group(func(r chi.Router) {
		r.Get("/v1/balance/{user_id}", billingHandler.GetBalance)
		r.Get("/v1/usage/{user_id}/{model}", billingHandler.GetUsage)
		r.Get("/v1/pricing", pricingHandler.Info)
		r.Get("/v1/pricing/info", pricingHandler.Info)
		r.Get("/v1/exchange-rates", exchangeHandler.Rates)
		r.Get("/v1/monitoring/metrics", monitoringHandler.Metrics)
		r.Get("/v1/monitoring/alerts", monitoringHandler.Alerts)
	})

	// Billing mutations
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireToken)

		r.Post("/v1/charge", billingHandler.Charge)
		r.Post("/v1/reserve", billingHandler.Reserve)
		r.Post("/v1/commit", billingHandler.Commit)
	})

	// Admin surface
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(authMiddleware.RequireToken)
		r.Use(authMiddleware.RequireAdmin)

		r.Post("/balance/adjust", billingHandler.AdjustBalance)
		r.Get("/stats", billingHandler.GetStats)

		r.Put("/pricing", pricingHandler.Update)
		r.Post("/pricing/refresh", pricingHandler.Refresh)

		r.Post("/exchange-rates/refresh", exchangeHandler.Refresh)
		r.Post("/currencies", exchangeHandler.Add)
		r.Put("/currencies/{currency}", exchangeHandler.UpdateRate)
		r.Delete("/currencies/{currency}", exchangeHandler.Remove)

		r.Put("/monitoring/thresholds", monitoringHandler.UpdateThresholds)
	})

	return r
}
