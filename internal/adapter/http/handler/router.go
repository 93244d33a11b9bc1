package handler

import (
	"loyalty-wallet-service/internal/adapter/http/middleware"
	redisStore "loyalty-wallet-service/internal/adapter/storage/redis"
	"loyalty-wallet-service/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Orchestrator   ports.PaymentOrchestrator
	Ledger         ports.WalletLedger
	Registry       ports.GatewayRegistry
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep: verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// Gateway callback webhook. Authenticated by HMAC signature inside the
	// body, not by any session; lives outside the versioned API group.
	callbackHandler := NewCallbackHandler(deps.Orchestrator)
	r.POST("/payments/callback", rl("callbacks"), callbackHandler.Handle)

	// API v1 routes
	v1 := r.Group("/api/v1")

	paymentHandler := NewPaymentHandler(deps.Orchestrator, deps.Registry)
	payments := v1.Group("/payments")
	{
		payments.GET("/methods", rl("payments_read"), paymentHandler.ListMethods)
		payments.POST("", rl("payments_initiate"), paymentHandler.Initiate)
		payments.GET("/:id", rl("payments_read"), paymentHandler.GetIntent)
		payments.POST("/:id/cancel", rl("payments_cancel"), paymentHandler.Cancel)
	}

	walletHandler := NewWalletHandler(deps.Ledger)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/:user_id", rl("wallets"), walletHandler.GetBalance)
	}

	return r
}
