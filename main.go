package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/proofpay/config"
	"github.com/yourusername/proofpay/handlers"
	"github.com/yourusername/proofpay/ledger"
	"github.com/yourusername/proofpay/middleware"
	"github.com/yourusername/proofpay/mirror"
	"github.com/yourusername/proofpay/oracle"
	"github.com/yourusername/proofpay/pkg/logger"
	"github.com/yourusername/proofpay/reconciler"
	"github.com/yourusername/proofpay/utils"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// Initialize mirror database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	store := mirror.NewStore(db)

	// The ledger settles over Stellar when an escrow account is configured,
	// otherwise funds are tracked in process.
	var treasury ledger.Treasury
	if cfg.EscrowSecret != "" {
		stellarClient := utils.NewStellarClient(cfg.HorizonURL, cfg.NetworkPassphrase)
		treasury = utils.NewStellarTreasury(stellarClient, cfg.EscrowSecret, cfg.AssetCode, cfg.AssetIssuer)
	} else {
		treasury = ledger.NewMemTreasury()
	}
	l := ledger.New(treasury)

	oracleClient := oracle.NewClient(cfg.OracleAPIKeys, cfg.OracleModel)

	// Background reconciler keeps the mirror converging on ledger state,
	// covering transitions the API path did not cause itself.
	rec := reconciler.New(l, store, cfg.ReconcileInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	// Setup router
	router := gin.Default()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "proofpay-api",
		})
	})

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.JwtAuthMiddleware(cfg))
	{
		paymentHandler := handlers.NewPaymentHandler(l, store, oracleClient, cfg)
		api.POST("/payments", paymentHandler.CreatePayment)
		api.GET("/payments", paymentHandler.ListPayments)
		api.GET("/payments/:id", paymentHandler.GetPayment)
		api.POST("/payments/:id/accept", paymentHandler.AcceptPayment)
		api.POST("/payments/:id/proof", paymentHandler.SubmitProof)
		api.POST("/payments/:id/verify", paymentHandler.VerifyPayment)
		api.POST("/payments/:id/refund", paymentHandler.RefundPayment)
		api.POST("/payments/:id/cancel", paymentHandler.CancelPayment)
		api.GET("/review-queue", paymentHandler.ReviewQueue)
	}

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting ProofPay API server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
