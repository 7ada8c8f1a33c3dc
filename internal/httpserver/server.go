package httpserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perqly/cashback/pkg/cashback"
)

// Config holds the HTTP surface settings.
type Config struct {
	Auth           AuthConfig
	AllowedOrigins []string
	ReleaseMode    bool
}

// NewRouter assembles the gin engine with every ledger route mounted under
// /api/v1 behind bearer authentication. Role checks live in the service; the
// router only establishes who is calling.
func NewRouter(service *cashback.Service, config Config, logger *zap.Logger) *gin.Engine {
	if config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", func(requestContext *gin.Context) {
		requestContext.JSON(200, gin.H{"status": "ok"})
	})

	handlers := NewHandlers(service)
	api := engine.Group("/api/v1", authRequired(config.Auth))

	api.POST("/transactions", handlers.RegisterTransaction)
	api.GET("/transactions/:transactionID", handlers.GetTransaction)

	api.GET("/balances/:storeID", handlers.GetBalance)
	api.POST("/balances/:storeID/use", handlers.UseBalance)
	api.GET("/movements/:storeID", handlers.ListMovements)

	api.GET("/stores/:storeID/pending-transactions", handlers.PendingTransactions)
	api.POST("/batches", handlers.CreateBatch)
	api.GET("/batches/:batchID", handlers.GetBatch)
	api.POST("/batches/:batchID/approve", handlers.ApproveBatch)
	api.POST("/batches/:batchID/reject", handlers.RejectBatch)
	api.POST("/batches/:batchID/retry-credits", handlers.RetryBatchCredits)

	api.GET("/reserve", handlers.GetReserve)
	api.POST("/reserve/withdrawals", handlers.WithdrawReserve)
	api.GET("/reserve/movements", handlers.ListReserveMovements)

	api.POST("/admin/reconcile", handlers.Reconcile)
	api.GET("/admin/stores/:storeID/fast-lane-anomalies", handlers.FastLaneAnomalies)

	return engine
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		started := time.Now()
		requestContext.Next()
		logger.Info("http request",
			zap.String("method", requestContext.Request.Method),
			zap.String("path", requestContext.FullPath()),
			zap.Int("status", requestContext.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}
