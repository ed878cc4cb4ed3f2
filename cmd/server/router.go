package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/extensions/bazaar"
	x402http "github.com/blip-x402/x402-demo/http"
	ginmw "github.com/blip-x402/x402-demo/http/gin"
	"github.com/blip-x402/x402-demo/internal/config"
	"github.com/blip-x402/x402-demo/internal/logging"
	"github.com/blip-x402/x402-demo/internal/metrics"
	evmserver "github.com/blip-x402/x402-demo/mechanisms/evm/exact/server"
)

const requestIDHeader = "X-Request-ID"

// premiumRequest is the body accepted by POST /api/premium
type premiumRequest struct {
	Query string `json:"query" binding:"required"`
}

// newRouter wires the demo routes around facilitator. With
// SyncFacilitatorOnStart the facilitator's supported kinds are fetched first
// and fed into every requirement built.
func newRouter(ctx context.Context, cfg *config.Server, facilitator x402.FacilitatorClient, logger *zap.Logger) (*gin.Engine, error) {
	network := x402.Network(cfg.Network)

	var schemeOpts []evmserver.Option
	if cfg.AssetAddress != "" {
		schemeOpts = append(schemeOpts, evmserver.WithAsset(cfg.AssetAddress))
	}

	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(facilitator),
		x402.WithExtension(bazaar.Extension{}),
	).
		Register(network, evmserver.NewExactEvmScheme(schemeOpts...)).
		OnAfterVerify(func(ctx x402.VerifyResultContext) error {
			logger.Info("payment verified",
				zap.String("payer", logging.Redact(ctx.Result.Payer)),
				zap.String("network", ctx.Requirements.GetNetwork()),
				zap.String("amount", ctx.Requirements.Amount))
			return nil
		}).
		OnVerifyFailure(func(ctx x402.VerifyFailureContext) {
			logger.Info("payment verification failed",
				zap.String("network", ctx.Requirements.GetNetwork()),
				zap.Error(ctx.Error))
		}).
		OnAfterSettle(func(ctx x402.SettleResultContext) error {
			logger.Info("payment settled",
				zap.String("payer", logging.Redact(ctx.Result.Payer)),
				zap.String("network", string(ctx.Result.Network)),
				zap.String("transaction", ctx.Result.Transaction))
			return nil
		}).
		OnSettleFailure(func(ctx x402.SettleFailureContext) {
			logger.Warn("payment settlement failed",
				zap.String("network", ctx.Requirements.GetNetwork()),
				zap.Error(ctx.Error))
		})

	if cfg.SyncFacilitatorOnStart {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.FacilitatorTimeout)
		err := server.Initialize(syncCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to sync facilitator %s: %w", cfg.FacilitatorURL, err)
		}
		logger.Info("facilitator synced", zap.String("facilitator", cfg.FacilitatorURL))
	}

	discovery, err := bazaar.DeclareBodyDiscovery(bazaar.DeclareBodyDiscoveryConfig{
		Method: bazaar.MethodPOST,
		Input:  map[string]interface{}{"query": "what is x402?"},
		InputSchema: bazaar.JSONSchema{
			"type":       "object",
			"required":   []interface{}{"query"},
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		},
		Output: &bazaar.OutputConfig{
			Example: map[string]interface{}{"answer": "premium content", "query": "what is x402?"},
		},
	})
	if err != nil {
		return nil, err
	}

	routes := x402http.RoutesConfig{
		"POST /api/premium": {
			Accepts: x402http.PaymentOptions{
				{
					Scheme:  evmserver.NewExactEvmScheme().Scheme(),
					PayTo:   cfg.PayToAddress,
					Price:   cfg.PaymentAmount,
					Network: network,
				},
			},
			Description: "Premium content",
			MimeType:    "application/json",
			Extensions:  discovery,
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(logger))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        "x402 demo server",
			"version":     x402.Version,
			"network":     cfg.Network,
			"payTo":       cfg.PayToAddress,
			"price":       cfg.PaymentAmount,
			"facilitator": cfg.FacilitatorURL,
			"endpoints": gin.H{
				"free":    "GET /api/free",
				"premium": "POST /api/premium",
			},
		})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/api/free", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "free content", "paid": false})
	})

	paid := r.Group("/api")
	paid.Use(ginmw.PaymentMiddleware(routes, server,
		ginmw.WithTimeout(cfg.FacilitatorTimeout),
		ginmw.WithLogger(logger),
		ginmw.WithPaywall(&x402http.PaywallConfig{AppName: "x402 demo", Testnet: network == "eip155:84532"}),
		ginmw.WithResultObserver(func(result x402http.HTTPProcessResult) {
			metrics.ObserveGateResult(string(result.Type))
		}),
		ginmw.WithSettlementObserver(func(result x402http.SettlementResult) {
			metrics.ObserveSettlement(string(result.Network), result.Success)
		}),
	))
	paid.POST("/premium", func(c *gin.Context) {
		var req premiumRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"answer": "premium content",
			"query":  req.Query,
			"payer":  c.GetString(ginmw.ContextKeyPayer),
			"paid":   true,
		})
	})

	return r, nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
