package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/relay"
	"github.com/krill0051-hash/tradingview-proxy/internal/storage"
)

// HealthStatus is the aggregate health payload.
type HealthStatus struct {
	Status        string         `json:"status"`
	Service       string         `json:"service"`
	Timestamp     string         `json:"timestamp"`
	Uptime        string         `json:"uptime"`
	StoredSignals int64          `json:"stored_signals"`
	Checks        map[string]any `json:"checks"`
}

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

var startTime = time.Now()

// HealthCheck probes storage and, when configured, the Kafka relay.
func HealthCheck(store storage.Store, producer *relay.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]any)
		overall := "healthy"

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		storageStart := time.Now()
		if err := store.HealthCheck(ctx); err != nil {
			checks["storage"] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
				Latency: time.Since(storageStart).String(),
			}
			overall = "unhealthy"
		} else {
			checks["storage"] = ComponentHealth{
				Status:  "healthy",
				Latency: time.Since(storageStart).String(),
			}
		}
		checks["storage_stats"] = store.Stats()

		if producer != nil {
			relayStart := time.Now()
			if err := producer.HealthCheck(ctx); err != nil {
				checks["relay"] = ComponentHealth{
					Status:  "unhealthy",
					Message: err.Error(),
					Latency: time.Since(relayStart).String(),
				}
				overall = "unhealthy"
			} else {
				checks["relay"] = ComponentHealth{
					Status:  "healthy",
					Latency: time.Since(relayStart).String(),
				}
			}
		} else {
			checks["relay"] = ComponentHealth{
				Status:  "disabled",
				Message: "Kafka relay not configured",
			}
		}

		count, err := store.Count(ctx)
		if err != nil {
			count = -1
		}

		statusCode := http.StatusOK
		if overall != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, HealthStatus{
			Status:        overall,
			Service:       "TradingView Proxy",
			Timestamp:     time.Now().Format(time.RFC3339),
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			StoredSignals: count,
			Checks:        checks,
		})
	}
}

// Index describes the service and its endpoints.
func Index() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "TradingView Proxy API",
			"version": "1.0",
			"endpoints": gin.H{
				"webhook":     "POST /webhook - Accept trading alerts (JSON, form, raw text or query params)",
				"signals":     "GET /signals - List stored signals newest-first (limit, offset, symbol)",
				"unprocessed": "GET /signals/unprocessed - List signals not yet processed",
				"processed":   "POST /signals/:id/processed - Mark a signal processed",
				"clear":       "POST /clear - Clear all signals",
				"health":      "GET /health - Health check",
				"metrics":     "GET /metrics - Prometheus metrics",
			},
		})
	}
}
