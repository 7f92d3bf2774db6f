package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/extract"
	"github.com/krill0051-hash/tradingview-proxy/internal/ingest"
	"github.com/krill0051-hash/tradingview-proxy/internal/metrics"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
	"github.com/krill0051-hash/tradingview-proxy/internal/server/middleware"
)

// WebhookResponse is the structured reply for every ingestion request.
type WebhookResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SignalID  int64  `json:"signal_id,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Webhook accepts trading alerts in whatever shape the sender produces.
// The raw body is read directly rather than bound, because content sniffing
// is the whole point: senders lie about or omit the content type.
func Webhook(ing *ingest.Ingestor, maxBodySize int64, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
			if err != nil {
				c.JSON(http.StatusBadRequest, WebhookResponse{
					Status:  "error",
					Message: "Failed to read request body: " + err.Error(),
				})
				return
			}
		}

		contentType := c.ContentType()

		var form url.Values
		if strings.Contains(contentType, "application/x-www-form-urlencoded") {
			if parsed, err := url.ParseQuery(string(body)); err == nil {
				form = parsed
			}
		}

		payload, strategy := extract.Extract(body, contentType, form, c.Request.URL.Query())
		if strategy != extract.StrategyNone {
			if m != nil {
				m.ExtractStrategy.WithLabelValues(strategy).Inc()
			}
			middleware.LogInfo("webhook", fmt.Sprintf("payload extracted via %s strategy", strategy))
		}

		source := contentType
		if source == "" {
			source = "webhook"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		outcome := ing.Ingest(ctx, payload, source)
		c.JSON(statusCodeFor(outcome), responseFor(outcome))
	}
}

func statusCodeFor(outcome models.IngestOutcome) int {
	if outcome.Status == models.StatusFailed {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func responseFor(outcome models.IngestOutcome) WebhookResponse {
	switch outcome.Status {
	case models.StatusNoData:
		return WebhookResponse{
			Status:  string(models.StatusNoData),
			Message: "No data received",
		}
	case models.StatusFailed:
		middleware.LogError("webhook", "failed to store signal", outcome.Err)
		return WebhookResponse{
			Status:  string(models.StatusFailed),
			Message: "Failed to store signal",
		}
	case models.StatusPartial:
		return WebhookResponse{
			Status:    string(models.StatusPartial),
			Message:   "Signal saved with incomplete fields",
			SignalID:  outcome.ID,
			Symbol:    outcome.Signal.Symbol,
			Timestamp: outcome.Signal.ReceivedAt.Format(time.RFC3339),
		}
	default:
		return WebhookResponse{
			Status:    string(models.StatusSuccess),
			Message:   "Signal saved",
			SignalID:  outcome.ID,
			Symbol:    outcome.Signal.Symbol,
			Timestamp: outcome.Signal.ReceivedAt.Format(time.RFC3339),
		}
	}
}
