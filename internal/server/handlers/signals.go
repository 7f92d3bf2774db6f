package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/models"
	"github.com/krill0051-hash/tradingview-proxy/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	queryTimeout     = 5 * time.Second
)

// ListResponse wraps a signal listing.
type ListResponse struct {
	Status  string           `json:"status"`
	Count   int              `json:"count"`
	Signals []*models.Signal `json:"signals"`
}

// ListSignals returns stored signals newest-first with optional
// limit/offset/symbol filters.
func ListSignals(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := storage.ListQuery{
			Limit:  boundedIntQuery(c, "limit", defaultListLimit),
			Offset: boundedIntQuery(c, "offset", 0),
			Symbol: c.Query("symbol"),
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
		defer cancel()

		signals, err := store.ListSignals(ctx, q)
		if err != nil {
			storageFailure(c, err)
			return
		}
		c.JSON(http.StatusOK, ListResponse{
			Status:  "success",
			Count:   len(signals),
			Signals: emptyIfNil(signals),
		})
	}
}

// ListUnprocessed returns signals not yet marked processed, newest-first.
func ListUnprocessed(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := boundedIntQuery(c, "limit", defaultListLimit)
		offset := boundedIntQuery(c, "offset", 0)

		ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
		defer cancel()

		signals, err := store.ListUnprocessed(ctx, limit, offset)
		if err != nil {
			storageFailure(c, err)
			return
		}
		c.JSON(http.StatusOK, ListResponse{
			Status:  "success",
			Count:   len(signals),
			Signals: emptyIfNil(signals),
		})
	}
}

// MarkProcessed flips a signal's processed flag. The flip is idempotent:
// marking an already-processed signal succeeds again.
func MarkProcessed(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": "Invalid signal id: " + c.Param("id"),
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
		defer cancel()

		if err := store.MarkProcessed(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"status":  "error",
					"message": "Signal not found",
				})
				return
			}
			storageFailure(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"signal_id": id,
			"processed": true,
		})
	}
}

// ClearSignals wipes the store.
func ClearSignals(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
		defer cancel()

		if err := store.Clear(ctx); err != nil {
			storageFailure(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "All signals cleared",
		})
	}
}

func boundedIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if name == "limit" && v > maxListLimit {
		return maxListLimit
	}
	return v
}

func storageFailure(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"status":  "error",
		"message": "Storage operation failed: " + err.Error(),
	})
}

func emptyIfNil(signals []*models.Signal) []*models.Signal {
	if signals == nil {
		return []*models.Signal{}
	}
	return signals
}
