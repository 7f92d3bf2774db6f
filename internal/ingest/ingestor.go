// Package ingest validates extracted payloads and commits canonical signals.
package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/metrics"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
	"github.com/krill0051-hash/tradingview-proxy/internal/storage"
)

// maxFieldLen bounds normalized symbol and action strings.
const maxFieldLen = 50

// Alias lists tried in priority order when resolving canonical fields.
// Senders rename fields freely; the first present, non-null alias wins.
var (
	symbolAliases = []string{"symbol", "ticker"}
	actionAliases = []string{"signal", "action", "order", "alert_type"}
	priceAliases  = []string{"price", "close", "value"}
)

// Ingestor turns working payload mappings into persisted canonical signals.
// It is safe for concurrent use; each call independently acquires storage.
type Ingestor struct {
	store    storage.Store
	defaults config.SignalsConfig
	metrics  *metrics.Metrics

	// publish, when set, receives every persisted signal for asynchronous
	// downstream relay. It must not block.
	publish func(models.Signal)
}

// New creates an Ingestor writing to store with the given field defaults.
func New(store storage.Store, defaults config.SignalsConfig, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		store:    store,
		defaults: defaults,
		metrics:  m,
	}
}

// OnPersisted registers a non-blocking callback invoked with a copy of every
// successfully persisted signal.
func (in *Ingestor) OnPersisted(fn func(models.Signal)) {
	in.publish = fn
}

// Ingest resolves, normalizes and persists one payload. It always returns a
// structured outcome; storage failures surface as StatusFailed, never as a
// panic or a lost record without notice. An empty payload yields
// StatusNoData without touching storage.
func (in *Ingestor) Ingest(ctx context.Context, payload map[string]any, source string) models.IngestOutcome {
	if len(payload) == 0 {
		in.count(models.StatusNoData)
		return models.IngestOutcome{Status: models.StatusNoData}
	}

	sig, degraded := in.resolve(payload, source)

	status := models.StatusSuccess
	if degraded {
		status = models.StatusPartial
	}

	start := time.Now()
	id, err := in.store.InsertSignal(ctx, sig)
	if in.metrics != nil {
		in.metrics.StorageWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		in.count(models.StatusFailed)
		return models.IngestOutcome{Status: models.StatusFailed, Signal: sig, Err: err}
	}

	if in.publish != nil {
		in.publish(*sig)
	}

	in.count(status)
	return models.IngestOutcome{Status: status, ID: id, Signal: sig}
}

// resolve builds the canonical signal from the working mapping and reports
// whether any required field degraded to a sentinel.
func (in *Ingestor) resolve(payload map[string]any, source string) (*models.Signal, bool) {
	degraded := false

	symbol := normalizeField(lookupString(payload, symbolAliases))
	if symbol == "" {
		symbol = models.UnknownField
		degraded = true
	}

	action := normalizeField(lookupString(payload, actionAliases))
	if action == "" {
		action = models.UnknownField
		degraded = true
	}

	price := lookupPrice(payload)
	if price <= 0 {
		// Unparsable and negative prices degrade to the 0 sentinel so the
		// record is still captured for audit.
		price = 0
		degraded = true
	}

	strength := in.defaults.DefaultStrength
	if v, ok := payload["strength"]; ok {
		if f, ok := toFloat(v); ok {
			strength = f
		}
	}

	timeframe := in.defaults.DefaultTimeframe
	if v := lookupString(payload, []string{"timeframe"}); strings.TrimSpace(v) != "" {
		timeframe = strings.TrimSpace(v)
	}

	if source == "" {
		source = in.defaults.DefaultSource
	}

	return &models.Signal{
		Symbol:     symbol,
		Action:     action,
		Price:      price,
		Strength:   strength,
		Timeframe:  timeframe,
		Source:     source,
		Raw:        payload,
		ReceivedAt: time.Now().UTC(),
	}, degraded
}

func (in *Ingestor) count(status models.IngestStatus) {
	if in.metrics != nil {
		in.metrics.IngestTotal.WithLabelValues(string(status)).Inc()
	}
}

// lookupString returns the first present, non-null alias value as a string.
func lookupString(payload map[string]any, aliases []string) string {
	for _, alias := range aliases {
		v, ok := payload[alias]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			continue
		default:
			continue
		}
	}
	return ""
}

// lookupPrice resolves the first present price alias and coerces it,
// returning 0 when the winning value does not parse.
func lookupPrice(payload map[string]any) float64 {
	for _, alias := range priceAliases {
		v, ok := payload[alias]
		if !ok || v == nil {
			continue
		}
		f, _ := toFloat(v)
		return f
	}
	return 0
}

// toFloat coerces JSON numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// normalizeField trims, uppercases and truncates a required string field.
func normalizeField(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if runes := []rune(v); len(runes) > maxFieldLen {
		v = string(runes[:maxFieldLen])
	}
	return v
}
