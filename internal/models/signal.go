package models

import "time"

// IngestStatus classifies the outcome of one ingestion attempt.
type IngestStatus string

const (
	// StatusSuccess means every required field resolved and the record persisted.
	StatusSuccess IngestStatus = "success"
	// StatusPartial means the record persisted but one or more required
	// fields degraded to a sentinel value.
	StatusPartial IngestStatus = "partial"
	// StatusFailed means the storage write failed; the record was not kept.
	StatusFailed IngestStatus = "failed"
	// StatusNoData means the request carried nothing usable. Not an error.
	StatusNoData IngestStatus = "no_data"
)

// UnknownField is persisted in place of a required field that could not be
// resolved from any alias.
const UnknownField = "UNKNOWN"

// Signal is the canonical trading-alert record. It is created once per
// inbound request and never mutated afterwards, except for the one-way
// processed flag flip.
type Signal struct {
	ID          int64          `json:"id"`
	Symbol      string         `json:"symbol"`
	Action      string         `json:"action"`
	Price       float64        `json:"price"`
	Strength    float64        `json:"strength"`
	Timeframe   string         `json:"timeframe"`
	Source      string         `json:"source"`
	Raw         map[string]any `json:"raw,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	Processed   bool           `json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// IngestOutcome is the structured result handed back to the HTTP layer.
type IngestOutcome struct {
	Status IngestStatus `json:"status"`
	ID     int64        `json:"id,omitempty"`
	Signal *Signal      `json:"signal,omitempty"`
	Err    error        `json:"-"`
}
