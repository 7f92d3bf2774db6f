package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/krill0051-hash/tradingview-proxy/internal/models"
)

// Memory is a non-durable Store holding the most recent signals in a bounded
// ring. When the ring is full the oldest signal is evicted. Intended for
// deployments without a database; contents are lost on restart.
type Memory struct {
	mu       sync.Mutex
	signals  []*models.Signal
	capacity int
	nextID   int64
}

// NewMemory creates a memory store retaining at most capacity signals.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 50
	}
	return &Memory{
		signals:  make([]*models.Signal, 0, capacity),
		capacity: capacity,
	}
}

// InsertSignal appends a copy of sig, evicting the oldest entry when full.
func (m *Memory) InsertSignal(_ context.Context, sig *models.Signal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	m.nextID++
	sig.ID = m.nextID

	stored := *sig
	if len(m.signals) == m.capacity {
		copy(m.signals, m.signals[1:])
		m.signals[len(m.signals)-1] = &stored
	} else {
		m.signals = append(m.signals, &stored)
	}
	return sig.ID, nil
}

// ListSignals returns stored signals newest-first.
func (m *Memory) ListSignals(_ context.Context, q ListQuery) ([]*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := strings.ToUpper(q.Symbol)
	var results []*models.Signal
	skipped := 0
	for i := len(m.signals) - 1; i >= 0; i-- {
		sig := m.signals[i]
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		if q.Limit > 0 && len(results) == q.Limit {
			break
		}
		results = append(results, copySignal(sig))
	}
	return results, nil
}

// ListUnprocessed returns unprocessed signals newest-first.
func (m *Memory) ListUnprocessed(_ context.Context, limit, offset int) ([]*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*models.Signal
	skipped := 0
	for i := len(m.signals) - 1; i >= 0; i-- {
		sig := m.signals[i]
		if sig.Processed {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(results) == limit {
			break
		}
		results = append(results, copySignal(sig))
	}
	return results, nil
}

// MarkProcessed flips the processed flag; repeated flips are no-ops.
func (m *Memory) MarkProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sig := range m.signals {
		if sig.ID != id {
			continue
		}
		if !sig.Processed {
			now := time.Now().UTC()
			sig.Processed = true
			sig.ProcessedAt = &now
		}
		return nil
	}
	return ErrNotFound
}

// Count reports the number of retained signals.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.signals)), nil
}

// Clear drops every retained signal. Assigned ids keep increasing.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = m.signals[:0]
	return nil
}

// HealthCheck always succeeds; the ring has no external dependency.
func (m *Memory) HealthCheck(_ context.Context) error {
	return nil
}

// Stats returns ring occupancy.
func (m *Memory) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"driver":   "memory",
		"signals":  len(m.signals),
		"capacity": m.capacity,
	}
}

// Close is a no-op for the memory store.
func (m *Memory) Close() {}

func copySignal(sig *models.Signal) *models.Signal {
	out := *sig
	return &out
}
