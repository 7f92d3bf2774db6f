package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
)

type testPostgres struct {
	*Postgres
	container testcontainers.Container
}

// setupTestPostgres starts a throwaway PostgreSQL container. Tests skip when
// no container runtime is available.
func setupTestPostgres(t *testing.T) *testPostgres {
	t.Helper()

	ctx := context.Background()

	// testcontainers panics (rather than returning an error) when no Docker
	// host can be detected at all; translate that into the intended skip.
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Could not start postgres container: %v", r)
		}
	}()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_signals"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Could not start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Name:            "test_signals",
		User:            "test_user",
		Password:        "test_password",
		PoolSize:        5,
		ConnMaxLifetime: 30 * time.Minute,
	}

	store, err := NewPostgres(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create postgres store: %v", err)
	}

	return &testPostgres{Postgres: store, container: container}
}

func (tp *testPostgres) teardown(t *testing.T) {
	t.Helper()
	if tp.Postgres != nil {
		tp.Close()
	}
	if tp.container != nil {
		if err := tp.container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
}

func testSignal(symbol string) *models.Signal {
	return &models.Signal{
		Symbol:    symbol,
		Action:    "LONG",
		Price:     50000.5,
		Strength:  8.5,
		Timeframe: "5m",
		Source:    "test",
		Raw:       map[string]any{"symbol": symbol, "signal": "long", "price": 50000.5, "note": "extra field"},
	}
}

func TestPostgresInsertAndList(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()

	id, err := tp.InsertSignal(ctx, testSignal("BTCUSDT"))
	if err != nil {
		t.Fatalf("InsertSignal failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected a non-zero id")
	}

	signals, err := tp.ListSignals(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	got := signals[0]
	if got.Symbol != "BTCUSDT" || got.Action != "LONG" || got.Price != 50000.5 {
		t.Errorf("Unexpected signal %+v", got)
	}
	if got.Processed {
		t.Error("Fresh signal must not be processed")
	}
	if got.Raw["note"] != "extra field" {
		t.Errorf("Payload round trip lost fields: %v", got.Raw)
	}
}

func TestPostgresListNewestFirst(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	for _, symbol := range []string{"FIRST", "SECOND", "THIRD"} {
		if _, err := tp.InsertSignal(ctx, testSignal(symbol)); err != nil {
			t.Fatalf("InsertSignal failed: %v", err)
		}
	}

	signals, err := tp.ListSignals(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(signals) != 3 {
		t.Fatalf("Expected 3 signals, got %d", len(signals))
	}
	if signals[0].Symbol != "THIRD" || signals[2].Symbol != "FIRST" {
		t.Errorf("Expected newest-first order, got %q ... %q", signals[0].Symbol, signals[2].Symbol)
	}
}

func TestPostgresListSymbolFilter(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	for _, symbol := range []string{"BTC", "ETH", "BTC"} {
		if _, err := tp.InsertSignal(ctx, testSignal(symbol)); err != nil {
			t.Fatalf("InsertSignal failed: %v", err)
		}
	}

	signals, err := tp.ListSignals(ctx, ListQuery{Limit: 10, Symbol: "btc"})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("Expected 2 BTC signals, got %d", len(signals))
	}
}

func TestPostgresMarkProcessed(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	id, err := tp.InsertSignal(ctx, testSignal("BTC"))
	if err != nil {
		t.Fatalf("InsertSignal failed: %v", err)
	}

	if err := tp.MarkProcessed(ctx, id); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	unprocessed, err := tp.ListUnprocessed(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListUnprocessed failed: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Errorf("Expected no unprocessed signals, got %d", len(unprocessed))
	}

	// Idempotent: repeating succeeds and keeps the original timestamp.
	signals, _ := tp.ListSignals(ctx, ListQuery{Limit: 1})
	first := signals[0].ProcessedAt
	if first == nil {
		t.Fatal("Expected ProcessedAt to be set")
	}

	if err := tp.MarkProcessed(ctx, id); err != nil {
		t.Fatalf("Repeated MarkProcessed failed: %v", err)
	}

	signals, _ = tp.ListSignals(ctx, ListQuery{Limit: 1})
	if !signals[0].ProcessedAt.Equal(*first) {
		t.Error("Repeated MarkProcessed must not move the timestamp")
	}
}

func TestPostgresMarkProcessedNotFound(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	err := tp.MarkProcessed(context.Background(), 12345)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListUnprocessed(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := tp.InsertSignal(ctx, testSignal("BTC"))
		if err != nil {
			t.Fatalf("InsertSignal failed: %v", err)
		}
		ids = append(ids, id)
	}

	if err := tp.MarkProcessed(ctx, ids[1]); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	unprocessed, err := tp.ListUnprocessed(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListUnprocessed failed: %v", err)
	}
	if len(unprocessed) != 2 {
		t.Fatalf("Expected 2 unprocessed signals, got %d", len(unprocessed))
	}
	for _, sig := range unprocessed {
		if sig.ID == ids[1] {
			t.Error("Processed signal leaked into unprocessed listing")
		}
	}
}

func TestPostgresClearAndCount(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := tp.InsertSignal(ctx, testSignal("BTC")); err != nil {
			t.Fatalf("InsertSignal failed: %v", err)
		}
	}

	count, err := tp.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 signals, got %d", count)
	}

	if err := tp.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	count, _ = tp.Count(ctx)
	if count != 0 {
		t.Errorf("Expected empty store after clear, got %d", count)
	}
}

func TestPostgresHealthCheck(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	if err := tp.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	stats := tp.Stats()
	if stats["driver"] != "postgres" {
		t.Errorf("Expected postgres driver, got %v", stats["driver"])
	}
}

func TestPostgresNilRawPayload(t *testing.T) {
	tp := setupTestPostgres(t)
	defer tp.teardown(t)

	ctx := context.Background()
	sig := testSignal("BTC")
	sig.Raw = nil
	if _, err := tp.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("InsertSignal with nil payload failed: %v", err)
	}

	signals, err := tp.ListSignals(ctx, ListQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"constraint violation", errors.New("violates not-null constraint"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
