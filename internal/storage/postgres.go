package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
)

// Postgres is the durable Store backed by a pgx connection pool. The
// canonical fields live in the signals table; the verbatim original payload
// lives in a one-to-one side table so extended sender fields survive without
// schema churn.
type Postgres struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
}

// NewPostgres connects to PostgreSQL and ensures the schema exists.
// Connection establishment retries with exponential backoff; once the pool
// exists, individual operations do not retry.
func NewPostgres(cfg *config.DatabaseConfig) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d&pool_max_conn_lifetime=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		cfg.PoolSize,
		cfg.ConnMaxLifetime.String(),
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.PoolSize)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	var pool *pgxpool.Pool
	maxRetries := 5
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		cancel()

		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = pool.Ping(ctx)
			cancel()
			if err == nil {
				break
			}
			pool.Close()
		}

		if i < maxRetries-1 {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d retries: %w", maxRetries, err)
	}

	s := &Postgres{pool: pool, config: cfg}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(50) NOT NULL,
			action VARCHAR(50) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			timeframe VARCHAR(20) NOT NULL,
			source VARCHAR(100) NOT NULL,
			received_at TIMESTAMP WITH TIME ZONE NOT NULL,
			processed_at TIMESTAMP WITH TIME ZONE
		);`,
		`CREATE TABLE IF NOT EXISTS signal_payloads (
			signal_id BIGINT PRIMARY KEY REFERENCES signals(id) ON DELETE CASCADE,
			payload JSONB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_signals_received_at ON signals(received_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);",
		"CREATE INDEX IF NOT EXISTS idx_signals_unprocessed ON signals(received_at DESC) WHERE processed_at IS NULL;",
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// InsertSignal writes the signal row and its payload row in one transaction.
func (s *Postgres) InsertSignal(ctx context.Context, sig *models.Signal) (int64, error) {
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	payloadBytes, err := json.Marshal(sig.Raw)
	if err != nil {
		return 0, &StorageError{Op: "marshal_payload", Err: err, Retryable: false}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &StorageError{Op: "begin_transaction", Err: err, Retryable: true}
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO signals (symbol, action, price, strength, timeframe, source, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id;`,
		sig.Symbol, sig.Action, sig.Price, sig.Strength, sig.Timeframe, sig.Source, sig.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, &StorageError{Op: "insert_signal", Err: err, Retryable: isRetryableError(err)}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO signal_payloads (signal_id, payload) VALUES ($1, $2);`,
		id, string(payloadBytes),
	); err != nil {
		return 0, &StorageError{Op: "insert_payload", Err: err, Retryable: isRetryableError(err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &StorageError{Op: "commit_transaction", Err: err, Retryable: true}
	}

	sig.ID = id
	return id, nil
}

const selectColumns = `
	SELECT s.id, s.symbol, s.action, s.price, s.strength, s.timeframe, s.source,
	       s.received_at, s.processed_at, p.payload
	FROM signals s
	LEFT JOIN signal_payloads p ON p.signal_id = s.id`

// ListSignals returns signals newest-first with optional symbol filtering.
func (s *Postgres) ListSignals(ctx context.Context, q ListQuery) ([]*models.Signal, error) {
	query := selectColumns
	args := []any{}
	if q.Symbol != "" {
		args = append(args, strings.ToUpper(q.Symbol))
		query += fmt.Sprintf(" WHERE s.symbol = $%d", len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY s.id DESC LIMIT $%d", len(args))
	args = append(args, q.Offset)
	query += fmt.Sprintf(" OFFSET $%d;", len(args))

	return s.querySignals(ctx, "list_signals", query, args...)
}

// ListUnprocessed returns unprocessed signals newest-first.
func (s *Postgres) ListUnprocessed(ctx context.Context, limit, offset int) ([]*models.Signal, error) {
	query := selectColumns + `
	WHERE s.processed_at IS NULL
	ORDER BY s.id DESC
	LIMIT $1 OFFSET $2;`
	return s.querySignals(ctx, "list_unprocessed", query, limit, offset)
}

func (s *Postgres) querySignals(ctx context.Context, op, query string, args ...any) ([]*models.Signal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err, Retryable: isRetryableError(err)}
	}
	defer rows.Close()

	var results []*models.Signal
	for rows.Next() {
		var sig models.Signal
		var payload []byte
		err := rows.Scan(
			&sig.ID,
			&sig.Symbol,
			&sig.Action,
			&sig.Price,
			&sig.Strength,
			&sig.Timeframe,
			&sig.Source,
			&sig.ReceivedAt,
			&sig.ProcessedAt,
			&payload,
		)
		if err != nil {
			return nil, &StorageError{Op: op, Err: fmt.Errorf("failed to scan row: %w", err), Retryable: false}
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &sig.Raw); err != nil {
				return nil, &StorageError{Op: op, Err: fmt.Errorf("failed to unmarshal payload: %w", err), Retryable: false}
			}
		}
		sig.Processed = sig.ProcessedAt != nil
		results = append(results, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err, Retryable: isRetryableError(err)}
	}
	return results, nil
}

// MarkProcessed flips the processed flag. Already-processed ids succeed
// without touching the stored timestamp.
func (s *Postgres) MarkProcessed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET processed_at = NOW() WHERE id = $1 AND processed_at IS NULL;`, id)
	if err != nil {
		return &StorageError{Op: "mark_processed", Err: err, Retryable: isRetryableError(err)}
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the signal is already processed or it does
	// not exist.
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM signals WHERE id = $1);`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return &StorageError{Op: "mark_processed", Err: err, Retryable: isRetryableError(err)}
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// Count reports the number of stored signals.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signals;`).Scan(&count); err != nil {
		return 0, &StorageError{Op: "count", Err: err, Retryable: isRetryableError(err)}
	}
	return count, nil
}

// Clear removes every stored signal and payload.
func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE signal_payloads, signals RESTART IDENTITY;`); err != nil {
		return &StorageError{Op: "clear", Err: err, Retryable: isRetryableError(err)}
	}
	return nil
}

// HealthCheck verifies connectivity and query execution.
func (s *Postgres) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: %d", result)
	}
	return nil
}

// Stats returns connection pool statistics.
func (s *Postgres) Stats() map[string]any {
	stats := s.pool.Stat()
	return map[string]any{
		"driver":           "postgres",
		"total_conns":      stats.TotalConns(),
		"acquired_conns":   stats.AcquiredConns(),
		"idle_conns":       stats.IdleConns(),
		"max_conns":        stats.MaxConns(),
		"acquire_count":    stats.AcquireCount(),
		"acquire_duration": stats.AcquireDuration().String(),
	}
}

// Close closes the connection pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// isRetryableError reports whether err looks like a transient connectivity
// failure rather than a data problem.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"server closed the connection",
		"broken pipe",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
