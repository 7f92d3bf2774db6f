// Package relay publishes accepted signals to Kafka for downstream
// processors. The relay is optional; ingestion never depends on it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
)

// Producer wraps a sarama sync producer bound to the signal topic.
type Producer struct {
	producer sarama.SyncProducer
	config   *config.KafkaConfig
}

// PublishError wraps a Kafka failure with the operation that caused it.
type PublishError struct {
	Op        string
	Topic     string
	Err       error
	Retryable bool
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("relay operation '%s' failed for topic '%s': %v", e.Op, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if retrying the publish could succeed.
func (e *PublishError) IsRetryable() bool {
	return e.Retryable
}

// NewProducer connects to the configured brokers. Connection establishment
// retries with exponential backoff.
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Retry.Backoff = cfg.Producer.RetryBackoff
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Flush.Frequency = cfg.Producer.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.Producer.BatchSize
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Version = sarama.V2_6_0_0

	var producer sarama.SyncProducer
	var err error
	maxRetries := 5
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
		if err == nil {
			break
		}
		if i < maxRetries-1 {
			log.Printf("Failed to create Kafka producer (attempt %d/%d), retrying in %v: %v",
				i+1, maxRetries, retryDelay, err)
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer after %d retries: %w", maxRetries, err)
	}

	return &Producer{producer: producer, config: cfg}, nil
}

// PublishSignal sends one canonical signal to the signal topic, keyed by
// symbol so per-instrument ordering holds downstream.
func (p *Producer) PublishSignal(ctx context.Context, sig models.Signal) error {
	if p.producer == nil {
		return &PublishError{
			Op:        "publish_signal",
			Topic:     p.config.Topic,
			Err:       fmt.Errorf("producer is not initialized"),
			Retryable: false,
		}
	}

	value, err := json.Marshal(sig)
	if err != nil {
		return &PublishError{
			Op:        "marshal_signal",
			Topic:     p.config.Topic,
			Err:       err,
			Retryable: false,
		}
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.config.Topic,
		Key:       sarama.StringEncoder(sig.Symbol),
		Value:     sarama.ByteEncoder(value),
		Timestamp: sig.ReceivedAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("source"), Value: []byte("tradingview-proxy")},
			{Key: []byte("message_type"), Value: []byte("canonical_signal")},
		},
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := p.producer.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return &PublishError{
				Op:        "publish_signal",
				Topic:     p.config.Topic,
				Err:       err,
				Retryable: isRetryableKafkaError(err),
			}
		}
		return nil
	case <-ctx.Done():
		return &PublishError{
			Op:        "publish_signal",
			Topic:     p.config.Topic,
			Err:       ctx.Err(),
			Retryable: true,
		}
	}
}

// WithRetry executes a publish operation with retry and backoff.
func (p *Producer) WithRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := p.config.Producer.RetryMax
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := p.config.Producer.RetryBackoff
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		pubErr, ok := err.(*PublishError)
		if !ok {
			pubErr = &PublishError{Op: op, Err: err, Retryable: isRetryableKafkaError(err)}
		}
		if !pubErr.IsRetryable() || attempt == maxRetries-1 {
			return pubErr
		}

		delay := baseDelay * time.Duration(1<<attempt)
		log.Printf("Relay operation '%s' failed (attempt %d/%d), retrying in %v: %v",
			op, attempt+1, maxRetries, delay, err)

		select {
		case <-ctx.Done():
			return &PublishError{Op: op, Err: ctx.Err(), Retryable: false}
		case <-time.After(delay):
		}
	}

	return &PublishError{
		Op:        op,
		Err:       fmt.Errorf("operation failed after %d attempts, last error: %w", maxRetries, lastErr),
		Retryable: false,
	}
}

// HealthCheck verifies the producer can reach the brokers by publishing a
// minimal probe message.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.producer == nil {
		return &PublishError{
			Op:        "health_check",
			Err:       fmt.Errorf("producer is not initialized"),
			Retryable: false,
		}
	}

	probe := models.Signal{
		Symbol:     "HEALTHCHECK",
		Action:     "PING",
		Source:     "health",
		ReceivedAt: time.Now().UTC(),
	}

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.PublishSignal(healthCtx, probe)
}

// Close closes the underlying producer.
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// isRetryableKafkaError reports whether err is a transient broker condition.
func isRetryableKafkaError(err error) bool {
	if err == nil {
		return false
	}

	switch err {
	case sarama.ErrRequestTimedOut,
		sarama.ErrNotLeaderForPartition,
		sarama.ErrLeaderNotAvailable,
		sarama.ErrNetworkException,
		sarama.ErrNotEnoughReplicas,
		sarama.ErrNotEnoughReplicasAfterAppend:
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"broker not available",
		"network error",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
