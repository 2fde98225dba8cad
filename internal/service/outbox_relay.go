package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"payment_processing/internal/metrics"
	"payment_processing/internal/models"

	"github.com/jackc/pgx/v5"
)

// RelayStore is the slice of the outbox repository the relay needs.
type RelayStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	ClaimPendingTx(ctx context.Context, tx pgx.Tx, limit int) ([]*models.OutboxMessage, error)
	MarkAsSentTx(ctx context.Context, tx pgx.Tx, messageID string) error
	MarkAsFailedTx(ctx context.Context, tx pgx.Tx, messageID string, errorMsg string, retryIn time.Duration) error
	CleanupOldMessages(ctx context.Context, retentionDays int) (int, error)
}

// EventPublisher confirms delivery synchronously: a nil return means the
// broker acknowledged the message.
type EventPublisher interface {
	PublishEvent(eventType, key string, payload []byte) error
}

// OutboxRelay drains unpublished outbox rows to the bus in creation order.
// Rows are claimed under FOR UPDATE SKIP LOCKED, so several relay instances
// can run without double-claiming; a crash between publish and mark-sent only
// ever causes a duplicate delivery, never a lost one.
type OutboxRelay struct {
	store         RelayStore
	publisher     EventPublisher
	pollInterval  time.Duration
	batchSize     int
	retentionDays int
	maxRetries    int
	logger        *log.Logger

	cleanupEvery time.Duration
}

func NewOutboxRelay(
	store RelayStore,
	publisher EventPublisher,
	pollInterval time.Duration,
	batchSize int,
	retentionDays int,
	maxRetries int,
	logger *log.Logger,
) *OutboxRelay {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if retentionDays < 0 {
		retentionDays = 0
	}

	return &OutboxRelay{
		store:         store,
		publisher:     publisher,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		retentionDays: retentionDays,
		maxRetries:    maxRetries,
		logger:        logger,
		// cleanup runs much less often than the drain loop
		cleanupEvery: 1 * time.Hour,
	}
}

// Start runs the relay loop in a background goroutine until ctx is cancelled.
func (r *OutboxRelay) Start(ctx context.Context) {
	go func() {
		r.logger.Println("outbox relay started")
		defer r.logger.Println("outbox relay stopped")

		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		cleanupTicker := time.NewTicker(r.cleanupEvery)
		defer cleanupTicker.Stop()

		r.FlushOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.FlushOnce(ctx)
			case <-cleanupTicker.C:
				r.cleanupOnce(ctx)
			}
		}
	}()
}

// FlushOnce claims one batch of due pending messages and attempts to publish
// each. Mark-sent/mark-failed happen under the claim transaction, so the lock
// is held until the batch outcome is durable.
func (r *OutboxRelay) FlushOnce(ctx context.Context) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		r.logger.Printf("outbox begin claim tx failed: %v", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msgs, err := r.store.ClaimPendingTx(ctx, tx, r.batchSize)
	if err != nil {
		r.logger.Printf("outbox claim pending failed: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	for _, m := range msgs {
		if err := r.sendOne(m); err != nil {
			backoff := publishBackoff(m.RetryCount + 1)
			if err2 := r.store.MarkAsFailedTx(ctx, tx, m.MessageID, err.Error(), backoff); err2 != nil {
				r.logger.Printf("outbox mark failed error: %v", err2)
			}
			if m.RetryCount+1 >= r.maxRetries {
				r.logger.Printf("outbox message exhausted retries message_id=%s event_type=%s", m.MessageID, m.EventType)
				metrics.IncOutboxFailed()
			}
			continue
		}
		if err := r.store.MarkAsSentTx(ctx, tx, m.MessageID); err != nil {
			r.logger.Printf("outbox mark sent failed: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Printf("outbox commit claim tx failed: %v", err)
	}
}

func (r *OutboxRelay) sendOne(m *models.OutboxMessage) error {
	if m == nil {
		return fmt.Errorf("outbox message is nil")
	}
	if m.EventType == "" {
		return fmt.Errorf("outbox event_type is empty")
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("outbox payload is empty")
	}

	// how long the row sat in the outbox before this attempt
	metrics.ObserveOutboxLagSeconds(time.Since(m.CreatedAt).Seconds())

	start := time.Now()

	// Partition key: order_id, so all events for one order stay ordered.
	key, err := extractOrderID(m.Payload)
	if err != nil {
		metrics.IncKafkaError("producer", "prepare")
		metrics.ObserveOutboxProcessing(time.Since(start))
		return fmt.Errorf("extract order_id: %w", err)
	}

	if err := r.publisher.PublishEvent(m.EventType, key, m.Payload); err != nil {
		metrics.IncKafkaError("producer", "send")
		metrics.IncOutboxRetry()
		metrics.ObserveOutboxProcessing(time.Since(start))
		return fmt.Errorf("kafka send failed: %w", err)
	}

	metrics.IncKafkaSent()
	metrics.IncOutboxSent()
	metrics.ObserveOutboxProcessing(time.Since(start))

	return nil
}

func (r *OutboxRelay) cleanupOnce(ctx context.Context) {
	if r.retentionDays <= 0 {
		return
	}
	n, err := r.store.CleanupOldMessages(ctx, r.retentionDays)
	if err != nil {
		r.logger.Printf("outbox cleanup failed: %v", err)
		return
	}
	if n > 0 {
		r.logger.Printf("outbox cleanup: deleted %d messages", n)
	}
}

// publishBackoff grows linearly with the attempt number, capped at 5 minutes.
func publishBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// every outbox payload is an event carrying order_id
func extractOrderID(payload []byte) (string, error) {
	var x struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &x); err != nil {
		return "", err
	}
	if x.OrderID == "" {
		return "", fmt.Errorf("order_id is empty in payload")
	}
	return x.OrderID, nil
}
