package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"payment_processing/internal/cache"
	"payment_processing/internal/metrics"

	"github.com/IBM/sarama"
)

// CommandProcessor handles decoded saga commands. One method per command
// type; both share the same idempotency and outbox machinery underneath.
type CommandProcessor interface {
	ProcessPaymentMessage(ctx context.Context, message []byte) error
	CompensatePaymentMessage(ctx context.Context, message []byte) error
}

// DeadLetterer quarantines a command that exhausted the retry ladder.
type DeadLetterer interface {
	PublishDeadLetter(m *sarama.ConsumerMessage, reason string) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
	logger  *log.Logger
}

func NewConsumer(
	brokers []string,
	groupID string,
	processTopic, compensateTopic string,
	processor CommandProcessor,
	deadLetterer DeadLetterer,
	policy RetryPolicy,
	c cache.Cache,
	logger *log.Logger,
) (*Consumer, error) {
	if logger == nil {
		logger = log.Default()
	}

	cfg := sarama.NewConfig()

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	// Commit only by hand, after the command is handled or dead-lettered.
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	h := &commandGroupHandler{
		processor:       processor,
		deadLetterer:    deadLetterer,
		policy:          policy,
		processTopic:    processTopic,
		compensateTopic: compensateTopic,
		cache:           c,
		logger:          logger,
	}

	return &Consumer{
		group:   group,
		topics:  []string{processTopic, compensateTopic},
		handler: h,
		logger:  logger,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	// group errors go to a separate log stream
	go func() {
		for err := range c.group.Errors() {
			c.logger.Printf("consumer group error: %v", err)
			metrics.IncKafkaError("consumer", "group")
		}
	}()

	for {
		err := c.group.Consume(ctx, c.topics, c.handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Printf("consume loop error: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type commandGroupHandler struct {
	processor       CommandProcessor
	deadLetterer    DeadLetterer
	policy          RetryPolicy
	processTopic    string
	compensateTopic string
	cache           cache.Cache
	logger          *log.Logger
}

func (h *commandGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *commandGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *commandGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for kafkaMsg := range claim.Messages() {
		lag := claim.HighWaterMarkOffset() - kafkaMsg.Offset - 1
		metrics.SetKafkaConsumerLag(kafkaMsg.Topic, kafkaMsg.Partition, lag)

		if err := h.handleWithRetry(session.Context(), kafkaMsg); err != nil {
			metrics.IncKafkaError("consumer", "process")
			// Not marked and not committed: even the dead-letter write failed,
			// so the broker must redeliver the command.
			return err
		}
		metrics.IncKafkaProcessed()

		if h.cache != nil {
			_ = h.invalidateCache(session.Context(), kafkaMsg.Value)
		}

		// only after the outcome is durable:
		session.MarkMessage(kafkaMsg, "")
		session.Commit()
	}
	return nil
}

// handleWithRetry walks the escalation ladder for one command. A nil return
// means the command reached a durable outcome (handled, or quarantined in the
// DLQ) and may be acknowledged.
func (h *commandGroupHandler) handleWithRetry(ctx context.Context, m *sarama.ConsumerMessage) error {
	attempt := 0

	for {
		attempt++
		err := h.dispatch(ctx, m)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrUnprocessable) {
			// fatal, retrying cannot help
			h.logger.Printf("unprocessable command topic=%s partition=%d offset=%d: %v", m.Topic, m.Partition, m.Offset, err)
			return h.deadLetter(m, err)
		}

		delay, ok := h.policy.NextDelay(attempt)
		if !ok {
			h.logger.Printf("command exhausted retries topic=%s partition=%d offset=%d attempts=%d: %v", m.Topic, m.Partition, m.Offset, attempt, err)
			return h.deadLetter(m, err)
		}

		h.logger.Printf(
			"command failed topic=%s partition=%d offset=%d attempt=%d err=%v; retry in %s",
			m.Topic, m.Partition, m.Offset, attempt, err, delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (h *commandGroupHandler) dispatch(ctx context.Context, m *sarama.ConsumerMessage) error {
	switch m.Topic {
	case h.processTopic:
		return h.processor.ProcessPaymentMessage(ctx, m.Value)
	case h.compensateTopic:
		return h.processor.CompensatePaymentMessage(ctx, m.Value)
	default:
		return fmt.Errorf("%w: unexpected topic %s", ErrUnprocessable, m.Topic)
	}
}

func (h *commandGroupHandler) deadLetter(m *sarama.ConsumerMessage, cause error) error {
	if err := h.deadLetterer.PublishDeadLetter(m, cause.Error()); err != nil {
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	metrics.IncDeadLettered(commandTypeForTopic(m.Topic, h.processTopic))
	return nil
}

func commandTypeForTopic(topic, processTopic string) string {
	if topic == processTopic {
		return "process"
	}
	return "compensate"
}

// invalidateCache drops the cached payment for the order touched by the
// command so HTTP reads see the new status.
func (h *commandGroupHandler) invalidateCache(ctx context.Context, payload []byte) error {
	var x struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &x); err != nil {
		return err
	}
	if x.OrderID == "" {
		return nil
	}
	return h.cache.Del(ctx, cache.PaymentKey(x.OrderID))
}
