package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// DLQMonitor tails the dead-letter topic and logs every quarantined command
// with enough identifying metadata to support manual replay. It never
// processes the commands; inspection only.
type DLQMonitor struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *log.Logger
}

func NewDLQMonitor(brokers []string, groupID, topic string, logger *log.Logger) (*DLQMonitor, error) {
	if logger == nil {
		logger = log.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create dlq consumer group: %w", err)
	}

	return &DLQMonitor{
		group:  group,
		topic:  topic,
		logger: logger,
	}, nil
}

func (m *DLQMonitor) Start(ctx context.Context) error {
	go func() {
		for err := range m.group.Errors() {
			m.logger.Printf("dlq monitor group error: %v", err)
		}
	}()

	for {
		err := m.group.Consume(ctx, []string{m.topic}, &dlqLogHandler{logger: m.logger})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Printf("dlq monitor consume error: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (m *DLQMonitor) Close() error {
	return m.group.Close()
}

type dlqLogHandler struct {
	logger *log.Logger
}

func (h *dlqLogHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqLogHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *dlqLogHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for msg := range claim.Messages() {
		sourceTopic, reason := "", ""
		for _, hdr := range msg.Headers {
			switch string(hdr.Key) {
			case "source_topic":
				sourceTopic = string(hdr.Value)
			case "reason":
				reason = string(hdr.Value)
			}
		}

		h.logger.Printf(
			"dead-lettered command source_topic=%s key=%s partition=%d offset=%d reason=%q",
			sourceTopic, string(msg.Key), msg.Partition, msg.Offset, reason,
		)

		session.MarkMessage(msg, "")
	}
	return nil
}
