package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type Producer struct {
	eventsTopic string
	dlqTopic    string
	producer    sarama.SyncProducer
}

func NewSyncProducer(brokers []string, eventsTopic, dlqTopic string) (*Producer, error) {
	cfg := sarama.NewConfig()

	// SyncProducer requires both:
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return &Producer{
		eventsTopic: eventsTopic,
		dlqTopic:    dlqTopic,
		producer:    prod,
	}, nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishEvent sends an outbox payload to the events topic and returns only
// after the broker acknowledged it (RequiredAcks=all). The schema tag travels
// in a header so consumers can decode without sniffing the payload.
func (p *Producer) PublishEvent(eventType, key string, payload []byte) error {
	if eventType == "" {
		return fmt.Errorf("event type is empty")
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.eventsTopic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
		},
		Timestamp: time.Now(),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}

	return nil
}

// PublishDeadLetter quarantines a command that exhausted the retry ladder,
// keeping enough identifying metadata (source topic, partition/offset, reason)
// to support manual inspection and replay.
func (p *Producer) PublishDeadLetter(m *sarama.ConsumerMessage, reason string) error {
	if m == nil {
		return fmt.Errorf("consumer message is nil")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.dlqTopic,
		Key:   sarama.ByteEncoder(m.Key),
		Value: sarama.ByteEncoder(m.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source_topic"), Value: []byte(m.Topic)},
			{Key: []byte("source_partition"), Value: []byte(fmt.Sprintf("%d", m.Partition))},
			{Key: []byte("source_offset"), Value: []byte(fmt.Sprintf("%d", m.Offset))},
			{Key: []byte("reason"), Value: []byte(reason)},
		},
		Timestamp: time.Now(),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send dead-letter message: %w", err)
	}

	return nil
}
