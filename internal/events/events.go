package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"pharmaflow/backend/internal/domain"
)

const BillCommitted = "bill.committed"

// Publisher announces committed bills to downstream consumers. Publishing is
// best effort; callers log failures and move on.
type Publisher interface {
	PublishBillCommitted(ctx context.Context, bill domain.Bill) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishBillCommitted(_ context.Context, _ domain.Bill) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

type envelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Bill       domain.Bill `json:"bill"`
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *KafkaPublisher) PublishBillCommitted(ctx context.Context, bill domain.Bill) error {
	msg, err := newBillCommittedMessage(bill, time.Now().UTC())
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// newBillCommittedMessage keys the message by bill id so every event for a
// bill lands on the same partition.
func newBillCommittedMessage(bill domain.Bill, at time.Time) (kafka.Message, error) {
	payload, err := json.Marshal(envelope{Type: BillCommitted, OccurredAt: at, Bill: bill})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(bill.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(BillCommitted)},
		},
		Time: at,
	}, nil
}
