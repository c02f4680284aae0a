package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic on brokers.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher writes notification events keyed by wallet id and audit
// records keyed by actor id.
type KafkaPublisher struct {
	transactions messageWriter
	audit        messageWriter
}

func NewKafkaPublisher(transactions, audit messageWriter) *KafkaPublisher {
	return &KafkaPublisher{transactions: transactions, audit: audit}
}

func (p *KafkaPublisher) PublishTransactions(ctx context.Context, evts []domain.TransactionEvent) error {
	if len(evts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("PublishTransactions: marshal: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.WalletID.String()),
			Value: value,
			Time:  e.OccurredAt,
		})
	}
	if err := p.transactions.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("PublishTransactions: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) PublishAudit(ctx context.Context, rec domain.AuditRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PublishAudit: marshal: %w", err)
	}
	err = p.audit.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ActorID.String()),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("PublishAudit: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	errT := p.transactions.Close()
	errA := p.audit.Close()
	if errT != nil {
		return fmt.Errorf("Close: transactions: %w", errT)
	}
	if errA != nil {
		return fmt.Errorf("Close: audit: %w", errA)
	}
	return nil
}
