package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// RedisPublisher pushes committed transactions to the owner's live channel.
// Failed attempts are not published; nothing changed for the UI to show.
type RedisPublisher struct {
	client redis.Cmdable
	prefix string
}

func NewRedisPublisher(client redis.Cmdable, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Channel(e domain.TransactionEvent) string {
	return p.prefix + e.OwnerID.String()
}

func (p *RedisPublisher) PublishTransactions(ctx context.Context, evts []domain.TransactionEvent) error {
	for _, e := range evts {
		if e.Status != domain.TransactionStatusCompleted {
			continue
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("PublishTransactions: marshal: %w", err)
		}
		if err := p.client.Publish(ctx, p.Channel(e), payload).Err(); err != nil {
			return fmt.Errorf("PublishTransactions: %w", err)
		}
	}
	return nil
}
