package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type PointsAwarder interface {
	AwardPoints(ctx context.Context, award Award) error
}

// Award is one request to the gamification service.
type Award struct {
	UserID    uuid.UUID
	Action    Action
	Amount    decimal.Decimal
	Points    int64
	Reference string
}

// Bridge converts committed financial activity into point grants. It never
// touches the ledger.
type Bridge struct {
	rules   Rules
	awarder PointsAwarder
	timeout time.Duration
}

// NewBridge returns a bridge that grants nothing when awarder is nil.
func NewBridge(rules Rules, awarder PointsAwarder, timeout time.Duration) *Bridge {
	return &Bridge{rules: rules, awarder: awarder, timeout: timeout}
}

// Grant awards points for action. It returns (nil, nil) when no points are
// due. The call is detached from ctx's cancellation so an aborted caller
// does not cut off a grant for an already committed transaction.
func (b *Bridge) Grant(ctx context.Context, userID uuid.UUID, action Action, amount decimal.Decimal, reference string) (*Award, error) {
	if b == nil || b.awarder == nil {
		return nil, nil
	}
	points := b.rules.Points(action, amount)
	if points <= 0 {
		return nil, nil
	}

	ctx = context.WithoutCancel(ctx)
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	award := Award{
		UserID:    userID,
		Action:    action,
		Amount:    amount.Abs(),
		Points:    points,
		Reference: reference,
	}
	if err := b.awarder.AwardPoints(ctx, award); err != nil {
		logging.FromContext(ctx).Warn("points grant failed",
			"user_id", userID,
			"action", action,
			"points", points,
			"error", err,
		)
		return nil, fmt.Errorf("Grant: %w", err)
	}

	logging.FromContext(ctx).Info("points granted", "user_id", userID, "action", action, "points", points)
	return &award, nil
}
