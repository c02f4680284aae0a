package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferKind string

const (
	TransferKindOrderPayment TransferKind = "order_payment"
	TransferKindTip          TransferKind = "tip"
	TransferKindSubscription TransferKind = "subscription"
	TransferKindRefund       TransferKind = "refund"
	TransferKindReversal     TransferKind = "reversal"
)

type TransferStatus string

const (
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusReversed  TransferStatus = "reversed"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

func (d Direction) Opposite() Direction {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// Transfer groups the legs of one multi-party movement.
type Transfer struct {
	ID             uuid.UUID
	Kind           TransferKind
	Status         TransferStatus
	IdempotencyKey string
	Currency       Currency
	Amount         decimal.Decimal
	Reference      *string
	ReversalOf     *uuid.UUID
	Metadata       json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
