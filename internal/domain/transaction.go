package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "deposit"
	TransactionTypeWithdrawal   TransactionType = "withdrawal"
	TransactionTypePayment      TransactionType = "payment"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypePayout       TransactionType = "payout"
	TransactionTypeTip          TransactionType = "tip"
	TransactionTypeCommission   TransactionType = "commission"
	TransactionTypeTax          TransactionType = "tax"
	TransactionTypeCashback     TransactionType = "cashback"
	TransactionTypeBonus        TransactionType = "bonus"
	TransactionTypeEarning      TransactionType = "earning"
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypeReversal     TransactionType = "reversal"
)

var transactionTypes = []TransactionType{
	TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypePayment,
	TransactionTypeRefund, TransactionTypePayout, TransactionTypeTip,
	TransactionTypeCommission, TransactionTypeTax, TransactionTypeCashback,
	TransactionTypeBonus, TransactionTypeEarning, TransactionTypeSubscription,
	TransactionTypeReversal,
}

func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

func (t TransactionType) IsValid() bool {
	for _, v := range transactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RequiresPaymentMethod reports whether the type moves money across the
// platform boundary and so must name an external payment method.
func (t TransactionType) RequiresPaymentMethod() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypePayout:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// CanTransitionTo encodes pending -> completed|failed and completed -> reversed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted || next == TransactionStatusFailed
	case TransactionStatusCompleted:
		return next == TransactionStatusReversed
	}
	return false
}

// Applied reports whether the record's amount is reflected in the balance.
// A reversed record stays applied; its compensating record cancels it out.
func (s TransactionStatus) Applied() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusReversed
}

type TransactionRecord struct {
	ID             uuid.UUID
	Seq            int64
	WalletID       uuid.UUID
	TransferID     *uuid.UUID
	Type           TransactionType
	Amount         decimal.Decimal
	Currency       Currency
	Status         TransactionStatus
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	Reference      *string
	PaymentMethod  *string
	ReversalOf     *uuid.UUID
	ReversedBy     *uuid.UUID
	IdempotencyKey *string
	Metadata       json.RawMessage
	CreatedAt      time.Time
}

func (r *TransactionRecord) IsDebit() bool {
	return r.Amount.IsNegative()
}

// HistoryFilter narrows a wallet's transaction history. Zero values mean
// "no constraint"; From is inclusive and To exclusive.
type HistoryFilter struct {
	Types    []TransactionType
	Statuses []TransactionStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
