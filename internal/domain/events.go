package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AuditAction string

const (
	AuditActionWalletOpened        AuditAction = "wallet.opened"
	AuditActionWalletDisabled      AuditAction = "wallet.disabled"
	AuditActionTransactionExecuted AuditAction = "transaction.executed"
	AuditActionTransactionReversed AuditAction = "transaction.reversed"
	AuditActionTransferExecuted    AuditAction = "transfer.executed"
	AuditActionTransferReversed    AuditAction = "transfer.reversed"
)

// TransactionEvent is emitted once per transaction for notification dispatch
// and live UI updates.
type TransactionEvent struct {
	WalletID      uuid.UUID         `json:"walletId"`
	OwnerID       uuid.UUID         `json:"ownerId"`
	TransactionID *uuid.UUID        `json:"transactionId,omitempty"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      Currency          `json:"currency"`
	Status        TransactionStatus `json:"status"`
	BalanceAfter  *decimal.Decimal  `json:"balanceAfter,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// AuditRecord is emitted for every state-changing call, success or failure.
type AuditRecord struct {
	ActorID   uuid.UUID       `json:"actorId"`
	Action    AuditAction     `json:"action"`
	Details   json.RawMessage `json:"details"`
	Outcome   string          `json:"outcome"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
)
