package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// NewAudit builds the audit record for one state-changing call. A non-nil
// err marks the call as failed and records its code.
func NewAudit(actorID uuid.UUID, action domain.AuditAction, details any, err error) *domain.AuditRecord {
	raw, merr := json.Marshal(details)
	if merr != nil {
		raw = json.RawMessage(`{}`)
	}
	rec := &domain.AuditRecord{
		ActorID:   actorID,
		Action:    action,
		Details:   raw,
		Outcome:   domain.AuditOutcomeSuccess,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		rec.Outcome = domain.AuditOutcomeFailure
		rec.ErrorCode = domain.CodeOf(err)
	}
	return rec
}

// Committed builds the notification events for records that were applied.
func Committed(ownerOf func(uuid.UUID) uuid.UUID, recs []domain.TransactionRecord) []domain.TransactionEvent {
	evts := make([]domain.TransactionEvent, 0, len(recs))
	for _, r := range recs {
		id := r.ID
		after := r.BalanceAfter
		evts = append(evts, domain.TransactionEvent{
			WalletID:      r.WalletID,
			OwnerID:       ownerOf(r.WalletID),
			TransactionID: &id,
			Type:          r.Type,
			Amount:        r.Amount,
			Currency:      r.Currency,
			Status:        domain.TransactionStatusCompleted,
			BalanceAfter:  &after,
			OccurredAt:    r.CreatedAt,
		})
	}
	return evts
}

// Failed builds the notification event for an attempt that was rolled back.
func Failed(walletID, ownerID uuid.UUID, txType domain.TransactionType, amount decimal.Decimal, currency domain.Currency) domain.TransactionEvent {
	return domain.TransactionEvent{
		WalletID:   walletID,
		OwnerID:    ownerID,
		Type:       txType,
		Amount:     amount,
		Currency:   currency,
		Status:     domain.TransactionStatusFailed,
		OccurredAt: time.Now().UTC(),
	}
}
