package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/events"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
)

// MovementRequest moves money into or out of a single wallet. Amount is
// always positive; the operation decides the sign.
type MovementRequest struct {
	ActorID        uuid.UUID
	WalletID       uuid.UUID
	Amount         decimal.Decimal
	Currency       domain.Currency
	PaymentMethod  string
	Reference      string
	Metadata       json.RawMessage
	IdempotencyKey string
}

type RewardCreditRequest struct {
	ActorID  uuid.UUID
	WalletID uuid.UUID
	// Type is cashback or bonus.
	Type           domain.TransactionType
	Amount         decimal.Decimal
	Currency       domain.Currency
	Reference      string
	Metadata       json.RawMessage
	IdempotencyKey string
}

type ReverseTransactionRequest struct {
	ActorID        uuid.UUID
	TransactionID  uuid.UUID
	Reason         string
	IdempotencyKey string
}

func (s *Service) Deposit(ctx context.Context, req MovementRequest) (*Result, error) {
	res, err := s.move(ctx, movement{
		actorID:  req.ActorID,
		walletID: req.WalletID,
		request:  req.ledgerRequest(domain.TransactionTypeDeposit, req.Amount),
		reward:   rewards.ActionDeposit,
		check:    notSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}
	return res, nil
}

func (s *Service) Withdraw(ctx context.Context, req MovementRequest) (*Result, error) {
	res, err := s.move(ctx, movement{
		actorID:  req.ActorID,
		walletID: req.WalletID,
		request:  req.ledgerRequest(domain.TransactionTypeWithdrawal, req.Amount.Neg()),
		check:    notSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	return res, nil
}

// Payout sends a driver's or merchant's earnings to an external account.
func (s *Service) Payout(ctx context.Context, req MovementRequest) (*Result, error) {
	res, err := s.move(ctx, movement{
		actorID:  req.ActorID,
		walletID: req.WalletID,
		request:  req.ledgerRequest(domain.TransactionTypePayout, req.Amount.Neg()),
		check: func(w *domain.Wallet) error {
			if w.Type != domain.WalletTypeEarnings {
				return fmt.Errorf("payout from %s wallet: %w", w.Type, domain.ErrInvalidRequest)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}
	return res, nil
}

// CreditReward credits cashback or a bonus funded by the platform.
func (s *Service) CreditReward(ctx context.Context, req RewardCreditRequest) (*Result, error) {
	if req.Type != domain.TransactionTypeCashback && req.Type != domain.TransactionTypeBonus {
		return nil, fmt.Errorf("CreditReward: type %q: %w", req.Type, domain.ErrInvalidRequest)
	}
	res, err := s.move(ctx, movement{
		actorID:  req.ActorID,
		walletID: req.WalletID,
		request: ledger.Request{
			Type:           req.Type,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Reference:      optional(req.Reference),
			Metadata:       req.Metadata,
			IdempotencyKey: req.IdempotencyKey,
		},
		check: notSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("CreditReward: %w", err)
	}
	return res, nil
}

// ReverseTransaction cancels one standalone transaction. Transactions that
// belong to a transfer are reversed with ReverseTransfer or Refund.
func (s *Service) ReverseTransaction(ctx context.Context, req ReverseTransactionRequest) (*Result, error) {
	log := logging.FromContext(ctx)

	rec, replayed, err := s.executor.SubmitReversal(ctx, req.TransactionID, ledger.ReverseRequest{
		IdempotencyKey: req.IdempotencyKey,
		Reason:         req.Reason,
	})
	audit := events.NewAudit(req.ActorID, domain.AuditActionTransactionReversed, map[string]any{
		"transactionId":  req.TransactionID,
		"reason":         req.Reason,
		"idempotencyKey": req.IdempotencyKey,
		"replayed":       replayed,
	}, err)
	if err != nil {
		s.events.Dispatch(ctx, nil, audit)
		return nil, fmt.Errorf("ReverseTransaction: %w", err)
	}

	res := &Result{Records: []domain.TransactionRecord{*rec}, Replayed: replayed}
	if replayed {
		s.events.Dispatch(ctx, nil, audit)
		return res, nil
	}
	s.events.Dispatch(ctx, events.Committed(s.owners(ctx), res.Records), audit)

	log.Info("transaction reversed",
		"transaction_id", req.TransactionID,
		"reversal_id", rec.ID,
		"wallet_id", rec.WalletID,
		"amount", rec.Amount,
	)
	return res, nil
}

type movement struct {
	actorID  uuid.UUID
	walletID uuid.UUID
	request  ledger.Request
	reward   rewards.Action
	check    func(*domain.Wallet) error
}

func (r MovementRequest) ledgerRequest(t domain.TransactionType, signed decimal.Decimal) ledger.Request {
	return ledger.Request{
		Type:           t,
		Amount:         signed,
		Currency:       r.Currency,
		PaymentMethod:  optional(r.PaymentMethod),
		Reference:      optional(r.Reference),
		Metadata:       r.Metadata,
		IdempotencyKey: r.IdempotencyKey,
	}
}

func notSystem(w *domain.Wallet) error {
	if w.Type.IsSystem() {
		return fmt.Errorf("%s wallet: %w", w.Type, domain.ErrInvalidRequest)
	}
	return nil
}

func (s *Service) move(ctx context.Context, m movement) (*Result, error) {
	log := logging.FromContext(ctx)

	w, err := s.wallets.GetWallet(ctx, m.walletID)
	if err == nil && m.check != nil {
		err = m.check(w)
	}
	var (
		rec      *domain.TransactionRecord
		replayed bool
	)
	if err == nil {
		rec, replayed, err = s.executor.Submit(ctx, w.ID, m.request)
	}

	audit := events.NewAudit(m.actorID, domain.AuditActionTransactionExecuted, map[string]any{
		"walletId":       m.walletID,
		"type":           m.request.Type,
		"amount":         m.request.Amount,
		"currency":       m.request.Currency,
		"idempotencyKey": m.request.IdempotencyKey,
		"replayed":       replayed,
	}, err)
	if err != nil {
		var evts []domain.TransactionEvent
		if w != nil {
			evts = append(evts, events.Failed(w.ID, w.OwnerID, m.request.Type, m.request.Amount, m.request.Currency))
		}
		s.events.Dispatch(ctx, evts, audit)
		return nil, err
	}

	res := &Result{Records: []domain.TransactionRecord{*rec}, Replayed: replayed}
	if replayed {
		s.events.Dispatch(ctx, nil, audit)
		return res, nil
	}

	owner := w.OwnerID
	s.events.Dispatch(ctx, events.Committed(func(uuid.UUID) uuid.UUID { return owner }, res.Records), audit)
	if m.reward != "" {
		s.grant(ctx, res, owner, m.reward, rec.Amount.Abs(), rec.ID.String())
	}

	log.Info("transaction completed",
		"transaction_id", rec.ID,
		"wallet_id", rec.WalletID,
		"type", rec.Type,
		"amount", rec.Amount,
		"balance_after", rec.BalanceAfter,
	)
	return res, nil
}
