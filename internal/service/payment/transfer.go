package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/events"
	"github.com/josh-kwaku/wallet-ledger/internal/revenue"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
	"github.com/josh-kwaku/wallet-ledger/internal/transfer"
)

type OrderParty struct {
	WalletID uuid.UUID
	Role     revenue.Role
	Gross    decimal.Decimal
	Premium  bool
}

type OrderRequest struct {
	ActorID          uuid.UUID
	CustomerWalletID uuid.UUID
	Currency         domain.Currency
	// Country selects the tax rate; empty uses the default rate.
	Country        string
	Parties        []OrderParty
	Reference      string
	Metadata       json.RawMessage
	IdempotencyKey string
}

type TipRequest struct {
	ActorID        uuid.UUID
	SenderWalletID uuid.UUID
	// RecipientWalletIDs lists the primary recipient first.
	RecipientWalletIDs []uuid.UUID
	Amount             decimal.Decimal
	Currency           domain.Currency
	Reference          string
	Metadata           json.RawMessage
	IdempotencyKey     string
}

type SubscriptionRequest struct {
	ActorID        uuid.UUID
	WalletID       uuid.UUID
	Fee            decimal.Decimal
	Currency       domain.Currency
	Reference      string
	Metadata       json.RawMessage
	IdempotencyKey string
}

type ReverseTransferRequest struct {
	ActorID        uuid.UUID
	TransferID     uuid.UUID
	Reason         string
	IdempotencyKey string
}

// PayOrder charges the customer for an order and pays every party its
// share after commission and tax.
func (s *Service) PayOrder(ctx context.Context, req OrderRequest) (*Result, error) {
	customer, plan, splits, err := s.orderPlan(ctx, req)
	if err != nil {
		s.rejectTransfer(ctx, req.ActorID, domain.TransferKindOrderPayment, req.Currency, req.IdempotencyKey, err)
		return nil, fmt.Errorf("PayOrder: %w", err)
	}

	res, err := s.runTransfer(ctx, req.ActorID, plan)
	if err != nil {
		return nil, fmt.Errorf("PayOrder: %w", err)
	}
	res.Splits = splits
	s.grant(ctx, res, customer.OwnerID, rewards.ActionOrderPayment, res.Transfer.Amount, res.Transfer.ID.String())
	return res, nil
}

func (s *Service) orderPlan(ctx context.Context, req OrderRequest) (*domain.Wallet, transfer.Plan, []revenue.Breakdown, error) {
	customer, err := s.wallets.GetWallet(ctx, req.CustomerWalletID)
	if err != nil {
		return nil, transfer.Plan{}, nil, err
	}
	system, err := s.wallets.SystemWallets(ctx, req.Currency)
	if err != nil {
		return nil, transfer.Plan{}, nil, err
	}

	parties := make([]transfer.Party, 0, len(req.Parties))
	for _, p := range req.Parties {
		cfg, err := s.revenue.Config(p.Role, req.Country)
		if err != nil {
			return nil, transfer.Plan{}, nil, err
		}
		parties = append(parties, transfer.Party{WalletID: p.WalletID, Gross: p.Gross, Config: cfg, Premium: p.Premium})
	}

	legs, splits, err := transfer.OrderPayment(customer.ID, parties, system)
	if err != nil {
		return nil, transfer.Plan{}, nil, err
	}
	return customer, transfer.Plan{
		Kind:           domain.TransferKindOrderPayment,
		Currency:       req.Currency,
		Reference:      optional(req.Reference),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		Legs:           legs,
	}, splits, nil
}

// SendTip splits a tip evenly between the recipients.
func (s *Service) SendTip(ctx context.Context, req TipRequest) (*Result, error) {
	sender, plan, err := s.tipPlan(ctx, req)
	if err != nil {
		s.rejectTransfer(ctx, req.ActorID, domain.TransferKindTip, req.Currency, req.IdempotencyKey, err)
		return nil, fmt.Errorf("SendTip: %w", err)
	}

	res, err := s.runTransfer(ctx, req.ActorID, plan)
	if err != nil {
		return nil, fmt.Errorf("SendTip: %w", err)
	}
	s.grant(ctx, res, sender.OwnerID, rewards.ActionTip, res.Transfer.Amount, res.Transfer.ID.String())
	return res, nil
}

func (s *Service) tipPlan(ctx context.Context, req TipRequest) (*domain.Wallet, transfer.Plan, error) {
	sender, err := s.wallets.GetWallet(ctx, req.SenderWalletID)
	if err != nil {
		return nil, transfer.Plan{}, err
	}
	legs, err := transfer.TipSplit(sender.ID, req.RecipientWalletIDs, req.Amount)
	if err != nil {
		return nil, transfer.Plan{}, err
	}
	return sender, transfer.Plan{
		Kind:           domain.TransferKindTip,
		Currency:       req.Currency,
		Reference:      optional(req.Reference),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		Legs:           legs,
	}, nil
}

func (s *Service) ChargeSubscription(ctx context.Context, req SubscriptionRequest) (*Result, error) {
	subscriber, plan, err := s.subscriptionPlan(ctx, req)
	if err != nil {
		s.rejectTransfer(ctx, req.ActorID, domain.TransferKindSubscription, req.Currency, req.IdempotencyKey, err)
		return nil, fmt.Errorf("ChargeSubscription: %w", err)
	}

	res, err := s.runTransfer(ctx, req.ActorID, plan)
	if err != nil {
		return nil, fmt.Errorf("ChargeSubscription: %w", err)
	}
	s.grant(ctx, res, subscriber.OwnerID, rewards.ActionSubscription, res.Transfer.Amount, res.Transfer.ID.String())
	return res, nil
}

func (s *Service) subscriptionPlan(ctx context.Context, req SubscriptionRequest) (*domain.Wallet, transfer.Plan, error) {
	subscriber, err := s.wallets.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, transfer.Plan{}, err
	}
	system, err := s.wallets.SystemWallets(ctx, req.Currency)
	if err != nil {
		return nil, transfer.Plan{}, err
	}
	legs, err := transfer.Subscription(subscriber.ID, system, req.Fee)
	if err != nil {
		return nil, transfer.Plan{}, err
	}
	return subscriber, transfer.Plan{
		Kind:           domain.TransferKindSubscription,
		Currency:       req.Currency,
		Reference:      optional(req.Reference),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		Legs:           legs,
	}, nil
}

// rejectTransfer audits a transfer that failed before a plan could be run.
// No legs exist yet, so no failed notification events are emitted.
func (s *Service) rejectTransfer(ctx context.Context, actorID uuid.UUID, kind domain.TransferKind, c domain.Currency, key string, err error) {
	s.events.Dispatch(ctx, nil, events.NewAudit(actorID, domain.AuditActionTransferExecuted, map[string]any{
		"kind":           kind,
		"currency":       c,
		"legs":           0,
		"idempotencyKey": key,
	}, err))
}

// Refund returns a completed transfer's money to where it came from.
func (s *Service) Refund(ctx context.Context, req ReverseTransferRequest) (*Result, error) {
	res, err := s.reverseTransfer(ctx, req, domain.TransferKindRefund)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return res, nil
}

// ReverseTransfer undoes a completed transfer as an operational correction.
func (s *Service) ReverseTransfer(ctx context.Context, req ReverseTransferRequest) (*Result, error) {
	res, err := s.reverseTransfer(ctx, req, domain.TransferKindReversal)
	if err != nil {
		return nil, fmt.Errorf("ReverseTransfer: %w", err)
	}
	return res, nil
}

func (s *Service) reverseTransfer(ctx context.Context, req ReverseTransferRequest, kind domain.TransferKind) (*Result, error) {
	r, err := s.orchestrator.Reverse(ctx, req.TransferID, transfer.ReverseRequest{
		IdempotencyKey: req.IdempotencyKey,
		Reason:         req.Reason,
		Kind:           kind,
	})
	details := map[string]any{
		"transferId":     req.TransferID,
		"kind":           kind,
		"reason":         req.Reason,
		"idempotencyKey": req.IdempotencyKey,
	}
	if err != nil {
		s.events.Dispatch(ctx, nil, events.NewAudit(req.ActorID, domain.AuditActionTransferReversed, details, err))
		return nil, err
	}

	details["reversalId"] = r.Transfer.ID
	details["replayed"] = r.Replayed
	audit := events.NewAudit(req.ActorID, domain.AuditActionTransferReversed, details, nil)
	res := &Result{Records: r.Records, Transfer: r.Transfer, Replayed: r.Replayed}
	if r.Replayed {
		s.events.Dispatch(ctx, nil, audit)
		return res, nil
	}
	s.events.Dispatch(ctx, events.Committed(s.owners(ctx), r.Records), audit)
	return res, nil
}

// runTransfer executes plan and emits its events. A failed plan emits one
// failed event per leg.
func (s *Service) runTransfer(ctx context.Context, actorID uuid.UUID, plan transfer.Plan) (*Result, error) {
	r, err := s.orchestrator.Execute(ctx, plan)
	details := map[string]any{
		"kind":           plan.Kind,
		"currency":       plan.Currency,
		"legs":           len(plan.Legs),
		"idempotencyKey": plan.IdempotencyKey,
	}
	if err != nil {
		owners := s.owners(ctx)
		evts := make([]domain.TransactionEvent, 0, len(plan.Legs))
		for _, l := range plan.Legs {
			amount := l.Amount
			if l.Direction == domain.DirectionDebit {
				amount = amount.Neg()
			}
			evts = append(evts, events.Failed(l.WalletID, owners(l.WalletID), l.Type, amount, plan.Currency))
		}
		s.events.Dispatch(ctx, evts, events.NewAudit(actorID, domain.AuditActionTransferExecuted, details, err))
		return nil, err
	}

	details["transferId"] = r.Transfer.ID
	details["amount"] = r.Transfer.Amount
	details["replayed"] = r.Replayed
	audit := events.NewAudit(actorID, domain.AuditActionTransferExecuted, details, nil)
	res := &Result{Records: r.Records, Transfer: r.Transfer, Replayed: r.Replayed}
	if r.Replayed {
		s.events.Dispatch(ctx, nil, audit)
		return res, nil
	}
	s.events.Dispatch(ctx, events.Committed(s.owners(ctx), r.Records), audit)
	return res, nil
}
