package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

var tracer = otel.Tracer("github.com/josh-kwaku/wallet-ledger/internal/transfer")

// Leg is one wallet's side of a transfer. Amount is always positive; the
// direction gives the sign.
type Leg struct {
	WalletID      uuid.UUID
	Direction     domain.Direction
	Amount        decimal.Decimal
	Type          domain.TransactionType
	PaymentMethod *string
	Reference     *string
	Metadata      json.RawMessage
}

func (l Leg) signed() decimal.Decimal {
	if l.Direction == domain.DirectionDebit {
		return l.Amount.Neg()
	}
	return l.Amount
}

type Plan struct {
	Kind           domain.TransferKind
	Currency       domain.Currency
	Reference      *string
	IdempotencyKey string
	Metadata       json.RawMessage
	Legs           []Leg
}

type Result struct {
	Transfer *domain.Transfer
	Records  []domain.TransactionRecord
	Replayed bool
}

type ReverseRequest struct {
	IdempotencyKey string
	Reason         string
	// Kind is refund or reversal; empty means reversal.
	Kind     domain.TransferKind
	Metadata json.RawMessage
}

type transferRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Transfer, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error)
	GetByIdempotencyKey(ctx context.Context, q repository.Querier, key string) (*domain.Transfer, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus) error
}

// Orchestrator applies multi-wallet transfers as one unit of work: every
// wallet is locked up front in canonical order and either every leg is
// committed or none is.
type Orchestrator struct {
	store     *ledger.Store
	executor  *ledger.Executor
	transfers transferRepo
}

func NewOrchestrator(store *ledger.Store, executor *ledger.Executor, transfers transferRepo) *Orchestrator {
	return &Orchestrator{store: store, executor: executor, transfers: transfers}
}

func (o *Orchestrator) Execute(ctx context.Context, plan Plan) (*Result, error) {
	ctx, span := tracer.Start(ctx, "transfer.Execute", trace.WithAttributes(
		attribute.String("transfer.kind", string(plan.Kind)),
		attribute.Int("transfer.legs", len(plan.Legs)),
	))
	defer span.End()

	res, err := o.execute(ctx, plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, fmt.Errorf("Execute: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, plan Plan) (*Result, error) {
	total, err := validatePlan(plan)
	if err != nil {
		return nil, err
	}
	legs := debitsFirst(plan.Legs)

	uow, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	ids := make([]uuid.UUID, len(legs))
	for i, l := range legs {
		ids[i] = l.WalletID
	}
	if err := uow.Lock(ctx, ids...); err != nil {
		return nil, err
	}

	if res, err := o.replay(ctx, uow.Tx(), plan, total); res != nil || err != nil {
		return res, err
	}

	t := &domain.Transfer{
		ID:             uuid.New(),
		Kind:           plan.Kind,
		Status:         domain.TransferStatusCompleted,
		IdempotencyKey: plan.IdempotencyKey,
		Currency:       plan.Currency,
		Amount:         total,
		Reference:      plan.Reference,
		Metadata:       plan.Metadata,
		CreatedAt:      uow.Now(),
		UpdatedAt:      uow.Now(),
	}
	if err := o.transfers.Create(ctx, uow.Tx(), t); err != nil {
		return o.afterRace(ctx, uow, plan, total, err)
	}

	for i, l := range legs {
		_, replayed, err := o.executor.Apply(ctx, uow, l.WalletID, ledger.Request{
			Type:           l.Type,
			Amount:         l.signed(),
			Currency:       plan.Currency,
			PaymentMethod:  l.PaymentMethod,
			Reference:      firstNonNil(l.Reference, plan.Reference),
			Metadata:       l.Metadata,
			IdempotencyKey: ledger.TransferLegKey(plan.IdempotencyKey, i),
			TransferID:     &t.ID,
		})
		if err != nil {
			logging.FromContext(ctx).Warn("transfer leg failed, rolling back",
				"kind", plan.Kind,
				"leg", i,
				"wallet_id", l.WalletID,
				"error", err,
			)
			return nil, fmt.Errorf("leg %d (%s %s): %w", i, l.Direction, l.WalletID, err)
		}
		if replayed {
			return nil, fmt.Errorf("leg %d key already used: %w", i, domain.ErrIdempotencyConflict)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("transfer committed",
		"transfer_id", t.ID,
		"kind", t.Kind,
		"amount", t.Amount.StringFixed(domain.MoneyScale),
		"legs", len(legs),
	)
	return &Result{Transfer: t, Records: uow.Applied()}, nil
}

// Reverse undoes a committed transfer. Each applied leg gets a compensating
// record of the opposite sign, original credits are taken back before
// original debits are returned, and the transfer moves to reversed.
func (o *Orchestrator) Reverse(ctx context.Context, transferID uuid.UUID, req ReverseRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "transfer.Reverse", trace.WithAttributes(
		attribute.String("transfer.id", transferID.String()),
	))
	defer span.End()

	res, err := o.reverse(ctx, transferID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, fmt.Errorf("Reverse: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) reverse(ctx context.Context, transferID uuid.UUID, req ReverseRequest) (*Result, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.TransferKindReversal
	}
	if kind != domain.TransferKindReversal && kind != domain.TransferKindRefund {
		return nil, fmt.Errorf("reverse kind %q: %w", kind, domain.ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("missing idempotency key: %w", domain.ErrInvalidRequest)
	}

	uow, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	orig, err := o.transfers.GetForUpdate(ctx, uow.Tx(), transferID)
	if err != nil {
		return nil, err
	}

	if res, err := o.replayReversal(ctx, uow.Tx(), transferID, req.IdempotencyKey); res != nil || err != nil {
		return res, err
	}

	if orig.ReversalOf != nil || orig.Status != domain.TransferStatusCompleted {
		return nil, fmt.Errorf("transfer %s is %s: %w", orig.ID, orig.Status, domain.ErrInvalidStateTransition)
	}

	recs, err := o.store.TransferRecords(ctx, uow.Tx(), orig.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(recs))
	for _, r := range recs {
		if r.Status != domain.TransactionStatusCompleted {
			return nil, fmt.Errorf("record %s is %s: %w", r.ID, r.Status, domain.ErrInvalidStateTransition)
		}
		ids = append(ids, r.WalletID)
	}
	if err := uow.Lock(ctx, ids...); err != nil {
		return nil, err
	}

	metadata, err := ledger.MetadataWithReason(req.Metadata, req.Reason)
	if err != nil {
		return nil, err
	}
	rev := &domain.Transfer{
		ID:             uuid.New(),
		Kind:           kind,
		Status:         domain.TransferStatusCompleted,
		IdempotencyKey: req.IdempotencyKey,
		Currency:       orig.Currency,
		Amount:         orig.Amount,
		Reference:      orig.Reference,
		ReversalOf:     &orig.ID,
		Metadata:       metadata,
		CreatedAt:      uow.Now(),
		UpdatedAt:      uow.Now(),
	}
	if err := o.transfers.Create(ctx, uow.Tx(), rev); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			uow.Rollback()
			return o.replayReversal(ctx, o.store.DB(), transferID, req.IdempotencyKey)
		}
		return nil, err
	}

	txType := domain.TransactionTypeReversal
	if kind == domain.TransferKindRefund {
		txType = domain.TransactionTypeRefund
	}

	// Original credits carry positive amounts; take those back first.
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Amount.IsPositive() && !recs[j].Amount.IsPositive()
	})
	for i, r := range recs {
		comp, _, err := o.executor.Apply(ctx, uow, r.WalletID, ledger.Request{
			Type:           txType,
			Amount:         r.Amount.Neg(),
			Currency:       r.Currency,
			Reference:      r.Reference,
			Metadata:       metadata,
			IdempotencyKey: ledger.TransferLegKey(req.IdempotencyKey, i),
			TransferID:     &rev.ID,
			ReversalOf:     &r.ID,
			Compensating:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("compensate record %s: %w", r.ID, err)
		}
		if err := o.store.MarkReversed(ctx, uow, r.ID, comp.ID); err != nil {
			return nil, err
		}
	}

	if err := o.transfers.UpdateStatus(ctx, uow.Tx(), orig.ID, domain.TransferStatusReversed); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("transfer reversed",
		"transfer_id", orig.ID,
		"reversal_id", rev.ID,
		"kind", kind,
		"records", len(recs),
	)
	return &Result{Transfer: rev, Records: uow.Applied()}, nil
}

// GetTransfer returns a transfer and its records.
func (o *Orchestrator) GetTransfer(ctx context.Context, id uuid.UUID) (*Result, error) {
	t, err := o.transfers.GetByID(ctx, o.store.DB(), id)
	if err != nil {
		return nil, fmt.Errorf("GetTransfer: %w", err)
	}
	recs, err := o.store.TransferRecords(ctx, o.store.DB(), id)
	if err != nil {
		return nil, fmt.Errorf("GetTransfer: %w", err)
	}
	return &Result{Transfer: t, Records: recs}, nil
}

func (o *Orchestrator) replay(ctx context.Context, q repository.Querier, plan Plan, total decimal.Decimal) (*Result, error) {
	t, err := o.transfers.GetByIdempotencyKey(ctx, q, plan.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrTransferNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if t.Kind != plan.Kind || t.Currency != plan.Currency || !t.Amount.Equal(total) {
		return nil, fmt.Errorf("key %q: %w", plan.IdempotencyKey, domain.ErrIdempotencyConflict)
	}
	recs, err := o.store.TransferRecords(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("idempotent transfer replay", "transfer_id", t.ID)
	return &Result{Transfer: t, Records: recs, Replayed: true}, nil
}

func (o *Orchestrator) replayReversal(ctx context.Context, q repository.Querier, transferID uuid.UUID, key string) (*Result, error) {
	t, err := o.transfers.GetByIdempotencyKey(ctx, q, key)
	if err != nil {
		if errors.Is(err, domain.ErrTransferNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if t.ReversalOf == nil || *t.ReversalOf != transferID {
		return nil, fmt.Errorf("key %q: %w", key, domain.ErrIdempotencyConflict)
	}
	recs, err := o.store.TransferRecords(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Transfer: t, Records: recs, Replayed: true}, nil
}

// afterRace handles a transfer insert that lost a race on its idempotency
// key by returning the winner's result.
func (o *Orchestrator) afterRace(ctx context.Context, uow *ledger.UnitOfWork, plan Plan, total decimal.Decimal, err error) (*Result, error) {
	if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return nil, err
	}
	uow.Rollback()
	res, rerr := o.replay(ctx, o.store.DB(), plan, total)
	if rerr != nil {
		return nil, rerr
	}
	if res == nil {
		return nil, err
	}
	return res, nil
}

// validatePlan returns the transfer amount, the sum of the debit legs.
func validatePlan(plan Plan) (decimal.Decimal, error) {
	if plan.IdempotencyKey == "" {
		return decimal.Zero, fmt.Errorf("missing idempotency key: %w", domain.ErrInvalidRequest)
	}
	if len(plan.Legs) == 0 {
		return decimal.Zero, fmt.Errorf("no legs: %w", domain.ErrInvalidRequest)
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, l := range plan.Legs {
		if l.WalletID == uuid.Nil {
			return decimal.Zero, fmt.Errorf("leg %d: missing wallet: %w", i, domain.ErrInvalidRequest)
		}
		if !l.Amount.IsPositive() {
			return decimal.Zero, fmt.Errorf("leg %d: amount %s: %w", i, l.Amount, domain.ErrInvalidAmount)
		}
		switch l.Direction {
		case domain.DirectionDebit:
			debits = debits.Add(l.Amount)
		case domain.DirectionCredit:
			credits = credits.Add(l.Amount)
		default:
			return decimal.Zero, fmt.Errorf("leg %d: direction %q: %w", i, l.Direction, domain.ErrInvalidRequest)
		}
	}
	if !debits.Equal(credits) {
		return decimal.Zero, fmt.Errorf("debits %s, credits %s: %w", debits, credits, domain.ErrUnbalancedTransfer)
	}
	return debits, nil
}

// debitsFirst returns legs with every debit ahead of every credit,
// preserving the caller's order within each group.
func debitsFirst(legs []Leg) []Leg {
	out := make([]Leg, len(legs))
	copy(out, legs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Direction == domain.DirectionDebit && out[j].Direction != domain.DirectionDebit
	})
	return out
}

func firstNonNil(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
