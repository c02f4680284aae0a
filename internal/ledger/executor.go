package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/validation"
)

var tracer = otel.Tracer("github.com/josh-kwaku/wallet-ledger/internal/ledger")

// Request describes one balance mutation. Amount is signed: negative
// amounts debit the wallet, positive amounts credit it.
type Request struct {
	Type           domain.TransactionType
	Amount         decimal.Decimal
	Currency       domain.Currency
	PaymentMethod  *string
	Reference      *string
	Metadata       json.RawMessage
	IdempotencyKey string
	TransferID     *uuid.UUID
	ReversalOf     *uuid.UUID
	// Compensating marks a request that undoes an earlier one. It bypasses
	// the per-type amount range and the disabled-wallet check.
	Compensating bool
}

// TransferKeyPrefix marks record keys derived from a transfer's key. Only
// records that belong to a transfer may carry it.
const TransferKeyPrefix = "transfer:"

// TransferLegKey derives the record key of leg i of the transfer keyed key.
func TransferLegKey(key string, i int) string {
	return fmt.Sprintf("%s%s#%d", TransferKeyPrefix, key, i)
}

func checkStandaloneKey(key string) error {
	if strings.HasPrefix(key, TransferKeyPrefix) {
		return fmt.Errorf("key %q uses the reserved %q prefix: %w", key, TransferKeyPrefix, domain.ErrInvalidRequest)
	}
	return nil
}

type ReverseRequest struct {
	IdempotencyKey string
	Reason         string
	Metadata       json.RawMessage
}

type Executor struct {
	store     *Store
	validator *validation.Validator
	ceilings  map[domain.WalletType]decimal.Decimal
}

// NewExecutor takes the per wallet type balance ceilings; a missing or zero
// ceiling leaves the type unbounded.
func NewExecutor(store *Store, validator *validation.Validator, ceilings map[domain.WalletType]decimal.Decimal) *Executor {
	c := make(map[domain.WalletType]decimal.Decimal, len(ceilings))
	for t, v := range ceilings {
		c[t] = v
	}
	return &Executor{store: store, validator: validator, ceilings: c}
}

// Execute applies req to one wallet as a single unit of work. A request
// whose idempotency key already produced a record returns that record
// without touching the balance.
func (e *Executor) Execute(ctx context.Context, walletID uuid.UUID, req Request) (*domain.TransactionRecord, error) {
	rec, _, err := e.Submit(ctx, walletID, req)
	return rec, err
}

// Submit is Execute that also reports whether the record was an idempotent
// replay.
func (e *Executor) Submit(ctx context.Context, walletID uuid.UUID, req Request) (*domain.TransactionRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "ledger.Execute", trace.WithAttributes(
		attribute.String("wallet.id", walletID.String()),
		attribute.String("transaction.type", string(req.Type)),
	))
	defer span.End()

	rec, replayed, err := e.execute(ctx, walletID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, false, fmt.Errorf("Execute: %w", err)
	}
	span.SetAttributes(attribute.Bool("transaction.replayed", replayed))
	return rec, replayed, nil
}

func (e *Executor) execute(ctx context.Context, walletID uuid.UUID, req Request) (*domain.TransactionRecord, bool, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer uow.Rollback()

	if err := uow.Lock(ctx, walletID); err != nil {
		return nil, false, err
	}

	rec, replayed, err := e.Apply(ctx, uow, walletID, req)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			uow.Rollback()
			rec, err := e.replay(ctx, walletID, req)
			return rec, err == nil, err
		}
		return nil, false, err
	}
	if replayed {
		return rec, true, nil
	}

	if err := uow.Commit(); err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// Apply runs the validation and balance rules for req inside a unit of work
// owned by the caller, which must already hold the wallet lock. The bool
// result reports an idempotent replay.
func (e *Executor) Apply(ctx context.Context, uow *UnitOfWork, walletID uuid.UUID, req Request) (*domain.TransactionRecord, bool, error) {
	if req.TransferID == nil {
		if err := checkStandaloneKey(req.IdempotencyKey); err != nil {
			return nil, false, fmt.Errorf("Apply: %w", err)
		}
	}
	if req.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(ctx, uow.Tx(), req.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("Apply: %w", err)
		}
		if existing != nil {
			if !sameRequest(existing, walletID, req) {
				return nil, false, fmt.Errorf("Apply: key %q: %w", req.IdempotencyKey, domain.ErrIdempotencyConflict)
			}
			logging.FromContext(ctx).Info("idempotent replay",
				"transaction_id", existing.ID,
				"wallet_id", walletID,
			)
			return existing, true, nil
		}
	}

	w, err := uow.Wallet(walletID)
	if err != nil {
		return nil, false, fmt.Errorf("Apply: %w", err)
	}
	if !w.IsActive() && !req.Compensating {
		return nil, false, fmt.Errorf("Apply: %s: %w", walletID, domain.ErrWalletDisabled)
	}

	err = e.validator.Validate(validation.Check{
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		WalletCurrency: w.Currency,
		PaymentMethod:  req.PaymentMethod,
		Compensating:   req.Compensating,
	})
	if err != nil {
		return nil, false, fmt.Errorf("Apply: %w", err)
	}

	newBalance := w.Balance.Add(req.Amount)
	if newBalance.IsNegative() {
		return nil, false, fmt.Errorf("Apply: balance %s, debit %s: %w", w.Balance, req.Amount.Neg(), domain.ErrInsufficientFunds)
	}
	if req.Amount.IsPositive() {
		if ceiling := e.ceilings[w.Type]; ceiling.IsPositive() && newBalance.GreaterThan(ceiling) {
			return nil, false, fmt.Errorf("Apply: %s would exceed %s ceiling %s: %w", newBalance, w.Type, ceiling, domain.ErrBalanceCeilingExceeded)
		}
	}

	rec := &domain.TransactionRecord{
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
		Metadata:      req.Metadata,
		TransferID:    req.TransferID,
		ReversalOf:    req.ReversalOf,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		rec.IdempotencyKey = &key
	}

	if err := e.store.AppendTransaction(ctx, uow, walletID, rec); err != nil {
		return nil, false, fmt.Errorf("Apply: %w", err)
	}
	return rec, false, nil
}

// Reverse cancels one completed record with a compensating record of the
// opposite sign and moves the original to reversed. Records that belong to
// a transfer are reversed through the transfer instead.
func (e *Executor) Reverse(ctx context.Context, recordID uuid.UUID, req ReverseRequest) (*domain.TransactionRecord, error) {
	rec, _, err := e.SubmitReversal(ctx, recordID, req)
	return rec, err
}

// SubmitReversal is Reverse that also reports an idempotent replay.
func (e *Executor) SubmitReversal(ctx context.Context, recordID uuid.UUID, req ReverseRequest) (*domain.TransactionRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reverse", trace.WithAttributes(
		attribute.String("transaction.id", recordID.String()),
	))
	defer span.End()

	rec, replayed, err := e.reverse(ctx, recordID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, false, fmt.Errorf("Reverse: %w", err)
	}
	return rec, replayed, nil
}

func (e *Executor) reverse(ctx context.Context, recordID uuid.UUID, req ReverseRequest) (*domain.TransactionRecord, bool, error) {
	if err := checkStandaloneKey(req.IdempotencyKey); err != nil {
		return nil, false, err
	}
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer uow.Rollback()

	orig, err := e.store.LockTransaction(ctx, uow, recordID)
	if err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(ctx, uow.Tx(), req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if existing.ReversalOf == nil || *existing.ReversalOf != recordID {
				return nil, false, fmt.Errorf("key %q: %w", req.IdempotencyKey, domain.ErrIdempotencyConflict)
			}
			return existing, true, nil
		}
	}

	if orig.TransferID != nil {
		return nil, false, fmt.Errorf("record %s belongs to transfer %s: %w", orig.ID, *orig.TransferID, domain.ErrInvalidRequest)
	}
	if orig.ReversalOf != nil || !orig.Status.CanTransitionTo(domain.TransactionStatusReversed) {
		return nil, false, fmt.Errorf("record %s is %s: %w", orig.ID, orig.Status, domain.ErrInvalidStateTransition)
	}

	if err := uow.Lock(ctx, orig.WalletID); err != nil {
		return nil, false, err
	}

	metadata, err := MetadataWithReason(req.Metadata, req.Reason)
	if err != nil {
		return nil, false, err
	}

	comp, _, err := e.Apply(ctx, uow, orig.WalletID, Request{
		Type:           domain.TransactionTypeReversal,
		Amount:         orig.Amount.Neg(),
		Currency:       orig.Currency,
		Reference:      orig.Reference,
		Metadata:       metadata,
		IdempotencyKey: req.IdempotencyKey,
		ReversalOf:     &orig.ID,
		Compensating:   true,
	})
	if err != nil {
		return nil, false, err
	}

	if err := e.store.MarkReversed(ctx, uow, orig.ID, comp.ID); err != nil {
		return nil, false, err
	}
	if err := uow.Commit(); err != nil {
		return nil, false, err
	}
	return comp, false, nil
}

func (e *Executor) replay(ctx context.Context, walletID uuid.UUID, req Request) (*domain.TransactionRecord, error) {
	existing, err := e.store.FindByIdempotencyKey(ctx, e.store.DB(), req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrDuplicateIdempotencyKey
	}
	if !sameRequest(existing, walletID, req) {
		return nil, fmt.Errorf("key %q: %w", req.IdempotencyKey, domain.ErrIdempotencyConflict)
	}
	return existing, nil
}

func sameRequest(rec *domain.TransactionRecord, walletID uuid.UUID, req Request) bool {
	return rec.WalletID == walletID &&
		rec.Type == req.Type &&
		rec.Currency == req.Currency &&
		rec.Amount.Equal(req.Amount)
}

// MetadataWithReason merges a reason into caller supplied metadata.
func MetadataWithReason(base json.RawMessage, reason string) (json.RawMessage, error) {
	fields := map[string]any{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("metadata: %w", domain.ErrInvalidRequest)
		}
	}
	if reason != "" {
		fields["reason"] = reason
	}
	if len(fields) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return out, nil
}
