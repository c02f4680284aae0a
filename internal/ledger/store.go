package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetBalance(ctx context.Context, q repository.Querier, id uuid.UUID) (decimal.Decimal, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64) error
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, rec *domain.TransactionRecord) error
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.TransactionRecord, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.TransactionRecord, error)
	GetByIdempotencyKey(ctx context.Context, q repository.Querier, key string) (*domain.TransactionRecord, error)
	ListByTransfer(ctx context.Context, q repository.Querier, transferID uuid.UUID) ([]domain.TransactionRecord, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, filter domain.HistoryFilter) ([]domain.TransactionRecord, int, error)
	SumApplied(ctx context.Context, q repository.Querier, walletID uuid.UUID) (decimal.Decimal, error)
	MarkReversed(ctx context.Context, tx *sql.Tx, id, reversedBy uuid.UUID) error
}

// Store owns wallet balances and the append-only transaction record.
type Store struct {
	db           *sql.DB
	wallets      walletRepo
	transactions transactionRepo
	lockTimeout  time.Duration
}

func NewStore(db *sql.DB, wallets walletRepo, transactions transactionRepo, lockTimeout time.Duration) *Store {
	return &Store{
		db:           db,
		wallets:      wallets,
		transactions: transactions,
		lockTimeout:  lockTimeout,
	}
}

// Begin opens a read-committed unit of work whose row-lock waits are bounded
// by the store's lock timeout.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}

	if s.lockTimeout > 0 {
		_, err := tx.ExecContext(ctx,
			`SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()),
		)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("Begin: lock timeout: %w", err)
		}
	}

	return &UnitOfWork{tx: tx, wallets: s.wallets}, nil
}

func (s *Store) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	balance, err := s.wallets.GetBalance(ctx, s.db, walletID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", err)
	}
	return balance, nil
}

// AppendTransaction is the only write path to a balance. The wallet must be
// locked in uow; the record is inserted as completed and the balance moved
// in the same SQL transaction.
func (s *Store) AppendTransaction(ctx context.Context, uow *UnitOfWork, walletID uuid.UUID, rec *domain.TransactionRecord) error {
	w, err := uow.Wallet(walletID)
	if err != nil {
		return fmt.Errorf("AppendTransaction: %w", err)
	}
	if rec.Currency != w.Currency {
		return fmt.Errorf("AppendTransaction: %w", domain.ErrInvalidCurrency)
	}

	after := w.Balance.Add(rec.Amount)
	if after.IsNegative() {
		return fmt.Errorf("AppendTransaction: %w", domain.ErrInsufficientFunds)
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = uow.now
	}
	rec.WalletID = walletID
	rec.Status = domain.TransactionStatusCompleted
	rec.BalanceBefore = w.Balance
	rec.BalanceAfter = after

	if err := s.transactions.Create(ctx, uow.tx, rec); err != nil {
		return fmt.Errorf("AppendTransaction: %w", err)
	}
	if err := s.wallets.UpdateBalance(ctx, uow.tx, walletID, after, w.Version+1); err != nil {
		return fmt.Errorf("AppendTransaction: %w", err)
	}

	w.Balance = after
	w.Version++
	uow.applied = append(uow.applied, *rec)
	return nil
}

// GetHistory returns a page of the wallet's records in creation order along
// with the total matching filter.
func (s *Store) GetHistory(ctx context.Context, walletID uuid.UUID, filter domain.HistoryFilter) ([]domain.TransactionRecord, int, error) {
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		return nil, 0, fmt.Errorf("GetHistory: %w", err)
	}
	if filter.Offset < 0 {
		return nil, 0, fmt.Errorf("GetHistory: negative offset: %w", domain.ErrInvalidRequest)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	filter.Limit = min(filter.Limit, maxHistoryLimit)

	recs, total, err := s.transactions.ListByWallet(ctx, walletID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("GetHistory: %w", err)
	}
	return recs, total, nil
}

// GetTransaction reads a single record outside any unit of work.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	rec, err := s.transactions.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return rec, nil
}

// FindByIdempotencyKey returns (nil, nil) when no record carries key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, q repository.Querier, key string) (*domain.TransactionRecord, error) {
	rec, err := s.transactions.GetByIdempotencyKey(ctx, q, key)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindByIdempotencyKey: %w", err)
	}
	return rec, nil
}

// LockTransaction reads a record and holds its row lock until uow ends.
func (s *Store) LockTransaction(ctx context.Context, uow *UnitOfWork, id uuid.UUID) (*domain.TransactionRecord, error) {
	rec, err := s.transactions.GetForUpdate(ctx, uow.tx, id)
	if err != nil {
		return nil, fmt.Errorf("LockTransaction: %w", err)
	}
	return rec, nil
}

func (s *Store) TransferRecords(ctx context.Context, q repository.Querier, transferID uuid.UUID) ([]domain.TransactionRecord, error) {
	recs, err := s.transactions.ListByTransfer(ctx, q, transferID)
	if err != nil {
		return nil, fmt.Errorf("TransferRecords: %w", err)
	}
	return recs, nil
}

// MarkReversed moves a completed record to reversed, linking the
// compensating record that cancels it.
func (s *Store) MarkReversed(ctx context.Context, uow *UnitOfWork, id, reversedBy uuid.UUID) error {
	if err := s.transactions.MarkReversed(ctx, uow.tx, id, reversedBy); err != nil {
		return fmt.Errorf("MarkReversed: %w", err)
	}
	return nil
}

// DB exposes the pool for reads that run outside a unit of work.
func (s *Store) DB() *sql.DB { return s.db }

// Reconciliation compares a stored balance with the sum of its ledger.
type Reconciliation struct {
	WalletID  uuid.UUID
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
}

func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.LedgerSum)
}

func (s *Store) Reconcile(ctx context.Context, walletID uuid.UUID) (*Reconciliation, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("Reconcile: begin tx: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.wallets.GetBalance(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	sum, err := s.transactions.SumApplied(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	r := Reconciliation{WalletID: walletID, Balance: balance, LedgerSum: sum}
	return &r, nil
}
