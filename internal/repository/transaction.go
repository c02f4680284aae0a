package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const transactionColumns = `id, seq, wallet_id, transfer_id, type, amount, currency, status,
	balance_before, balance_after, reference, payment_method, reversal_of, reversed_by,
	idempotency_key, metadata, created_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, rec *domain.TransactionRecord) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO wallet_transactions (
			id, wallet_id, transfer_id, type, amount, currency, status,
			balance_before, balance_after, reference, payment_method, reversal_of,
			idempotency_key, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING seq`,
		rec.ID, rec.WalletID, rec.TransferID, rec.Type, rec.Amount, rec.Currency, rec.Status,
		rec.BalanceBefore, rec.BalanceAfter, rec.Reference, rec.PaymentMethod, rec.ReversalOf,
		rec.IdempotencyKey, nullJSON(rec.Metadata), rec.CreatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("Create: %w", mapError(err))
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.TransactionRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1`, id,
	)
	rec, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks the record row so concurrent reversals serialize.
func (r *TransactionRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.TransactionRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1 FOR UPDATE`, id,
	)
	rec, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", mapError(err))
	}
	return rec, nil
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, q Querier, key string) (*domain.TransactionRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE idempotency_key = $1`, key,
	)
	rec, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return rec, nil
}

func (r *TransactionRepository) ListByTransfer(ctx context.Context, q Querier, transferID uuid.UUID) ([]domain.TransactionRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE transfer_id = $1 ORDER BY seq`, transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByTransfer: %w", err)
	}
	defer rows.Close()

	recs, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("ListByTransfer: %w", err)
	}
	return recs, nil
}

// ListByWallet returns one page of a wallet's history in ledger order and
// the total number of records matching filter.
func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, filter domain.HistoryFilter) ([]domain.TransactionRecord, int, error) {
	where, args := historyWhere(walletID, filter)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByWallet: count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE %s ORDER BY seq LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByWallet: %w", err)
	}
	defer rows.Close()

	recs, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByWallet: %w", err)
	}
	return recs, total, nil
}

// SumApplied totals the signed amounts of every record reflected in the
// wallet balance.
func (r *TransactionRepository) SumApplied(ctx context.Context, q Querier, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		WHERE wallet_id = $1 AND status IN ('completed', 'reversed')`, walletID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumApplied: %w", err)
	}
	return sum, nil
}

func (r *TransactionRepository) MarkReversed(ctx context.Context, tx *sql.Tx, id, reversedBy uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallet_transactions SET status = 'reversed', reversed_by = $1
		WHERE id = $2 AND status = 'completed'`,
		reversedBy, id,
	)
	if err != nil {
		return fmt.Errorf("MarkReversed: %w", mapError(err))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkReversed: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkReversed: %w", domain.ErrInvalidStateTransition)
	}
	return nil
}

func historyWhere(walletID uuid.UUID, f domain.HistoryFilter) (string, []any) {
	clauses := []string{"wallet_id = $1"}
	args := []any{walletID}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		clauses = append(clauses, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func collectTransactions(rows *sql.Rows) ([]domain.TransactionRecord, error) {
	var recs []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return recs, nil
}

func scanTransaction(s scanner) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var transferID, reversalOf, reversedBy uuid.NullUUID
	var metadata *[]byte

	err := s.Scan(
		&rec.ID, &rec.Seq, &rec.WalletID, &transferID, &rec.Type, &rec.Amount, &rec.Currency, &rec.Status,
		&rec.BalanceBefore, &rec.BalanceAfter, &rec.Reference, &rec.PaymentMethod, &reversalOf, &reversedBy,
		&rec.IdempotencyKey, &metadata, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if transferID.Valid {
		rec.TransferID = &transferID.UUID
	}
	if reversalOf.Valid {
		rec.ReversalOf = &reversalOf.UUID
	}
	if reversedBy.Valid {
		rec.ReversedBy = &reversedBy.UUID
	}
	if metadata != nil {
		rec.Metadata = *metadata
	}
	return &rec, nil
}
