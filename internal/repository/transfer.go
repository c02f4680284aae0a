package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const transferColumns = `id, kind, status, idempotency_key, currency, amount, reference,
	reversal_of, metadata, created_at, updated_at`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (
			id, kind, status, idempotency_key, currency, amount, reference,
			reversal_of, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Kind, t.Status, t.IdempotencyKey, t.Currency, t.Amount, t.Reference,
		t.ReversalOf, nullJSON(t.Metadata), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", mapError(err))
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Transfer, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrTransferNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrTransferNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", mapError(err))
	}
	return t, nil
}

func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, q Querier, key string) (*domain.Transfer, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrTransferNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfers SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", mapError(err))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrTransferNotFound)
	}
	return nil
}

func scanTransfer(s scanner) (*domain.Transfer, error) {
	var t domain.Transfer
	var reversalOf uuid.NullUUID
	var metadata *[]byte

	err := s.Scan(
		&t.ID, &t.Kind, &t.Status, &t.IdempotencyKey, &t.Currency, &t.Amount, &t.Reference,
		&reversalOf, &metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reversalOf.Valid {
		t.ReversalOf = &reversalOf.UUID
	}
	if metadata != nil {
		t.Metadata = *metadata
	}
	return &t, nil
}
