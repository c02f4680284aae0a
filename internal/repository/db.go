package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// Querier is satisfied by both *sql.DB and *sql.Tx, so reads can run inside
// or outside a unit of work.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	pqUniqueViolation   = "23505"
	pqCheckViolation    = "23514"
	pqLockNotAvailable  = "55P03"
	pqDeadlockDetected  = "40P01"
	pqSerializationFail = "40001"
)

// mapError translates postgres failures into engine errors. Errors it does
// not recognise are returned unchanged.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqLockNotAvailable:
		return fmt.Errorf("%s: %w", pqErr.Message, domain.ErrLockTimeout)
	case pqDeadlockDetected, pqSerializationFail:
		return fmt.Errorf("%s: %w", pqErr.Message, domain.ErrVersionConflict)
	case pqUniqueViolation:
		switch pqErr.Constraint {
		case "wallet_transactions_idempotency_key_key", "transfers_idempotency_key_key":
			return fmt.Errorf("%s: %w", pqErr.Constraint, domain.ErrDuplicateIdempotencyKey)
		case "wallets_owner_type_key":
			return fmt.Errorf("%s: %w", pqErr.Constraint, domain.ErrWalletExists)
		}
	case pqCheckViolation:
		switch pqErr.Constraint {
		case "wallets_balance_non_negative", "wallet_transactions_balance_after_check":
			return fmt.Errorf("%s: %w", pqErr.Constraint, domain.ErrInsufficientFunds)
		}
	}
	return err
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
