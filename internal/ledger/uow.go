package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// UnitOfWork is one all-or-nothing storage boundary. Every wallet it will
// touch is locked once, up front, in ascending id order; records appended
// through it become visible together on Commit or not at all.
type UnitOfWork struct {
	tx      *sql.Tx
	wallets walletLocker
	now     time.Time
	locked  map[uuid.UUID]*domain.Wallet
	applied []domain.TransactionRecord
	done    bool
}

type walletLocker interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
}

func (u *UnitOfWork) Tx() *sql.Tx { return u.tx }

// Now is the timestamp shared by every record written in this unit. It is
// taken once the wallet locks are held and is zero before Lock.
func (u *UnitOfWork) Now() time.Time { return u.now }

// Lock acquires row locks on every wallet in ids. It may be called once.
func (u *UnitOfWork) Lock(ctx context.Context, ids ...uuid.UUID) error {
	if u.locked != nil {
		return fmt.Errorf("Lock: wallets already locked: %w", domain.ErrInvalidRequest)
	}
	if len(ids) == 0 {
		return fmt.Errorf("Lock: no wallets: %w", domain.ErrInvalidRequest)
	}

	sorted := canonicalOrder(ids)
	locked := make(map[uuid.UUID]*domain.Wallet, len(sorted))
	for _, id := range sorted {
		w, err := u.wallets.GetForUpdate(ctx, u.tx, id)
		if err != nil {
			return fmt.Errorf("Lock: %w", err)
		}
		locked[id] = w
	}
	u.locked = locked
	u.now = time.Now().UTC().Truncate(time.Microsecond)
	return nil
}

// Wallet returns the locked snapshot of id, kept current as records are
// appended.
func (u *UnitOfWork) Wallet(id uuid.UUID) (*domain.Wallet, error) {
	w, ok := u.locked[id]
	if !ok {
		return nil, fmt.Errorf("Wallet: %s not locked in this unit of work: %w", id, domain.ErrInvalidRequest)
	}
	return w, nil
}

// Applied returns copies of the records appended so far.
func (u *UnitOfWork) Applied() []domain.TransactionRecord {
	out := make([]domain.TransactionRecord, len(u.applied))
	copy(out, u.applied)
	return out
}

func (u *UnitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("Commit: %w", sql.ErrTxDone)
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

// Rollback is safe to defer; it is a no-op after Commit.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("Rollback: %w", err)
	}
	return nil
}

func canonicalOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	sorted := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	return sorted
}
