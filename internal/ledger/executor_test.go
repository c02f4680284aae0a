package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

var dec = testutil.Dec

func setupExecutor(t *testing.T, db *sql.DB, lockTimeout time.Duration) (*ledger.Store, *ledger.Executor) {
	t.Helper()
	store := ledger.NewStore(db,
		repository.NewWalletRepository(db),
		repository.NewTransactionRepository(db),
		lockTimeout,
	)
	exec := ledger.NewExecutor(store, testutil.Validator(t), map[domain.WalletType]decimal.Decimal{
		domain.WalletTypeMain: dec("1000.00"),
	})
	return store, exec
}

func withdrawal(amount, key string) ledger.Request {
	method := "bank_transfer"
	return ledger.Request{
		Type:           domain.TransactionTypeWithdrawal,
		Amount:         dec(amount).Neg(),
		Currency:       domain.CurrencyUSD,
		PaymentMethod:  &method,
		IdempotencyKey: key,
	}
}

func TestExecute_Withdrawal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	rec, err := exec.Execute(ctx, w.ID, withdrawal("30.00", uuid.NewString()))
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	assert.Equal(t, domain.TransactionTypeWithdrawal, rec.Type)
	assert.True(t, rec.Amount.Equal(dec("-30.00")))
	assert.True(t, rec.BalanceBefore.Equal(dec("100.00")))
	assert.True(t, rec.BalanceAfter.Equal(dec("70.00")))

	balance, err := store.GetBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("70.00")), "got %s", balance)
	assert.Equal(t, 2, testutil.CountTransactions(t, db, w.ID))

	r, err := store.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, r.Balanced(), "balance %s ledger %s", r.Balance, r.LedgerSum)
}

func TestExecute_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "20.00")

	_, err := exec.Execute(context.Background(), w.ID, withdrawal("50.00", uuid.NewString()))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "INSUFFICIENT_FUNDS", domain.CodeOf(err))

	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("20.00")))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, w.ID), "only the opening deposit")
}

func TestExecute_BalanceCeiling(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "950.00")
	method := "card"

	_, err := exec.Execute(context.Background(), w.ID, ledger.Request{
		Type:          domain.TransactionTypeDeposit,
		Amount:        dec("60.00"),
		Currency:      domain.CurrencyUSD,
		PaymentMethod: &method,
	})
	require.ErrorIs(t, err, domain.ErrBalanceCeilingExceeded)
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("950.00")))

	_, err = exec.Execute(context.Background(), w.ID, ledger.Request{
		Type:          domain.TransactionTypeDeposit,
		Amount:        dec("50.00"),
		Currency:      domain.CurrencyUSD,
		PaymentMethod: &method,
	})
	require.NoError(t, err, "reaching the ceiling exactly is allowed")
}

func TestExecute_ValidationFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	usd := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	tests := []struct {
		name string
		req  ledger.Request
		want error
	}{
		{
			name: "currency mismatch",
			req:  ledger.Request{Type: domain.TransactionTypeTip, Amount: dec("-5.00"), Currency: domain.CurrencyEUR},
			want: domain.ErrInvalidCurrency,
		},
		{
			name: "unsupported currency",
			req:  ledger.Request{Type: domain.TransactionTypeTip, Amount: dec("-5.00"), Currency: domain.CurrencyKES},
			want: domain.ErrInvalidCurrency,
		},
		{
			name: "above tip maximum",
			req:  ledger.Request{Type: domain.TransactionTypeTip, Amount: dec("-501.00"), Currency: domain.CurrencyUSD},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "sub-cent amount",
			req:  ledger.Request{Type: domain.TransactionTypeTip, Amount: dec("-5.001"), Currency: domain.CurrencyUSD},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "withdrawal without method",
			req:  ledger.Request{Type: domain.TransactionTypeWithdrawal, Amount: dec("-5.00"), Currency: domain.CurrencyUSD},
			want: domain.ErrInvalidPaymentMethod,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Execute(ctx, usd.ID, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.True(t, testutil.GetWalletBalance(t, db, usd.ID).Equal(dec("100.00")))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, usd.ID))
}

func TestExecute_UnknownAndDisabledWallet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	_, err := exec.Execute(ctx, uuid.New(), withdrawal("1.00", ""))
	require.ErrorIs(t, err, domain.ErrWalletNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "10.00")
	testutil.DisableWallet(t, db, w.ID)

	_, err = exec.Execute(ctx, w.ID, withdrawal("1.00", ""))
	require.ErrorIs(t, err, domain.ErrWalletDisabled)
}

func TestExecute_IdempotentReplay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")
	key := uuid.NewString()

	first, err := exec.Execute(ctx, w.ID, withdrawal("30.00", key))
	require.NoError(t, err)
	second, err := exec.Execute(ctx, w.ID, withdrawal("30.00", key))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	third, replayed, err := exec.Submit(ctx, w.ID, withdrawal("30.00", key))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, third.ID)

	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("70.00")))
	assert.Equal(t, 2, testutil.CountTransactions(t, db, w.ID))

	_, err = exec.Execute(ctx, w.ID, withdrawal("31.00", key))
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestExecute_ReservedKeyPrefix(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	_, err := exec.Execute(ctx, w.ID, withdrawal("10.00", ledger.TransferKeyPrefix+"abc#0"))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	orig, err := exec.Execute(ctx, w.ID, withdrawal("10.00", "abc#0"))
	require.NoError(t, err)

	_, err = exec.Reverse(ctx, orig.ID, ledger.ReverseRequest{IdempotencyKey: ledger.TransferKeyPrefix + "rev"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("90.00")))
	assert.Equal(t, 2, testutil.CountTransactions(t, db, w.ID))
}

func TestExecute_ConcurrentSameKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 5*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")
	key := uuid.NewString()

	const n = 5
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := exec.Execute(ctx, w.ID, withdrawal("10.00", key))
			if assert.NoError(t, err) {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("90.00")))
}

func TestExecute_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 5*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(ctx, w.ID, withdrawal("70.00", uuid.NewString()))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failures++
		}
	}

	assert.Equal(t, 1, successes, "exactly one withdrawal should succeed")
	assert.Equal(t, 1, failures, "exactly one withdrawal should fail")
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("30.00")))
	assert.True(t, testutil.LedgerSum(t, db, w.ID).Equal(dec("30.00")))
}

func TestGetHistory_ChainsWhenUnitBeganBeforeCompetitor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	late, err := store.Begin(ctx)
	require.NoError(t, err)
	defer late.Rollback()

	time.Sleep(20 * time.Millisecond)
	_, err = exec.Execute(ctx, w.ID, withdrawal("30.00", uuid.NewString()))
	require.NoError(t, err)

	require.NoError(t, late.Lock(ctx, w.ID))
	rec, _, err := exec.Apply(ctx, late, w.ID, withdrawal("20.00", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, late.Commit())
	assert.True(t, rec.BalanceBefore.Equal(dec("70.00")))

	recs, _, err := store.GetHistory(ctx, w.ID, domain.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, rec.ID, recs[2].ID)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].BalanceBefore.Equal(recs[i-1].BalanceAfter), "record %d does not chain", i)
		assert.False(t, recs[i].CreatedAt.Before(recs[i-1].CreatedAt), "record %d is stamped before its predecessor", i)
	}
}

func TestGetHistory_ChainsAcrossLockWait(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	holder, err := store.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback()
	require.NoError(t, holder.Lock(ctx, w.ID))

	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(ctx, w.ID, withdrawal("10.00", uuid.NewString()))
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	_, _, err = exec.Apply(ctx, holder, w.ID, withdrawal("25.00", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, holder.Commit())
	require.NoError(t, <-done)

	recs, _, err := store.GetHistory(ctx, w.ID, domain.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].BalanceBefore.Equal(recs[i-1].BalanceAfter), "record %d does not chain", i)
	}
	assert.True(t, recs[2].BalanceAfter.Equal(dec("65.00")))
}

func TestExecute_LockTimeout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 200*time.Millisecond)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.ExecContext(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, w.ID)
	require.NoError(t, err)

	_, err = exec.Execute(ctx, w.ID, withdrawal("10.00", uuid.NewString()))
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.True(t, domain.IsRetryable(err))

	require.NoError(t, holder.Rollback())
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("100.00")))
}

func TestExecute_CanceledContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, w.ID, withdrawal("10.00", uuid.NewString()))
	require.Error(t, err)
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("100.00")))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, w.ID))
}

func TestReverse_SingleRecord(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")
	orig, err := exec.Execute(ctx, w.ID, withdrawal("30.00", uuid.NewString()))
	require.NoError(t, err)

	key := uuid.NewString()
	comp, err := exec.Reverse(ctx, orig.ID, ledger.ReverseRequest{IdempotencyKey: key, Reason: "payout bounced"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeReversal, comp.Type)
	assert.True(t, comp.Amount.Equal(dec("30.00")))
	require.NotNil(t, comp.ReversalOf)
	assert.Equal(t, orig.ID, *comp.ReversalOf)
	assert.JSONEq(t, `{"reason":"payout bounced"}`, string(comp.Metadata))

	reread, err := store.GetTransaction(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReversed, reread.Status)
	require.NotNil(t, reread.ReversedBy)
	assert.Equal(t, comp.ID, *reread.ReversedBy)

	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("100.00")))
	r, err := store.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, r.Balanced())

	again, err := exec.Reverse(ctx, orig.ID, ledger.ReverseRequest{IdempotencyKey: key})
	require.NoError(t, err)
	assert.Equal(t, comp.ID, again.ID)

	_, err = exec.Reverse(ctx, orig.ID, ledger.ReverseRequest{IdempotencyKey: uuid.NewString()})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = exec.Reverse(ctx, comp.ID, ledger.ReverseRequest{IdempotencyKey: uuid.NewString()})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestReverse_CreditNeedsFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "0")
	method := "card"
	dep, err := exec.Execute(ctx, w.ID, ledger.Request{
		Type: domain.TransactionTypeDeposit, Amount: dec("40.00"), Currency: domain.CurrencyUSD, PaymentMethod: &method,
	})
	require.NoError(t, err)
	_, err = exec.Execute(ctx, w.ID, withdrawal("25.00", ""))
	require.NoError(t, err)

	_, err = exec.Reverse(ctx, dep.ID, ledger.ReverseRequest{})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, testutil.GetWalletBalance(t, db, w.ID).Equal(dec("15.00")))
}

func TestGetHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, exec := setupExecutor(t, db, 3*time.Second)
	ctx := context.Background()

	w := testutil.SeedWallet(t, db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "100.00")
	for _, amt := range []string{"10.00", "20.00", "5.00"} {
		_, err := exec.Execute(ctx, w.ID, withdrawal(amt, ""))
		require.NoError(t, err)
	}

	recs, total, err := store.GetHistory(ctx, w.ID, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, recs, 4)
	assert.Equal(t, domain.TransactionTypeDeposit, recs[0].Type)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].BalanceBefore.Equal(recs[i-1].BalanceAfter), "record %d does not chain", i)
	}

	page, total, err := store.GetHistory(ctx, w.ID, domain.HistoryFilter{
		Types:  []domain.TransactionType{domain.TransactionTypeWithdrawal},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(dec("-20.00")))
	assert.True(t, page[1].Amount.Equal(dec("-5.00")))

	_, _, err = store.GetHistory(ctx, uuid.New(), domain.HistoryFilter{})
	require.ErrorIs(t, err, domain.ErrWalletNotFound)
}
