package payment_test

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
	"github.com/josh-kwaku/wallet-ledger/internal/revenue"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
	"github.com/josh-kwaku/wallet-ledger/internal/service/payment"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
	"github.com/josh-kwaku/wallet-ledger/internal/transfer"
)

var dec = testutil.Dec

type recordingAwarder struct {
	mu     sync.Mutex
	awards []rewards.Award
}

func (r *recordingAwarder) AwardPoints(_ context.Context, a rewards.Award) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awards = append(r.awards, a)
	return nil
}

type env struct {
	db      *sql.DB
	svc     *payment.Service
	store   *ledger.Store
	events  *testutil.Recorder
	awarder *recordingAwarder
	system  transfer.SystemWallets
}

func setupPaymentService(t *testing.T) env {
	t.Helper()
	db := testutil.SetupTestDB(t)

	walletRepo := repository.NewWalletRepository(db)
	store := ledger.NewStore(db, walletRepo, repository.NewTransactionRepository(db), 3*time.Second)
	exec := ledger.NewExecutor(store, testutil.Validator(t), map[domain.WalletType]decimal.Decimal{
		domain.WalletTypeMain: dec("1000.00"),
	})
	orch := transfer.NewOrchestrator(store, exec, repository.NewTransferRepository(db))

	rec := &testutil.Recorder{}
	wallets := service.NewWalletService(walletRepo, store, testutil.Validator(t), rec)
	system, err := wallets.EnsureSystemWallets(context.Background(), []domain.Currency{domain.CurrencyUSD})
	require.NoError(t, err)

	table, err := revenue.NewTable(map[revenue.Role]revenue.RoleRates{
		revenue.RoleDriver: {
			Base:          revenue.TierRates{CommissionRate: dec("0.15"), RecipientShare: dec("0.85")},
			Premium:       revenue.TierRates{CommissionRate: dec("0.10"), RecipientShare: dec("0.90")},
			MinCommission: dec("0.50"),
			MaxCommission: dec("20.00"),
			ProcessingFee: dec("0.15"),
		},
	}, nil, dec("0.16"))
	require.NoError(t, err)

	rules, err := rewards.NewRules(map[rewards.Action]rewards.Rule{
		rewards.ActionOrderPayment: {PointsPerUnit: dec("1"), MinAmount: dec("5.00")},
		rewards.ActionTip:          {PointsPerUnit: dec("2")},
		rewards.ActionDeposit:      {PointsPerUnit: dec("0.1")},
	})
	require.NoError(t, err)
	awarder := &recordingAwarder{}

	rec.Reset()
	return env{
		db:      db,
		svc:     payment.NewService(exec, orch, wallets, table, rewards.NewBridge(rules, awarder, time.Second), rec),
		store:   store,
		events:  rec,
		awarder: awarder,
		system:  system[domain.CurrencyUSD],
	}
}

func (e env) assertReconciled(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		r, err := e.store.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, r.Balanced(), "wallet %s: balance %s ledger %s", id, r.Balance, r.LedgerSum)
	}
}

func TestPayOrder_SplitsRevenue(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	customer := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "150.00")
	driver := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")

	res, err := e.svc.PayOrder(ctx, payment.OrderRequest{
		ActorID:          customer.OwnerID,
		CustomerWalletID: customer.ID,
		Currency:         domain.CurrencyUSD,
		Parties:          []payment.OrderParty{{WalletID: driver.ID, Role: revenue.RoleDriver, Gross: dec("100.00")}},
		IdempotencyKey:   uuid.NewString(),
	})
	require.NoError(t, err)

	require.Len(t, res.Splits, 1)
	assert.True(t, res.Splits[0].Commission.Equal(dec("15.00")))
	assert.True(t, res.Transfer.Amount.Equal(dec("100.00")))
	require.Len(t, res.Records, 4)

	assert.True(t, testutil.GetWalletBalance(t, e.db, customer.ID).Equal(dec("50.00")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, driver.ID).Equal(dec("56.25")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, e.system.TaxHolding).Equal(dec("13.60")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, e.system.PlatformRevenue).Equal(dec("30.15")))
	e.assertReconciled(t, customer.ID, driver.ID, e.system.TaxHolding, e.system.PlatformRevenue)

	evts := e.events.Events()
	require.Len(t, evts, 4)
	for _, ev := range evts {
		assert.Equal(t, domain.TransactionStatusCompleted, ev.Status)
		assert.NotNil(t, ev.BalanceAfter)
		if ev.WalletID == driver.ID {
			assert.Equal(t, driver.OwnerID, ev.OwnerID)
		}
	}

	require.NotNil(t, res.Points)
	assert.Equal(t, int64(100), res.Points.Points)
	assert.Equal(t, customer.OwnerID, res.Points.UserID)
}

func TestPayOrder_ReplayDoesNotRepeat(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	customer := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "150.00")
	driver := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")
	req := payment.OrderRequest{
		CustomerWalletID: customer.ID,
		Currency:         domain.CurrencyUSD,
		Parties:          []payment.OrderParty{{WalletID: driver.ID, Role: revenue.RoleDriver, Gross: dec("40.00")}},
		IdempotencyKey:   uuid.NewString(),
	}

	first, err := e.svc.PayOrder(ctx, req)
	require.NoError(t, err)
	second, err := e.svc.PayOrder(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.Nil(t, second.Points)
	assert.Len(t, e.awarder.awards, 1)
	assert.True(t, testutil.GetWalletBalance(t, e.db, customer.ID).Equal(dec("110.00")))
	assert.Equal(t, 1, testutil.CountTransfers(t, e.db))
}

func TestSendTip_ThreeWay(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	sender := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "20.00")
	primary := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")
	r2 := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")
	r3 := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")

	res, err := e.svc.SendTip(ctx, payment.TipRequest{
		ActorID:            sender.OwnerID,
		SenderWalletID:     sender.ID,
		RecipientWalletIDs: []uuid.UUID{primary.ID, r2.ID, r3.ID},
		Amount:             dec("10.00"),
		Currency:           domain.CurrencyUSD,
		IdempotencyKey:     uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	assert.True(t, testutil.GetWalletBalance(t, e.db, sender.ID).Equal(dec("10.00")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, primary.ID).Equal(dec("3.34")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, r2.ID).Equal(dec("3.33")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, r3.ID).Equal(dec("3.33")))

	require.NotNil(t, res.Points)
	assert.Equal(t, int64(20), res.Points.Points)
}

func TestSendTip_OutsideRangeTouchesNothing(t *testing.T) {
	e := setupPaymentService(t)

	sender := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "900.00")
	recipient := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")

	_, err := e.svc.SendTip(context.Background(), payment.TipRequest{
		SenderWalletID:     sender.ID,
		RecipientWalletIDs: []uuid.UUID{recipient.ID},
		Amount:             dec("600.00"),
		Currency:           domain.CurrencyUSD,
		IdempotencyKey:     uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.True(t, testutil.GetWalletBalance(t, e.db, sender.ID).Equal(dec("900.00")))
	assert.Equal(t, 0, testutil.CountTransfers(t, e.db))
	assert.Empty(t, e.awarder.awards)

	audit := e.events.LastAudit()
	require.NotNil(t, audit)
	assert.Equal(t, domain.AuditActionTransferExecuted, audit.Action)
	assert.Equal(t, "INVALID_AMOUNT", audit.ErrorCode)
}

func TestRefund_RestoresBalances(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	customer := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "150.00")
	driver := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "0")

	order, err := e.svc.PayOrder(ctx, payment.OrderRequest{
		CustomerWalletID: customer.ID,
		Currency:         domain.CurrencyUSD,
		Parties:          []payment.OrderParty{{WalletID: driver.ID, Role: revenue.RoleDriver, Gross: dec("100.00")}},
		IdempotencyKey:   uuid.NewString(),
	})
	require.NoError(t, err)

	refund, err := e.svc.Refund(ctx, payment.ReverseTransferRequest{
		ActorID:        uuid.New(),
		TransferID:     order.Transfer.ID,
		Reason:         "order cancelled",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferKindRefund, refund.Transfer.Kind)
	require.Len(t, refund.Records, 4)
	for _, r := range refund.Records {
		assert.Equal(t, domain.TransactionTypeRefund, r.Type)
	}

	assert.True(t, testutil.GetWalletBalance(t, e.db, customer.ID).Equal(dec("150.00")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, driver.ID).IsZero())
	assert.True(t, testutil.GetWalletBalance(t, e.db, e.system.TaxHolding).IsZero())
	assert.True(t, testutil.GetWalletBalance(t, e.db, e.system.PlatformRevenue).IsZero())
	e.assertReconciled(t, customer.ID, driver.ID, e.system.TaxHolding, e.system.PlatformRevenue)

	got, err := e.svc.GetTransfer(ctx, order.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusReversed, got.Transfer.Status)

	_, err = e.svc.Refund(ctx, payment.ReverseTransferRequest{TransferID: order.Transfer.ID, IdempotencyKey: uuid.NewString()})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestDepositThenReverseTransaction(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	w := testutil.SeedWallet(t, e.db, domain.OwnerRoleCustomer, domain.WalletTypeMain, domain.CurrencyUSD, "0")
	key := uuid.NewString()
	deposit := payment.MovementRequest{
		ActorID:        w.OwnerID,
		WalletID:       w.ID,
		Amount:         dec("80.00"),
		Currency:       domain.CurrencyUSD,
		PaymentMethod:  "card",
		IdempotencyKey: key,
	}

	res, err := e.svc.Deposit(ctx, deposit)
	require.NoError(t, err)
	require.NotNil(t, res.Points)
	assert.Equal(t, int64(8), res.Points.Points)

	again, err := e.svc.Deposit(ctx, deposit)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Records[0].ID, again.Records[0].ID)
	assert.Len(t, e.events.Events(), 1)

	rev, err := e.svc.ReverseTransaction(ctx, payment.ReverseTransactionRequest{
		ActorID:        uuid.New(),
		TransactionID:  res.Records[0].ID,
		Reason:         "chargeback",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.True(t, rev.Records[0].Amount.Equal(dec("-80.00")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, w.ID).IsZero())
	e.assertReconciled(t, w.ID)
}

func TestPayout_FromEarnings(t *testing.T) {
	e := setupPaymentService(t)
	ctx := context.Background()

	earnings := testutil.SeedWallet(t, e.db, domain.OwnerRoleDriver, domain.WalletTypeEarnings, domain.CurrencyUSD, "60.00")

	_, err := e.svc.Payout(ctx, payment.MovementRequest{
		WalletID:       earnings.ID,
		Amount:         dec("45.50"),
		Currency:       domain.CurrencyUSD,
		PaymentMethod:  "bank_transfer",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.True(t, testutil.GetWalletBalance(t, e.db, earnings.ID).Equal(dec("14.50")))

	_, err = e.svc.Payout(ctx, payment.MovementRequest{
		WalletID:       earnings.ID,
		Amount:         dec("20.00"),
		Currency:       domain.CurrencyUSD,
		PaymentMethod:  "bank_transfer",
		IdempotencyKey: uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, testutil.GetWalletBalance(t, e.db, earnings.ID).Equal(dec("14.50")))
}

func TestChargeSubscription_DisabledWallet(t *testing.T) {
	e := setupPaymentService(t)

	w := testutil.SeedWallet(t, e.db, domain.OwnerRoleMerchant, domain.WalletTypeMain, domain.CurrencyUSD, "50.00")
	testutil.DisableWallet(t, e.db, w.ID)

	_, err := e.svc.ChargeSubscription(context.Background(), payment.SubscriptionRequest{
		WalletID:       w.ID,
		Fee:            dec("9.99"),
		Currency:       domain.CurrencyUSD,
		IdempotencyKey: uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrWalletDisabled)
	assert.True(t, testutil.GetWalletBalance(t, e.db, w.ID).Equal(dec("50.00")))
	assert.True(t, testutil.GetWalletBalance(t, e.db, e.system.PlatformRevenue).IsZero())
}
