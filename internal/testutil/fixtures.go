package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/validation"
)

// Rules is a permissive validator configuration for tests: every type
// allowed from 0.01 with no upper bound except tips.
func Rules() validation.Rules {
	limits := make(map[domain.TransactionType]validation.Range)
	for _, t := range domain.TransactionTypes() {
		limits[t] = validation.Range{Min: decimal.RequireFromString("0.01")}
	}
	limits[domain.TransactionTypeTip] = validation.Range{
		Min: decimal.RequireFromString("0.50"),
		Max: decimal.NewFromInt(500),
	}
	return validation.Rules{
		Limits:         limits,
		Currencies:     []domain.Currency{domain.CurrencyUSD, domain.CurrencyEUR, domain.CurrencyNGN},
		PaymentMethods: []string{"card", "bank_transfer"},
	}
}

func Validator(t *testing.T) *validation.Validator {
	t.Helper()
	v, err := validation.New(Rules())
	if err != nil {
		t.Fatalf("build validator: %v", err)
	}
	return v
}

// SeedWallet inserts an active wallet. A positive opening balance is
// recorded as a deposit so the wallet reconciles against its ledger.
func SeedWallet(t *testing.T, db *sql.DB, role domain.OwnerRole, walletType domain.WalletType, currency domain.Currency, balance string) *domain.Wallet {
	t.Helper()
	return SeedOwnedWallet(t, db, uuid.New(), role, walletType, currency, balance)
}

func SeedOwnedWallet(t *testing.T, db *sql.DB, ownerID uuid.UUID, role domain.OwnerRole, walletType domain.WalletType, currency domain.Currency, balance string) *domain.Wallet {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		OwnerRole: role,
		Type:      walletType,
		Currency:  currency,
		Balance:   decimal.RequireFromString(balance),
		Status:    domain.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if w.Balance.IsPositive() {
		w.Version = 1
	}

	_, err := db.Exec(
		`INSERT INTO wallets (id, owner_id, owner_role, wallet_type, currency, balance, version, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.OwnerID, w.OwnerRole, w.Type, w.Currency, w.Balance, w.Version, w.Status, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed wallet %s/%s: %v", walletType, currency, err)
	}

	if w.Balance.IsPositive() {
		_, err = db.Exec(
			`INSERT INTO wallet_transactions (id, wallet_id, type, amount, currency, status, balance_before, balance_after, created_at)
			 VALUES ($1, $2, 'deposit', $3, $4, 'completed', 0, $3, $5)`,
			uuid.New(), w.ID, w.Balance, w.Currency, now,
		)
		if err != nil {
			t.Fatalf("seed opening deposit for %s: %v", w.ID, err)
		}
	}
	return w
}

// SeedSystemWallets creates the platform revenue and tax holding wallets for
// currency under the currency's system owner.
func SeedSystemWallets(t *testing.T, db *sql.DB, currency domain.Currency) (platform, tax *domain.Wallet) {
	t.Helper()
	owner := domain.SystemOwnerFor(currency)
	platform = SeedOwnedWallet(t, db, owner, domain.OwnerRolePlatform, domain.WalletTypePlatformRevenue, currency, "0")
	tax = SeedOwnedWallet(t, db, owner, domain.OwnerRolePlatform, domain.WalletTypeTaxHolding, currency, "0")
	return platform, tax
}

func DisableWallet(t *testing.T, db *sql.DB, walletID uuid.UUID) {
	t.Helper()
	if _, err := db.Exec(`UPDATE wallets SET status = 'disabled' WHERE id = $1`, walletID); err != nil {
		t.Fatalf("disable wallet %s: %v", walletID, err)
	}
}

func GetWalletBalance(t *testing.T, db *sql.DB, walletID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	err := db.QueryRow(`SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
	if err != nil {
		t.Fatalf("get wallet balance %s: %v", walletID, err)
	}
	return balance
}

// LedgerSum is the sum of every applied record on the wallet.
func LedgerSum(t *testing.T, db *sql.DB, walletID uuid.UUID) decimal.Decimal {
	t.Helper()

	var sum decimal.Decimal
	err := db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		 WHERE wallet_id = $1 AND status IN ('completed', 'reversed')`, walletID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("ledger sum %s: %v", walletID, err)
	}
	return sum
}

func CountTransactions(t *testing.T, db *sql.DB, walletID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, walletID).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions for wallet %s: %v", walletID, err)
	}
	return count
}

func CountTransfers(t *testing.T, db *sql.DB) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&count); err != nil {
		t.Fatalf("count transfers: %v", err)
	}
	return count
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
