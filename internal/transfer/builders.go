package transfer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/revenue"
)

// SplitEvenly divides amount into n shares truncated to cents. The
// rounding remainder is added to the first share, so shares always sum to
// amount.
func SplitEvenly(amount decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n <= 0 {
		return nil, fmt.Errorf("SplitEvenly: %d shares: %w", n, domain.ErrInvalidRequest)
	}
	if !amount.IsPositive() || !domain.HasMoneyScale(amount) {
		return nil, fmt.Errorf("SplitEvenly: amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	share := amount.Div(decimal.NewFromInt(int64(n))).Truncate(domain.MoneyScale)
	if !share.IsPositive() {
		return nil, fmt.Errorf("SplitEvenly: %s over %d shares is below one cent: %w", amount, n, domain.ErrInvalidAmount)
	}
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = share
	}
	remainder := amount.Sub(share.Mul(decimal.NewFromInt(int64(n))))
	shares[0] = shares[0].Add(remainder)
	return shares, nil
}

// TipSplit debits sender once and credits each recipient an equal share.
// recipients[0] is the primary recipient and receives the remainder.
func TipSplit(sender uuid.UUID, recipients []uuid.UUID, amount decimal.Decimal) ([]Leg, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("TipSplit: no recipients: %w", domain.ErrInvalidRequest)
	}
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	for _, r := range recipients {
		if r == sender {
			return nil, fmt.Errorf("TipSplit: sender cannot tip itself: %w", domain.ErrInvalidRequest)
		}
		if _, dup := seen[r]; dup {
			return nil, fmt.Errorf("TipSplit: duplicate recipient %s: %w", r, domain.ErrInvalidRequest)
		}
		seen[r] = struct{}{}
	}

	shares, err := SplitEvenly(amount, len(recipients))
	if err != nil {
		return nil, fmt.Errorf("TipSplit: %w", err)
	}

	legs := []Leg{{WalletID: sender, Direction: domain.DirectionDebit, Amount: amount, Type: domain.TransactionTypeTip}}
	for i, r := range recipients {
		legs = append(legs, Leg{WalletID: r, Direction: domain.DirectionCredit, Amount: shares[i], Type: domain.TransactionTypeTip})
	}
	return legs, nil
}

// Party is one earner paid out of an order.
type Party struct {
	WalletID uuid.UUID
	Gross    decimal.Decimal
	Config   revenue.ServiceConfig
	Premium  bool
}

// SystemWallets are the currency's platform revenue and tax holding wallets.
type SystemWallets struct {
	PlatformRevenue uuid.UUID
	TaxHolding      uuid.UUID
}

// OrderPayment debits the customer the sum of every party's gross and
// credits each party its net, the tax wallet the tax and the platform the
// rest. Zero legs are left out.
func OrderPayment(customer uuid.UUID, parties []Party, system SystemWallets) ([]Leg, []revenue.Breakdown, error) {
	if len(parties) == 0 {
		return nil, nil, fmt.Errorf("OrderPayment: no parties: %w", domain.ErrInvalidRequest)
	}

	total, tax, platform := decimal.Zero, decimal.Zero, decimal.Zero
	splits := make([]revenue.Breakdown, 0, len(parties))
	var credits []Leg

	for i, p := range parties {
		if p.WalletID == customer {
			return nil, nil, fmt.Errorf("OrderPayment: party %d is the customer: %w", i, domain.ErrInvalidRequest)
		}
		if !p.Gross.IsPositive() || !domain.HasMoneyScale(p.Gross) {
			return nil, nil, fmt.Errorf("OrderPayment: party %d gross %s: %w", i, p.Gross, domain.ErrInvalidAmount)
		}

		b := revenue.Split(p.Gross, p.Config, p.Premium)
		splits = append(splits, b)
		total = total.Add(b.Gross)
		tax = tax.Add(b.TaxAmount)
		platform = platform.Add(b.PlatformRevenue())

		if b.Net.IsPositive() {
			credits = append(credits, Leg{
				WalletID:  p.WalletID,
				Direction: domain.DirectionCredit,
				Amount:    b.Net,
				Type:      domain.TransactionTypeEarning,
			})
		}
	}

	legs := []Leg{{WalletID: customer, Direction: domain.DirectionDebit, Amount: total, Type: domain.TransactionTypePayment}}
	legs = append(legs, credits...)
	if tax.IsPositive() {
		legs = append(legs, Leg{WalletID: system.TaxHolding, Direction: domain.DirectionCredit, Amount: tax, Type: domain.TransactionTypeTax})
	}
	if platform.IsPositive() {
		legs = append(legs, Leg{WalletID: system.PlatformRevenue, Direction: domain.DirectionCredit, Amount: platform, Type: domain.TransactionTypeCommission})
	}
	return legs, splits, nil
}

// Subscription moves a subscription fee from the subscriber to the platform.
func Subscription(subscriber uuid.UUID, system SystemWallets, fee decimal.Decimal) ([]Leg, error) {
	if !fee.IsPositive() || !domain.HasMoneyScale(fee) {
		return nil, fmt.Errorf("Subscription: fee %s: %w", fee, domain.ErrInvalidAmount)
	}
	return []Leg{
		{WalletID: subscriber, Direction: domain.DirectionDebit, Amount: fee, Type: domain.TransactionTypeSubscription},
		{WalletID: system.PlatformRevenue, Direction: domain.DirectionCredit, Amount: fee, Type: domain.TransactionTypeSubscription},
	}, nil
}
