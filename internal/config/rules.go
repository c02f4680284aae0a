package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/revenue"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
	"github.com/josh-kwaku/wallet-ledger/internal/validation"
)

// ValidationRules builds the validator's rule set from TX_LIMITS,
// SUPPORTED_CURRENCIES and PAYMENT_METHODS.
func (c *Config) ValidationRules() (validation.Rules, error) {
	rules := validation.Rules{
		Limits: make(map[domain.TransactionType]validation.Range, len(c.TxLimits)),
	}

	for k, v := range c.TxLimits {
		t := domain.TransactionType(strings.TrimSpace(k))
		if !t.IsValid() {
			return validation.Rules{}, fmt.Errorf("TX_LIMITS: unknown transaction type %q", k)
		}
		r, err := parseRange(v)
		if err != nil {
			return validation.Rules{}, fmt.Errorf("TX_LIMITS: %s: %w", k, err)
		}
		rules.Limits[t] = r
	}

	for _, cur := range c.SupportedCurrencies {
		cur = strings.ToUpper(strings.TrimSpace(cur))
		if len(cur) != 3 {
			return validation.Rules{}, fmt.Errorf("SUPPORTED_CURRENCIES: bad code %q", cur)
		}
		rules.Currencies = append(rules.Currencies, domain.Currency(cur))
	}
	for _, m := range c.PaymentMethods {
		if m = strings.TrimSpace(m); m != "" {
			rules.PaymentMethods = append(rules.PaymentMethods, m)
		}
	}
	return rules, nil
}

// Ceilings returns the maximum balance per wallet type.
func (c *Config) Ceilings() (map[domain.WalletType]decimal.Decimal, error) {
	raw, err := parseDecimalMap("WALLET_CEILINGS", c.WalletCeilings)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.WalletType]decimal.Decimal, len(raw))
	for k, v := range raw {
		t := domain.WalletType(k)
		if !t.IsValid() {
			return nil, fmt.Errorf("WALLET_CEILINGS: unknown wallet type %q", k)
		}
		out[t] = v
	}
	return out, nil
}

func (c *Config) RevenueTable() (revenue.Table, error) {
	taxRates, err := parseDecimalMap("TAX_RATES", c.TaxRates)
	if err != nil {
		return revenue.Table{}, err
	}
	return revenue.NewTable(map[revenue.Role]revenue.RoleRates{
		revenue.RoleDriver:   c.Driver.rates(),
		revenue.RoleMerchant: c.Merchant.rates(),
	}, taxRates, c.DefaultTaxRate)
}

// RewardRules applies REWARD_MIN_AMOUNT to every action in REWARD_RULES.
func (c *Config) RewardRules() (rewards.Rules, error) {
	raw, err := parseDecimalMap("REWARD_RULES", c.RewardRuleRates)
	if err != nil {
		return rewards.Rules{}, err
	}
	rules := make(map[rewards.Action]rewards.Rule, len(raw))
	for action, rate := range raw {
		rules[rewards.Action(action)] = rewards.Rule{PointsPerUnit: rate, MinAmount: c.RewardMinAmount}
	}
	return rewards.NewRules(rules)
}

func (r RoleRevenue) rates() revenue.RoleRates {
	return revenue.RoleRates{
		Base:          revenue.TierRates{CommissionRate: r.BaseRate, RecipientShare: r.BaseShare},
		Premium:       revenue.TierRates{CommissionRate: r.PremiumRate, RecipientShare: r.PremiumShare},
		MinCommission: r.MinCommission,
		MaxCommission: r.MaxCommission,
		ProcessingFee: r.ProcessingFee,
	}
}

// parseRange reads "min-max". An empty max leaves the range open.
func parseRange(s string) (validation.Range, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return validation.Range{}, fmt.Errorf("want min-max, got %q", s)
	}
	floor, err := decimal.NewFromString(strings.TrimSpace(lo))
	if err != nil {
		return validation.Range{}, fmt.Errorf("min: %w", err)
	}
	r := validation.Range{Min: floor}
	if hi = strings.TrimSpace(hi); hi != "" {
		if r.Max, err = decimal.NewFromString(hi); err != nil {
			return validation.Range{}, fmt.Errorf("max: %w", err)
		}
	}
	if r.Min.IsNegative() || r.Max.IsNegative() || (r.Max.IsPositive() && r.Min.GreaterThan(r.Max)) {
		return validation.Range{}, fmt.Errorf("bad range %q", s)
	}
	return r, nil
}
