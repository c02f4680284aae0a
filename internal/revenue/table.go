package revenue

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type Role string

const (
	RoleDriver   Role = "driver"
	RoleMerchant Role = "merchant"
)

type Tier string

const (
	TierBase    Tier = "base"
	TierPremium Tier = "premium"
)

func TierFor(isPremium bool) Tier {
	if isPremium {
		return TierPremium
	}
	return TierBase
}

// TierRates is the commission rate and recipient share of one tier.
type TierRates struct {
	CommissionRate decimal.Decimal
	RecipientShare decimal.Decimal
}

// RoleRates is the schedule for one role, independent of country.
type RoleRates struct {
	Base          TierRates
	Premium       TierRates
	MinCommission decimal.Decimal
	MaxCommission decimal.Decimal
	ProcessingFee decimal.Decimal
}

// ServiceConfig is a RoleRates resolved for one country.
type ServiceConfig struct {
	RoleRates
	TaxRate decimal.Decimal
}

func (c ServiceConfig) Tier(t Tier) TierRates {
	if t == TierPremium {
		return c.Premium
	}
	return c.Base
}

// Table holds the rate and tax schedules. It is built once and never
// mutated, so it can be shared freely.
type Table struct {
	roles          map[Role]RoleRates
	taxRates       map[string]decimal.Decimal
	defaultTaxRate decimal.Decimal
}

func NewTable(roles map[Role]RoleRates, taxRates map[string]decimal.Decimal, defaultTaxRate decimal.Decimal) (Table, error) {
	t := Table{
		roles:          make(map[Role]RoleRates, len(roles)),
		taxRates:       make(map[string]decimal.Decimal, len(taxRates)),
		defaultTaxRate: defaultTaxRate,
	}
	if !isFraction(defaultTaxRate) {
		return Table{}, fmt.Errorf("revenue.NewTable: default tax rate %s: %w", defaultTaxRate, domain.ErrInvalidRequest)
	}
	for role, r := range roles {
		if err := r.validate(); err != nil {
			return Table{}, fmt.Errorf("revenue.NewTable: %s: %w", role, err)
		}
		t.roles[role] = r
	}
	for country, rate := range taxRates {
		if !isFraction(rate) {
			return Table{}, fmt.Errorf("revenue.NewTable: tax rate for %s: %w", country, domain.ErrInvalidRequest)
		}
		t.taxRates[strings.ToUpper(country)] = rate
	}
	return t, nil
}

// Config resolves the schedule for role in country. Countries without an
// explicit rate use the default.
func (t Table) Config(role Role, country string) (ServiceConfig, error) {
	r, ok := t.roles[role]
	if !ok {
		return ServiceConfig{}, fmt.Errorf("Config: no rates for role %q: %w", role, domain.ErrInvalidRequest)
	}
	rate, ok := t.taxRates[strings.ToUpper(country)]
	if !ok {
		rate = t.defaultTaxRate
	}
	return ServiceConfig{RoleRates: r, TaxRate: rate}, nil
}

func (r RoleRates) validate() error {
	for _, tr := range []TierRates{r.Base, r.Premium} {
		if !isFraction(tr.CommissionRate) || !isFraction(tr.RecipientShare) {
			return fmt.Errorf("rates must be within [0,1]: %w", domain.ErrInvalidRequest)
		}
	}
	if r.MinCommission.IsNegative() || r.ProcessingFee.IsNegative() {
		return fmt.Errorf("negative commission floor or fee: %w", domain.ErrInvalidRequest)
	}
	if r.MaxCommission.IsPositive() && r.MinCommission.GreaterThan(r.MaxCommission) {
		return fmt.Errorf("min commission above max: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func isFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
