package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Range bounds the absolute amount of a transaction. A zero Max leaves the
// upper end open.
type Range struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

type Rules struct {
	Limits         map[domain.TransactionType]Range
	Currencies     []domain.Currency
	PaymentMethods []string
}

// Check is one transaction as seen by the validator. Amount may be signed.
type Check struct {
	Type           domain.TransactionType
	Amount         decimal.Decimal
	Currency       domain.Currency
	WalletCurrency domain.Currency
	PaymentMethod  *string
	// Compensating checks skip the per-type range so a reversal can always
	// undo what was applied.
	Compensating bool
}

// Validator checks amounts, currencies and payment methods against an
// immutable rule set. It performs no I/O.
type Validator struct {
	limits     map[domain.TransactionType]Range
	currencies map[domain.Currency]struct{}
	methods    map[string]struct{}
}

func New(rules Rules) (*Validator, error) {
	v := &Validator{
		limits:     make(map[domain.TransactionType]Range, len(rules.Limits)),
		currencies: make(map[domain.Currency]struct{}, len(rules.Currencies)),
		methods:    make(map[string]struct{}, len(rules.PaymentMethods)),
	}
	for t, r := range rules.Limits {
		if !t.IsValid() {
			return nil, fmt.Errorf("validation.New: unknown transaction type %q: %w", t, domain.ErrInvalidRequest)
		}
		if r.Min.IsNegative() || r.Max.IsNegative() || (r.Max.IsPositive() && r.Min.GreaterThan(r.Max)) {
			return nil, fmt.Errorf("validation.New: bad range for %s: %w", t, domain.ErrInvalidRequest)
		}
		v.limits[t] = r
	}
	for _, c := range rules.Currencies {
		v.currencies[c] = struct{}{}
	}
	for _, m := range rules.PaymentMethods {
		v.methods[m] = struct{}{}
	}
	if len(v.currencies) == 0 {
		return nil, fmt.Errorf("validation.New: no supported currencies: %w", domain.ErrInvalidRequest)
	}
	return v, nil
}

func (v *Validator) SupportsCurrency(c domain.Currency) bool {
	_, ok := v.currencies[c]
	return ok
}

func (v *Validator) Validate(c Check) error {
	if !c.Type.IsValid() {
		return fmt.Errorf("Validate: unknown type %q: %w", c.Type, domain.ErrInvalidRequest)
	}
	if err := v.validateAmount(c); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	if !v.SupportsCurrency(c.Currency) {
		return fmt.Errorf("Validate: %s not supported: %w", c.Currency, domain.ErrInvalidCurrency)
	}
	if c.Currency != c.WalletCurrency {
		return fmt.Errorf("Validate: %s does not match wallet currency %s: %w", c.Currency, c.WalletCurrency, domain.ErrInvalidCurrency)
	}
	if err := v.validateMethod(c); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	return nil
}

func (v *Validator) validateAmount(c Check) error {
	if c.Amount.IsZero() {
		return fmt.Errorf("zero amount: %w", domain.ErrInvalidAmount)
	}
	if !domain.HasMoneyScale(c.Amount) {
		return fmt.Errorf("%s has more than %d decimal places: %w", c.Amount, domain.MoneyScale, domain.ErrInvalidAmount)
	}
	if c.Compensating {
		return nil
	}

	r, ok := v.limits[c.Type]
	if !ok {
		return nil
	}
	abs := c.Amount.Abs()
	if abs.LessThan(r.Min) {
		return fmt.Errorf("%s below %s minimum %s: %w", abs, c.Type, r.Min, domain.ErrInvalidAmount)
	}
	if r.Max.IsPositive() && abs.GreaterThan(r.Max) {
		return fmt.Errorf("%s above %s maximum %s: %w", abs, c.Type, r.Max, domain.ErrInvalidAmount)
	}
	return nil
}

func (v *Validator) validateMethod(c Check) error {
	if c.PaymentMethod == nil || *c.PaymentMethod == "" {
		if c.Type.RequiresPaymentMethod() && !c.Compensating {
			return fmt.Errorf("%s requires a payment method: %w", c.Type, domain.ErrInvalidPaymentMethod)
		}
		return nil
	}
	if _, ok := v.methods[*c.PaymentMethod]; !ok {
		return fmt.Errorf("method %q not supported: %w", *c.PaymentMethod, domain.ErrInvalidPaymentMethod)
	}
	return nil
}
