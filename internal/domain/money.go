package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

// RoundMoney applies the single rounding policy used across the engine:
// banker's rounding to MoneyScale digits.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}
