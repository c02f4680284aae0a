package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Action is the user activity a grant is awarded for.
type Action string

const (
	ActionOrderPayment Action = "order_payment"
	ActionTip          Action = "tip"
	ActionSubscription Action = "subscription"
	ActionDeposit      Action = "deposit"
)

type Rule struct {
	PointsPerUnit decimal.Decimal
	MinAmount     decimal.Decimal
}

// Rules maps actions to their point rates. The zero value grants nothing.
type Rules struct {
	byAction map[Action]Rule
}

func NewRules(rules map[Action]Rule) (Rules, error) {
	r := Rules{byAction: make(map[Action]Rule, len(rules))}
	for action, rule := range rules {
		if action == "" {
			return Rules{}, fmt.Errorf("rewards.NewRules: empty action: %w", domain.ErrInvalidRequest)
		}
		if rule.PointsPerUnit.IsNegative() || rule.MinAmount.IsNegative() {
			return Rules{}, fmt.Errorf("rewards.NewRules: %s: negative rule: %w", action, domain.ErrInvalidRequest)
		}
		r.byAction[action] = rule
	}
	return r, nil
}

// Points returns floor(amount * rate) for action, or zero when no rule
// applies or amount is below the rule's minimum.
func (r Rules) Points(action Action, amount decimal.Decimal) int64 {
	rule, ok := r.byAction[action]
	if !ok || amount.Abs().LessThan(rule.MinAmount) {
		return 0
	}
	return amount.Abs().Mul(rule.PointsPerUnit).Floor().IntPart()
}
