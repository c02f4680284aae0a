package revenue

import (
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Breakdown is the decomposition of one gross payment. Every component is
// rounded with domain.RoundMoney.
type Breakdown struct {
	Gross          decimal.Decimal
	RecipientShare decimal.Decimal
	PlatformShare  decimal.Decimal
	Commission     decimal.Decimal
	ProcessingFee  decimal.Decimal
	TaxAmount      decimal.Decimal
	Net            decimal.Decimal
	// Shortfall is what the deductions exceeded the recipient share by when
	// Net was floored at zero.
	Shortfall decimal.Decimal
}

// PlatformRevenue is everything the platform keeps: its share of the gross,
// the commission and the fee. Posting Net, TaxAmount and PlatformRevenue
// always sums to Gross exactly.
func (b Breakdown) PlatformRevenue() decimal.Decimal {
	return b.Gross.Sub(b.TaxAmount).Sub(b.Net)
}

// Split decomposes gross according to cfg:
//
//	commission = clamp(gross*rate, min, max)
//	share      = gross*recipientShare
//	tax        = share*taxRate
//	net        = max(0, share - commission - fee - tax)
func Split(gross decimal.Decimal, cfg ServiceConfig, isPremium bool) Breakdown {
	gross = domain.RoundMoney(gross)
	if !gross.IsPositive() {
		return Breakdown{Gross: gross}
	}

	rates := cfg.Tier(TierFor(isPremium))

	commission := clamp(domain.RoundMoney(gross.Mul(rates.CommissionRate)), cfg.MinCommission, cfg.MaxCommission)
	share := domain.RoundMoney(gross.Mul(rates.RecipientShare))
	fee := domain.RoundMoney(cfg.ProcessingFee)
	tax := domain.RoundMoney(share.Mul(cfg.TaxRate))

	net := domain.RoundMoney(share.Sub(commission).Sub(fee).Sub(tax))
	shortfall := decimal.Zero
	if net.IsNegative() {
		shortfall = net.Neg()
		net = decimal.Zero
	}

	return Breakdown{
		Gross:          gross,
		RecipientShare: share,
		PlatformShare:  gross.Sub(share),
		Commission:     commission,
		ProcessingFee:  fee,
		TaxAmount:      tax,
		Net:            net,
		Shortfall:      shortfall,
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if hi.IsPositive() && v.GreaterThan(hi) {
		return hi
	}
	return v
}
