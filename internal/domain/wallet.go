package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemOwnerID is the namespace for the per-currency owners of the platform
// revenue and tax holding wallets.
var SystemOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SystemOwnerFor returns the owner of the system wallets kept in currency c.
// One owner per currency keeps (owner, type) unique across currencies.
func SystemOwnerFor(c Currency) uuid.UUID {
	return uuid.NewSHA1(SystemOwnerID, []byte(c))
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyNGN Currency = "NGN"
	CurrencyKES Currency = "KES"
)

type OwnerRole string

const (
	OwnerRoleCustomer OwnerRole = "customer"
	OwnerRoleMerchant OwnerRole = "merchant"
	OwnerRoleDriver   OwnerRole = "driver"
	OwnerRolePlatform OwnerRole = "platform"
)

func (r OwnerRole) IsValid() bool {
	switch r {
	case OwnerRoleCustomer, OwnerRoleMerchant, OwnerRoleDriver, OwnerRolePlatform:
		return true
	}
	return false
}

type WalletType string

const (
	WalletTypeMain            WalletType = "main"
	WalletTypeEarnings        WalletType = "earnings"
	WalletTypeRewards         WalletType = "rewards"
	WalletTypePlatformRevenue WalletType = "platform_revenue"
	WalletTypeTaxHolding      WalletType = "tax_holding"
)

func (t WalletType) IsValid() bool {
	switch t {
	case WalletTypeMain, WalletTypeEarnings, WalletTypeRewards, WalletTypePlatformRevenue, WalletTypeTaxHolding:
		return true
	}
	return false
}

// IsSystem reports whether wallets of this type are owned by the platform.
func (t WalletType) IsSystem() bool {
	return t == WalletTypePlatformRevenue || t == WalletTypeTaxHolding
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

type Wallet struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	OwnerRole OwnerRole
	Type      WalletType
	Currency  Currency
	Balance   decimal.Decimal
	Version   int64
	Status    WalletStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}
