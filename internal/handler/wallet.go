package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type walletReader interface {
	GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ledger.Reconciliation, error)
}

// WalletHandler serves read-only operator views of a wallet.
type WalletHandler struct {
	wallets walletReader
}

func NewWalletHandler(wallets walletReader) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

type walletDTO struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	OwnerRole string          `json:"owner_role"`
	Type      string          `json:"type"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	Status    string          `json:"status"`
}

type reconciliationDTO struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Balanced  bool            `json:"balanced"`
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := walletFromPath(r)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, walletDTO{
		ID:        wallet.ID,
		OwnerID:   wallet.OwnerID,
		OwnerRole: string(wallet.OwnerRole),
		Type:      string(wallet.Type),
		Currency:  string(wallet.Currency),
		Balance:   wallet.Balance,
		Version:   wallet.Version,
		Status:    string(wallet.Status),
	})
}

func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := walletFromPath(r)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	rec, err := h.wallets.Reconcile(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to reconcile wallet", "wallet_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, reconciliationDTO{
		WalletID:  rec.WalletID,
		Balance:   rec.Balance,
		LedgerSum: rec.LedgerSum,
		Balanced:  rec.Balanced(),
	})
}

func walletFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("wallet id: %w", domain.ErrInvalidRequest)
	}
	return id, nil
}
