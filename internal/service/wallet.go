package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/events"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/transfer"
)

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerAndType(ctx context.Context, ownerID uuid.UUID, walletType domain.WalletType) (*domain.Wallet, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Wallet, error)
	Create(ctx context.Context, w *domain.Wallet) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WalletStatus) error
}

type ledgerReader interface {
	GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	GetHistory(ctx context.Context, walletID uuid.UUID, filter domain.HistoryFilter) ([]domain.TransactionRecord, int, error)
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ledger.Reconciliation, error)
}

type currencyChecker interface {
	SupportsCurrency(c domain.Currency) bool
}

type dispatcher interface {
	Dispatch(ctx context.Context, evts []domain.TransactionEvent, rec *domain.AuditRecord)
}

type WalletService struct {
	wallets    walletRepo
	ledger     ledgerReader
	currencies currencyChecker
	events     dispatcher
}

func NewWalletService(wallets walletRepo, ledger ledgerReader, currencies currencyChecker, events dispatcher) *WalletService {
	return &WalletService{wallets: wallets, ledger: ledger, currencies: currencies, events: events}
}

type OpenWalletRequest struct {
	ActorID  uuid.UUID
	OwnerID  uuid.UUID
	Role     domain.OwnerRole
	Type     domain.WalletType
	Currency domain.Currency
}

// OpenWallet creates the owner's wallet of the requested type. Opening a
// wallet that already exists in the same currency returns it; a different
// currency is rejected because a wallet's currency never changes.
func (s *WalletService) OpenWallet(ctx context.Context, req OpenWalletRequest) (*domain.Wallet, error) {
	w, err := s.openWallet(ctx, req)
	s.events.Dispatch(ctx, nil, events.NewAudit(req.ActorID, domain.AuditActionWalletOpened, map[string]any{
		"ownerId":  req.OwnerID,
		"role":     req.Role,
		"type":     req.Type,
		"currency": req.Currency,
	}, err))
	if err != nil {
		return nil, fmt.Errorf("OpenWallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) openWallet(ctx context.Context, req OpenWalletRequest) (*domain.Wallet, error) {
	log := logging.FromContext(ctx)

	if req.OwnerID == uuid.Nil || !req.Role.IsValid() || !req.Type.IsValid() {
		return nil, domain.ErrInvalidRequest
	}
	if req.Type.IsSystem() != (req.Role == domain.OwnerRolePlatform) {
		return nil, fmt.Errorf("%s wallet for %s owner: %w", req.Type, req.Role, domain.ErrInvalidRequest)
	}
	if !s.currencies.SupportsCurrency(req.Currency) {
		return nil, domain.ErrInvalidCurrency
	}

	existing, err := s.wallets.GetByOwnerAndType(ctx, req.OwnerID, req.Type)
	if err == nil {
		return sameCurrency(existing, req.Currency)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check existing: %w", err)
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   req.OwnerID,
		OwnerRole: req.Role,
		Type:      req.Type,
		Currency:  req.Currency,
		Balance:   decimal.Zero,
		Status:    domain.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		if errors.Is(err, domain.ErrWalletExists) {
			existing, gerr := s.wallets.GetByOwnerAndType(ctx, req.OwnerID, req.Type)
			if gerr != nil {
				return nil, gerr
			}
			return sameCurrency(existing, req.Currency)
		}
		return nil, err
	}

	log.Info("wallet opened",
		"wallet_id", w.ID,
		"owner_id", w.OwnerID,
		"type", w.Type,
		"currency", w.Currency,
	)
	return w, nil
}

func sameCurrency(w *domain.Wallet, c domain.Currency) (*domain.Wallet, error) {
	if w.Currency != c {
		return nil, fmt.Errorf("existing %s wallet is %s: %w", w.Type, w.Currency, domain.ErrWalletExists)
	}
	return w, nil
}

func (s *WalletService) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("GetWallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) ListWallets(ctx context.Context, ownerID uuid.UUID) ([]domain.Wallet, error) {
	ws, err := s.wallets.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListWallets: %w", err)
	}
	return ws, nil
}

// DisableWallet soft-disables a wallet. Its history and balance stay; new
// transactions are refused but compensations still apply.
func (s *WalletService) DisableWallet(ctx context.Context, actorID, walletID uuid.UUID) error {
	err := s.wallets.UpdateStatus(ctx, walletID, domain.WalletStatusDisabled)
	s.events.Dispatch(ctx, nil, events.NewAudit(actorID, domain.AuditActionWalletDisabled, map[string]any{
		"walletId": walletID,
	}, err))
	if err != nil {
		return fmt.Errorf("DisableWallet: %w", err)
	}
	logging.FromContext(ctx).Info("wallet disabled", "wallet_id", walletID)
	return nil
}

func (s *WalletService) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	b, err := s.ledger.GetBalance(ctx, walletID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", err)
	}
	return b, nil
}

func (s *WalletService) GetHistory(ctx context.Context, walletID uuid.UUID, filter domain.HistoryFilter) ([]domain.TransactionRecord, int, error) {
	recs, total, err := s.ledger.GetHistory(ctx, walletID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("GetHistory: %w", err)
	}
	return recs, total, nil
}

// Reconcile compares the wallet's balance with the sum of its ledger and
// logs any drift at error level.
func (s *WalletService) Reconcile(ctx context.Context, walletID uuid.UUID) (*ledger.Reconciliation, error) {
	r, err := s.ledger.Reconcile(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	if !r.Balanced() {
		logging.FromContext(ctx).Error("ledger drift detected",
			"wallet_id", walletID,
			"balance", r.Balance,
			"ledger_sum", r.LedgerSum,
		)
	}
	return r, nil
}

// EnsureSystemWallets opens the platform revenue and tax holding wallets for
// each currency.
func (s *WalletService) EnsureSystemWallets(ctx context.Context, currencies []domain.Currency) (map[domain.Currency]transfer.SystemWallets, error) {
	out := make(map[domain.Currency]transfer.SystemWallets, len(currencies))
	for _, c := range currencies {
		owner := domain.SystemOwnerFor(c)
		var sw transfer.SystemWallets
		for _, t := range []domain.WalletType{domain.WalletTypePlatformRevenue, domain.WalletTypeTaxHolding} {
			w, err := s.openWallet(ctx, OpenWalletRequest{
				ActorID:  domain.SystemOwnerID,
				OwnerID:  owner,
				Role:     domain.OwnerRolePlatform,
				Type:     t,
				Currency: c,
			})
			if err != nil {
				return nil, fmt.Errorf("EnsureSystemWallets: %s %s: %w", c, t, err)
			}
			if t == domain.WalletTypePlatformRevenue {
				sw.PlatformRevenue = w.ID
			} else {
				sw.TaxHolding = w.ID
			}
		}
		out[c] = sw
	}
	return out, nil
}

// SystemWallets returns the currency's system wallets; they must have been
// provisioned with EnsureSystemWallets.
func (s *WalletService) SystemWallets(ctx context.Context, c domain.Currency) (transfer.SystemWallets, error) {
	owner := domain.SystemOwnerFor(c)
	platform, err := s.wallets.GetByOwnerAndType(ctx, owner, domain.WalletTypePlatformRevenue)
	if err != nil {
		return transfer.SystemWallets{}, fmt.Errorf("SystemWallets: %s: %w", c, err)
	}
	tax, err := s.wallets.GetByOwnerAndType(ctx, owner, domain.WalletTypeTaxHolding)
	if err != nil {
		return transfer.SystemWallets{}, fmt.Errorf("SystemWallets: %s: %w", c, err)
	}
	return transfer.SystemWallets{PlatformRevenue: platform.ID, TaxHolding: tax.ID}, nil
}
