package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/revenue"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
	"github.com/josh-kwaku/wallet-ledger/internal/transfer"
)

type executor interface {
	Submit(ctx context.Context, walletID uuid.UUID, req ledger.Request) (*domain.TransactionRecord, bool, error)
	SubmitReversal(ctx context.Context, recordID uuid.UUID, req ledger.ReverseRequest) (*domain.TransactionRecord, bool, error)
}

type orchestrator interface {
	Execute(ctx context.Context, plan transfer.Plan) (*transfer.Result, error)
	Reverse(ctx context.Context, transferID uuid.UUID, req transfer.ReverseRequest) (*transfer.Result, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*transfer.Result, error)
}

type walletDirectory interface {
	GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	SystemWallets(ctx context.Context, c domain.Currency) (transfer.SystemWallets, error)
}

type revenueTable interface {
	Config(role revenue.Role, country string) (revenue.ServiceConfig, error)
}

type pointsGranter interface {
	Grant(ctx context.Context, userID uuid.UUID, action rewards.Action, amount decimal.Decimal, reference string) (*rewards.Award, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, evts []domain.TransactionEvent, rec *domain.AuditRecord)
}

// Service is the entry point for every money movement. It runs the ledger
// operation, then emits notification, audit and real-time events and asks
// the reward bridge for points. Nothing after the commit can undo it.
type Service struct {
	executor     executor
	orchestrator orchestrator
	wallets      walletDirectory
	revenue      revenueTable
	rewards      pointsGranter
	events       dispatcher
}

func NewService(
	exec executor,
	orch orchestrator,
	wallets walletDirectory,
	revenue revenueTable,
	rewards pointsGranter,
	events dispatcher,
) *Service {
	return &Service{
		executor:     exec,
		orchestrator: orch,
		wallets:      wallets,
		revenue:      revenue,
		rewards:      rewards,
		events:       events,
	}
}

// Result is what a money movement produced. GamificationError is set when
// the movement committed but the points grant did not.
type Result struct {
	Records           []domain.TransactionRecord
	Transfer          *domain.Transfer
	Splits            []revenue.Breakdown
	Points            *rewards.Award
	GamificationError string
	Replayed          bool
}

func (s *Service) GetTransfer(ctx context.Context, transferID uuid.UUID) (*Result, error) {
	r, err := s.orchestrator.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("GetTransfer: %w", err)
	}
	return &Result{Records: r.Records, Transfer: r.Transfer}, nil
}

// grant runs the reward bridge for a committed, non-replayed movement.
func (s *Service) grant(ctx context.Context, res *Result, userID uuid.UUID, action rewards.Action, amount decimal.Decimal, reference string) {
	if s.rewards == nil || res.Replayed {
		return
	}
	award, err := s.rewards.Grant(ctx, userID, action, amount, reference)
	if err != nil {
		res.GamificationError = err.Error()
		return
	}
	res.Points = award
}

// owners resolves wallet owners for event payloads, caching per call.
// Unknown wallets map to the nil id.
func (s *Service) owners(ctx context.Context) func(uuid.UUID) uuid.UUID {
	cache := make(map[uuid.UUID]uuid.UUID)
	return func(id uuid.UUID) uuid.UUID {
		if o, ok := cache[id]; ok {
			return o
		}
		w, err := s.wallets.GetWallet(ctx, id)
		if err != nil {
			return uuid.Nil
		}
		cache[id] = w.OwnerID
		return w.OwnerID
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
