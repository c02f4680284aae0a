package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/payment"
)

const idempotencyKeyHeader = "Idempotency-Key"

type paymentService interface {
	GetTransfer(ctx context.Context, transferID uuid.UUID) (*payment.Result, error)
	Refund(ctx context.Context, req payment.ReverseTransferRequest) (*payment.Result, error)
	ReverseTransfer(ctx context.Context, req payment.ReverseTransferRequest) (*payment.Result, error)
	ReverseTransaction(ctx context.Context, req payment.ReverseTransactionRequest) (*payment.Result, error)
}

// TransferHandler lets operators inspect transfers and issue refunds and
// reversals. The acting operator comes from the authenticated request.
type TransferHandler struct {
	payments paymentService
}

func NewTransferHandler(payments paymentService) *TransferHandler {
	return &TransferHandler{payments: payments}
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

type recordDTO struct {
	ID           uuid.UUID       `json:"id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	ReversalOf   *uuid.UUID      `json:"reversal_of,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type transferDTO struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ReversalOf *uuid.UUID      `json:"reversal_of,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type resultDTO struct {
	Transfer *transferDTO `json:"transfer,omitempty"`
	Records  []recordDTO  `json:"records"`
	Replayed bool         `json:"replayed"`
}

func toResultDTO(res *payment.Result) resultDTO {
	dto := resultDTO{Records: make([]recordDTO, len(res.Records)), Replayed: res.Replayed}
	for i, r := range res.Records {
		dto.Records[i] = recordDTO{
			ID:           r.ID,
			WalletID:     r.WalletID,
			Type:         string(r.Type),
			Amount:       r.Amount,
			Currency:     string(r.Currency),
			Status:       string(r.Status),
			BalanceAfter: r.BalanceAfter,
			ReversalOf:   r.ReversalOf,
			CreatedAt:    r.CreatedAt,
		}
	}
	if t := res.Transfer; t != nil {
		dto.Transfer = &transferDTO{
			ID:         t.ID,
			Kind:       string(t.Kind),
			Status:     string(t.Status),
			Amount:     t.Amount,
			Currency:   string(t.Currency),
			ReversalOf: t.ReversalOf,
			CreatedAt:  t.CreatedAt,
		}
	}
	return dto
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondDomainError(w, fmt.Errorf("transfer id: %w", domain.ErrInvalidRequest))
		return
	}

	res, err := h.payments.GetTransfer(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toResultDTO(res))
}

func (h *TransferHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.reverseTransfer(w, r, h.payments.Refund)
}

func (h *TransferHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	h.reverseTransfer(w, r, h.payments.ReverseTransfer)
}

func (h *TransferHandler) reverseTransfer(w http.ResponseWriter, r *http.Request, op func(context.Context, payment.ReverseTransferRequest) (*payment.Result, error)) {
	id, key, body, err := parseReverse(r)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	res, err := op(r.Context(), payment.ReverseTransferRequest{
		ActorID:        auth.ActorID(r.Context()),
		TransferID:     id,
		Reason:         body.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("transfer reversal failed", "transfer_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	respondCreated(w, res)
}

func (h *TransferHandler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, key, body, err := parseReverse(r)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	res, err := h.payments.ReverseTransaction(r.Context(), payment.ReverseTransactionRequest{
		ActorID:        auth.ActorID(r.Context()),
		TransactionID:  id,
		Reason:         body.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("transaction reversal failed", "transaction_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	respondCreated(w, res)
}

// respondCreated answers 200 for an idempotent replay and 201 otherwise.
func respondCreated(w http.ResponseWriter, res *payment.Result) {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	RespondSuccess(w, status, toResultDTO(res))
}

func parseReverse(r *http.Request) (uuid.UUID, string, reverseRequest, error) {
	var body reverseRequest

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, "", body, fmt.Errorf("id: %w", domain.ErrInvalidRequest)
	}
	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		return uuid.Nil, "", body, fmt.Errorf("%s header required: %w", idempotencyKeyHeader, domain.ErrInvalidRequest)
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return uuid.Nil, "", body, fmt.Errorf("body: %w", domain.ErrInvalidRequest)
	}
	return id, key, body, nil
}
