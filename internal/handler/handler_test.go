package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/service/payment"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

type stubWallets struct {
	wallet *domain.Wallet
	rec    *ledger.Reconciliation
	err    error
}

func (s *stubWallets) GetWallet(context.Context, uuid.UUID) (*domain.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubWallets) Reconcile(context.Context, uuid.UUID) (*ledger.Reconciliation, error) {
	return s.rec, s.err
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{"validation", fmt.Errorf("Execute: %w", domain.ErrInvalidAmount), http.StatusBadRequest, "INVALID_AMOUNT", false},
		{"business", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", false},
		{"not found", fmt.Errorf("GetWallet: %w", domain.ErrWalletNotFound), http.StatusNotFound, "WALLET_NOT_FOUND", false},
		{"conflict", domain.ErrIdempotencyConflict, http.StatusConflict, "IDEMPOTENCY_CONFLICT", false},
		{"lock timeout", domain.ErrLockTimeout, http.StatusServiceUnavailable, "LOCK_TIMEOUT", true},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "STORAGE_ERROR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondDomainError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestWalletHandler_Reconcile(t *testing.T) {
	id := uuid.New()
	h := NewWalletHandler(&stubWallets{rec: &ledger.Reconciliation{
		WalletID:  id,
		Balance:   testutil.Dec("10.00"),
		LedgerSum: testutil.Dec("9.50"),
	}})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ops/wallets/{id}/reconcile", h.Reconcile)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/wallets/"+id.String()+"/reconcile", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data reconciliationDTO `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, id, body.Data.WalletID)
	assert.False(t, body.Data.Balanced)
}

func TestWalletHandler_Get(t *testing.T) {
	mux := http.NewServeMux()
	h := NewWalletHandler(&stubWallets{err: domain.ErrWalletNotFound})
	mux.HandleFunc("GET /ops/wallets/{id}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/wallets/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/wallets/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadiness(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok}).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "down", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "down", body.Checks["redis"])
}

type stubPayments struct {
	lastTransfer    payment.ReverseTransferRequest
	lastTransaction payment.ReverseTransactionRequest
	result          *payment.Result
	err             error
}

func (s *stubPayments) GetTransfer(context.Context, uuid.UUID) (*payment.Result, error) {
	return s.result, s.err
}

func (s *stubPayments) Refund(_ context.Context, req payment.ReverseTransferRequest) (*payment.Result, error) {
	s.lastTransfer = req
	return s.result, s.err
}

func (s *stubPayments) ReverseTransfer(_ context.Context, req payment.ReverseTransferRequest) (*payment.Result, error) {
	s.lastTransfer = req
	return s.result, s.err
}

func (s *stubPayments) ReverseTransaction(_ context.Context, req payment.ReverseTransactionRequest) (*payment.Result, error) {
	s.lastTransaction = req
	return s.result, s.err
}

func transferMux(h *TransferHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ops/transfers/{id}", h.Get)
	mux.HandleFunc("POST /ops/transfers/{id}/refund", h.Refund)
	mux.HandleFunc("POST /ops/transfers/{id}/reverse", h.Reverse)
	mux.HandleFunc("POST /ops/transactions/{id}/reverse", h.ReverseTransaction)
	return mux
}

func TestTransferHandler_Refund(t *testing.T) {
	transferID, actor := uuid.New(), uuid.New()
	stub := &stubPayments{result: &payment.Result{
		Transfer: &domain.Transfer{ID: uuid.New(), Kind: domain.TransferKindRefund, ReversalOf: &transferID},
		Records:  []domain.TransactionRecord{{ID: uuid.New(), Amount: testutil.Dec("-5.00")}},
	}}
	mux := transferMux(NewTransferHandler(stub))

	body := `{"reason":"cancelled"}`
	req := httptest.NewRequest(http.MethodPost, "/ops/transfers/"+transferID.String()+"/refund", strings.NewReader(body))
	req = req.WithContext(auth.ContextWithOperator(req.Context(), &auth.Operator{ID: actor}))
	req.Header.Set(idempotencyKeyHeader, "refund-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, transferID, stub.lastTransfer.TransferID)
	assert.Equal(t, actor, stub.lastTransfer.ActorID)
	assert.Equal(t, "refund-1", stub.lastTransfer.IdempotencyKey)
	assert.Equal(t, "cancelled", stub.lastTransfer.Reason)

	stub.result.Replayed = true
	req = httptest.NewRequest(http.MethodPost, "/ops/transfers/"+transferID.String()+"/refund", strings.NewReader(body))
	req.Header.Set(idempotencyKeyHeader, "refund-1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransferHandler_ReverseRejectsBadRequests(t *testing.T) {
	stub := &stubPayments{}
	mux := transferMux(NewTransferHandler(stub))
	id := uuid.NewString()
	reason := `{"reason":"duplicate"}`

	tests := []struct {
		name string
		path string
		key  string
		body string
	}{
		{"missing key", "/ops/transactions/" + id + "/reverse", "", reason},
		{"bad id", "/ops/transactions/nope/reverse", "k", reason},
		{"bad body", "/ops/transfers/" + id + "/reverse", "k", "{"},
		{"wrong body type", "/ops/transfers/" + id + "/reverse", "k", `{"reason":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			if tt.key != "" {
				req.Header.Set(idempotencyKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, uuid.Nil, stub.lastTransaction.TransactionID)
}

func TestTransferHandler_ReverseTransactionMapsErrors(t *testing.T) {
	stub := &stubPayments{err: fmt.Errorf("ReverseTransaction: %w", domain.ErrInvalidStateTransition)}
	mux := transferMux(NewTransferHandler(stub))

	req := httptest.NewRequest(http.MethodPost, "/ops/transactions/"+uuid.NewString()+"/reverse",
		nil)
	req.Header.Set(idempotencyKeyHeader, "k")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_STATE_TRANSITION")
}
