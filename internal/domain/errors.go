package domain

import (
	"context"
	"errors"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindBusiness   ErrorKind = "business"
	KindTransient  ErrorKind = "transient"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindStorage    ErrorKind = "storage"
)

// Error is a coded engine error. Callers match with errors.Is against the
// sentinels below and read the stable code with CodeOf.
type Error struct {
	Code    string
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is lets every not-found sentinel match ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

const (
	CodeStorage  = "STORAGE_ERROR"
	CodeCanceled = "CANCELED"
)

var (
	ErrInvalidAmount        = &Error{"INVALID_AMOUNT", KindValidation, "amount outside the allowed range"}
	ErrInvalidCurrency      = &Error{"INVALID_CURRENCY", KindValidation, "unsupported or mismatched currency"}
	ErrInvalidPaymentMethod = &Error{"INVALID_PAYMENT_METHOD", KindValidation, "unsupported payment method"}
	ErrInvalidRequest       = &Error{"INVALID_REQUEST", KindValidation, "invalid request"}
	ErrUnbalancedTransfer   = &Error{"UNBALANCED_TRANSFER", KindValidation, "transfer debits and credits do not balance"}

	ErrInsufficientFunds      = &Error{"INSUFFICIENT_FUNDS", KindBusiness, "insufficient funds"}
	ErrBalanceCeilingExceeded = &Error{"BALANCE_CEILING_EXCEEDED", KindBusiness, "balance ceiling exceeded"}
	ErrWalletDisabled         = &Error{"WALLET_DISABLED", KindBusiness, "wallet is disabled"}

	ErrLockTimeout     = &Error{"LOCK_TIMEOUT", KindTransient, "timed out waiting for wallet lock"}
	ErrVersionConflict = &Error{"VERSION_CONFLICT", KindTransient, "wallet was modified concurrently, please retry"}

	ErrNotFound            = &Error{"NOT_FOUND", KindNotFound, "not found"}
	ErrWalletNotFound      = &Error{"WALLET_NOT_FOUND", KindNotFound, "wallet not found"}
	ErrTransactionNotFound = &Error{"TRANSACTION_NOT_FOUND", KindNotFound, "transaction not found"}
	ErrTransferNotFound    = &Error{"TRANSFER_NOT_FOUND", KindNotFound, "transfer not found"}

	ErrWalletExists            = &Error{"WALLET_EXISTS", KindConflict, "wallet already exists for this owner and type"}
	ErrIdempotencyConflict     = &Error{"IDEMPOTENCY_CONFLICT", KindConflict, "idempotency key already used with a different request"}
	ErrDuplicateIdempotencyKey = &Error{"DUPLICATE_IDEMPOTENCY_KEY", KindConflict, "duplicate idempotency key"}
	ErrInvalidStateTransition  = &Error{"INVALID_STATE_TRANSITION", KindConflict, "invalid status transition"}
)

// CodeOf returns the stable machine-readable code for err. Anything that is
// not an engine error is reported as a storage failure.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}
	return CodeStorage
}

func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindStorage
}

// IsRetryable reports whether the same request may succeed if resubmitted.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
