package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

var (
	ErrMissingToken = &APIError{Code: "MISSING_TOKEN", Message: "Authorization header is required"}
	ErrInvalidToken = &APIError{Code: "INVALID_TOKEN", Message: "Invalid or expired token"}
	ErrForbidden    = &APIError{Code: "FORBIDDEN", Message: "Operator is not allowed to perform this action"}
)

// RespondAuthError writes an authentication failure. ErrForbidden maps to
// 403, everything else to 401.
func RespondAuthError(w http.ResponseWriter, e *APIError) {
	status := http.StatusUnauthorized
	if e == ErrForbidden {
		status = http.StatusForbidden
	}
	RespondJSON(w, status, APIResponse{Error: e})
}

// RespondDomainError writes err using its engine code. Errors that are not
// engine errors are logged and reported without their message.
func RespondDomainError(w http.ResponseWriter, err error) {
	apiErr := &APIError{
		Code:      domain.CodeOf(err),
		Message:   "An unexpected error occurred",
		Retryable: domain.IsRetryable(err),
	}
	var e *domain.Error
	if errors.As(err, &e) {
		apiErr.Message = e.Message
	} else {
		slog.Error("unhandled error", "error", err)
	}

	RespondJSON(w, statusForKind(domain.KindOf(err)), APIResponse{Error: apiErr})
}

func statusForKind(k domain.ErrorKind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindBusiness:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
