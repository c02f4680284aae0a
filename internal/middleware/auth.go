package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

// Auth authenticates operator bearer tokens and stores the operator on the
// request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAuthError(w, handler.ErrMissingToken)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAuthError(w, handler.ErrInvalidToken)
				return
			}

			op, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Warn("operator token rejected", "error", err)
				handler.RespondAuthError(w, handler.ErrInvalidToken)
				return
			}

			ctx := logging.WithFields(auth.ContextWithOperator(r.Context(), op), "operator_id", op.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects operators whose token lacks scope.
func RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := auth.OperatorFromContext(r.Context())
		if !ok {
			handler.RespondAuthError(w, handler.ErrMissingToken)
			return
		}
		if !op.Can(scope) {
			handler.RespondAuthError(w, handler.ErrForbidden)
			return
		}
		next(w, r)
	}
}
