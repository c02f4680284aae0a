package auth

import (
	"context"

	"github.com/google/uuid"
)

type operatorKey struct{}

func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(*Operator)
	return op, ok && op != nil
}

// ActorID is the operator id recorded on audit trails, or the nil id when
// the request carries no operator.
func ActorID(ctx context.Context) uuid.UUID {
	if op, ok := OperatorFromContext(ctx); ok {
		return op.ID
	}
	return uuid.Nil
}
