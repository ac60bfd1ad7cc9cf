package service

import "context"

type contextKey string

const operatorKey contextKey = "operator"

// OperatorInfo is the identity of the current actor, supplied by the
// authentication layer. The core never checks credentials itself.
type OperatorInfo struct {
	UserID        uint64
	Username      string
	PlatformAdmin bool
}

func WithOperator(ctx context.Context, op *OperatorInfo) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

func GetOperatorInfo(ctx context.Context) *OperatorInfo {
	val, ok := ctx.Value(operatorKey).(*OperatorInfo)
	if !ok {
		return nil
	}
	return val
}

// GetOperator returns the username for audit messages, "system" when no
// operator is attached.
func GetOperator(ctx context.Context) string {
	op := GetOperatorInfo(ctx)
	if op == nil {
		return "system"
	}
	return op.Username
}
