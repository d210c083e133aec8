package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/lhelwerd/rechu/appctx"
)

var (
	ContextKeyOperator      = appctx.ContextKeyOperator
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyDryRun        = appctx.ContextKeyDryRun
)

func GetOperatorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyOperator)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func IsDryRun(ctx context.Context) bool {
	v, _ := appctx.GetBool(ctx, ContextKeyDryRun)
	return v
}

func SetOperatorInContext(ctx context.Context, operator string) context.Context {
	return appctx.Set(ctx, ContextKeyOperator, operator)
}

func SetDryRunInContext(ctx context.Context, dryRun bool) context.Context {
	return appctx.Set(ctx, ContextKeyDryRun, dryRun)
}

// EnsureCorrelationId returns ctx carrying a correlation id, generating one when missing.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return appctx.Set(ctx, ContextKeyCorrelationId, id), id
}
