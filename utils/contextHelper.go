package utils

import (
	"context"

	"github.com/mmdatafocus/fieldreport_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyTechnicianId   = appctx.ContextKeyTechnicianId
	ContextKeyTechnicianName = appctx.ContextKeyTechnicianName
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId
	ContextKeyIdempotencyKey = appctx.ContextKeyIdempotencyKey
)

func GetTechnicianIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTechnicianId)
}

func GetTechnicianNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTechnicianName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTechnicianIdInContext(ctx context.Context, technicianId string) context.Context {
	return appctx.Set(ctx, ContextKeyTechnicianId, technicianId)
}

func SetTechnicianNameInContext(ctx context.Context, technicianName string) context.Context {
	return appctx.Set(ctx, ContextKeyTechnicianName, technicianName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetIdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIdempotencyKey)
}

func SetIdempotencyKeyInContext(ctx context.Context, key string) context.Context {
	return appctx.Set(ctx, ContextKeyIdempotencyKey, key)
}
