package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为数据库操作创建 span
func DBSpan(ctx context.Context, operation string, query string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperation(operation),
			attribute.String("db.statement", query),
		),
	)
}

// WithDBSpan runs fn inside a db span. pgx.ErrNoRows is not an error here.
func WithDBSpan(ctx context.Context, operation string, query string, fn func(context.Context) error) error {
	ctx, span := DBSpan(ctx, operation, query)
	defer span.End()

	err := fn(ctx)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
