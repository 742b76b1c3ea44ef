package logging

import (
	"context"
	"log/slog"

	"signsync/internal/services"
)

// Structured field keys shared across packages.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact says what the user loses while a warning persists.
	FieldImpact   = "impact"
	FieldFilePath = "file_path"
	FieldStage    = "upload_stage"
	FieldCycleID  = "cycle_id"

	FieldDirectiveID = "directive_id"
	FieldDirectiveOp = "directive_op"
	FieldUsername    = "username"
)

// ContextFields returns the file path, stage, and cycle id carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if path, ok := services.FilePathFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldFilePath, path))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := services.CycleIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCycleID, id))
	}
	return fields
}

// WithContext returns logger with the fields from ContextFields attached.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return logger.With(args...)
}
