package services

import "context"

type contextKey int

const (
	filePathKey contextKey = iota
	stageKey
	cycleIDKey
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithFilePath annotates ctx with the registered file's relative path.
func WithFilePath(ctx context.Context, path string) context.Context {
	return withString(ctx, filePathKey, path)
}

// FilePathFromContext returns the registered file path if present.
func FilePathFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, filePathKey)
}

// WithStage annotates ctx with the current upload stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithCycleID annotates ctx with the upload cycle identifier.
func WithCycleID(ctx context.Context, id string) context.Context {
	return withString(ctx, cycleIDKey, id)
}

// CycleIDFromContext returns the upload cycle identifier if present.
func CycleIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, cycleIDKey)
}
