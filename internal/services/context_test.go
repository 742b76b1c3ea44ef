package services_test

import (
	"context"
	"testing"

	"signsync/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFilePath(ctx, "upload/s1-20260101.mp4")
	ctx = services.WithStage(ctx, "checksum")
	ctx = services.WithCycleID(ctx, "cycle-1")

	if path, ok := services.FilePathFromContext(ctx); !ok || path != "upload/s1-20260101.mp4" {
		t.Fatalf("unexpected file path: %v %v", path, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "checksum" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if id, ok := services.CycleIDFromContext(ctx); !ok || id != "cycle-1" {
		t.Fatalf("unexpected cycle id: %v %v", id, ok)
	}
}

func TestBlankValuesLeaveContextUntouched(t *testing.T) {
	base := context.Background()
	if services.WithStage(base, "") != base || services.WithFilePath(base, "") != base {
		t.Fatal("expected blank values to return the original context")
	}
	if _, ok := services.CycleIDFromContext(base); ok {
		t.Fatal("expected no cycle id")
	}
}
