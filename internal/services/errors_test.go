package services_test

import (
	"errors"
	"strings"
	"testing"

	"signsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProtocol, "upload", "probe", "range does not start at 0", base)
	if !errors.Is(err, services.ErrProtocol) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"upload", "probe", "range does not start at 0"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if services.IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
	if !services.IsRetryable(services.Wrap(services.ErrTransient, "server", "save", "status 500", nil)) {
		t.Fatal("expected transient error to be retryable")
	}
	if !services.IsRetryable(errors.New("connection reset")) {
		t.Fatal("expected unclassified error to be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrUnauthorized, "server", "directives", "status 401", nil)) {
		t.Fatal("expected unauthorized error to be terminal")
	}
	if hint := services.Hint(services.Wrap(services.ErrUnauthorized, "", "", "", nil)); !strings.Contains(hint, "attach") {
		t.Fatalf("unexpected hint %q", hint)
	}
}
