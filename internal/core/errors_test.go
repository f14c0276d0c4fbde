package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Is(t *testing.T) {
	err := ErrValidation(CodeSchemaInvalid, "bad payload")
	wrapped := fmt.Errorf("stage failed: %w", err)

	if !errors.Is(wrapped, ErrValidation(CodeSchemaInvalid, "anything")) {
		t.Fatalf("expected Is to match on category+code")
	}
	if errors.Is(wrapped, ErrValidation(CodeEvidenceInvalid, "anything")) {
		t.Fatalf("expected Is to reject a different code")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrInfrastructure("writing state").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrVerification("exit 1")) {
		t.Fatalf("verification failures must be retryable")
	}
	for _, err := range []error{
		ErrValidation(CodeSchemaInvalid, "x"),
		ErrGeneration(CodeGeneratorUnavailable, "x"),
		ErrPatch(CodeForbiddenPath, "x"),
		ErrGateTimeout(CodeSelectionTimeout, "x"),
		ErrInfrastructure("x"),
		ErrCancelled("x"),
		errors.New("plain"),
	} {
		if IsRetryable(err) {
			t.Fatalf("expected %v to be non-retryable", err)
		}
	}
}

func TestGetCategory(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrNotFound("run", "run_abc"))
	if GetCategory(wrapped) != ErrCatNotFound {
		t.Fatalf("expected not_found category through wrapping")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("plain errors default to internal")
	}
	if !IsCategory(ErrCancelled("stop"), ErrCatCancelled) {
		t.Fatalf("expected cancelled category")
	}
}

func TestDomainError_Details(t *testing.T) {
	err := ErrPatch(CodeForbiddenPath, "path denied").WithDetail("path", "/payments/api.py")
	if err.Details["path"] != "/payments/api.py" {
		t.Fatalf("expected detail to be recorded")
	}
}
