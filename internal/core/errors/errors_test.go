package errors

import (
	"errors"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNoSources, "no rust sources under checkout")
		if err.Error() != "[NO_SOURCES] no rust sources under checkout" {
			t.Errorf("expected [NO_SOURCES] no rust sources under checkout, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		expected := "[INTERNAL_ERROR] internal failure: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeValidationError, "invalid config")
		if !IsCode(err, CodeValidationError) {
			t.Error("expected IsCode to return true for CodeValidationError")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeExternal, "confirmation service unavailable")
		if !IsCode(err, CodeExternal) {
			t.Error("expected IsCode to return true for wrapped CodeExternal")
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := New(CodePatchFailed, "apply gate failed")
		err = AddContext(err, CtxFinding, "VULN-3")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatal("expected DomainError after AddContext")
		}
		if de.Context[CtxFinding] != "VULN-3" {
			t.Errorf("expected context finding VULN-3, got %v", de.Context[CtxFinding])
		}
	})

	t.Run("AddContextOnPlainError", func(t *testing.T) {
		err := AddContext(errors.New("boom"), CtxPath, "programs/vault/src/lib.rs")
		if !IsCode(err, CodeInternal) {
			t.Error("expected plain errors to be wrapped as CodeInternal")
		}
	})
}
