package capsuleerr

import (
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageError, "could not open database", cause)

	if err.Code != StorageError {
		t.Errorf("Code = %v, want StorageError", err.Code)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Error() == "" {
		t.Error("Error() is empty")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if err := Wrap(StorageError, "msg", nil); err != nil {
		t.Errorf("Wrap(nil cause) = %v, want nil", err)
	}
}

func TestNewHasNoCause(t *testing.T) {
	err := New(PlanValidationError, "malformed plan")
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil for New()")
	}
}
