package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestTcapError_Error(t *testing.T) {
	err := &TcapError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capsule not found: 01ABC",
	}

	expected := "NOT_FOUND: capsule not found: 01ABC"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestTcapError_ErrorWithStep(t *testing.T) {
	err := NewTransaction("commit", fmt.Errorf("disk I/O error"))

	expected := "TRANSACTION: transaction failed; live collection unchanged (step: commit)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if err.Step() != "commit" {
		t.Errorf("Step() = %q, want commit", err.Step())
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("title is required")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "title is required" {
		t.Errorf("Message = %q, want %q", err.Message, "title is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("capsule", "01XYZ")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "01XYZ" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "01XYZ")
	}
	if err.Details["kind"] != "capsule" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "capsule")
	}
}

func TestNewCapsuleNotFound(t *testing.T) {
	err := NewCapsuleNotFound("01XYZ")

	if err.Code != ErrCapsuleNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCapsuleNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
}

func TestNewIncompatibleState(t *testing.T) {
	err := NewIncompatibleState("capsules belong to different owners", map[string]any{"owner_a": "a", "owner_b": "b"})

	if err.Code != ErrIncompatibleState {
		t.Errorf("Code = %q, want %q", err.Code, ErrIncompatibleState)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["owner_b"] != "b" {
		t.Errorf("Details[owner_b] = %v, want b", err.Details["owner_b"])
	}
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("duplicate record id in capsule")

	if err.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewStorage(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := NewStorage(cause)

	if err.Code != ErrStorage {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorage)
	}
	if err.Message != "a storage error occurred" {
		t.Errorf("Message = %q, want generic message", err.Message)
	}
	if err.Details["storage_error"] != "database is locked" {
		t.Errorf("Details[storage_error] = %v, want %q", err.Details["storage_error"], "database is locked")
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("unexpected nil"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "unexpected nil" {
			t.Errorf("Details[internal_error] = %v, want %q", err.Details["internal_error"], "unexpected nil")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestWithStep(t *testing.T) {
	t.Run("copies details", func(t *testing.T) {
		orig := NewNotFound("owner", "alice")
		stepped := WithStep(orig, "safety_snapshot")

		if stepped.Step() != "safety_snapshot" {
			t.Errorf("Step() = %q, want safety_snapshot", stepped.Step())
		}
		if _, ok := orig.Details["step"]; ok {
			t.Error("original error was mutated")
		}
		if stepped.Code != ErrNotFound {
			t.Errorf("Code = %q, want %q", stepped.Code, ErrNotFound)
		}
	})

	t.Run("wraps plain errors", func(t *testing.T) {
		stepped := WithStep(context.DeadlineExceeded, "commit")
		if stepped.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", stepped.Code, ErrInternal)
		}
		if !stderrors.Is(stepped, context.DeadlineExceeded) {
			t.Error("wrapped cause lost")
		}
	})

	t.Run("nil", func(t *testing.T) {
		if WithStep(nil, "commit") != nil {
			t.Error("WithStep(nil) should be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewNotFound("capsule", "x")
		if !Is(err, ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewNotFound("capsule", "x")
		if Is(err, ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-TcapError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrNotFound) {
			t.Error("Is() = true, want false for non-TcapError")
		}
	})

	t.Run("wrapped TcapError", func(t *testing.T) {
		wrapped := fmt.Errorf("capsule b: %w", NewNotFound("capsule", "x"))
		if !Is(wrapped, ErrNotFound) {
			t.Error("Is() = false, want true for wrapped TcapError")
		}
		if _, ok := As(wrapped); !ok {
			t.Error("As() = false, want true for wrapped TcapError")
		}
	})
}
