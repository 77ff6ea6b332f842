package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestRevaErrorMessage(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(RunNotFound, "no such run", nil)
		if got := err.Error(); got != "[RUN_NOT_FOUND] no such run" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("with cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := New(BackendUnavailable, "backend call failed", cause)
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("Error() = %q, want cause included", err.Error())
		}
	})
}

func TestRevaErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := New(PersistenceFailed, "save failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"reva error", New(RateLimited, "slow down", nil), RateLimited},
		{"wrapped reva error", fmt.Errorf("outer: %w", New(Timeout, "call timed out", nil)), Timeout},
		{"plain error", stderrors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(RunConflict, "already processing", nil))
	if !HasCode(err, RunConflict) {
		t.Error("HasCode should match through wrapping")
	}
	if HasCode(err, Timeout) {
		t.Error("HasCode matched wrong code")
	}
	if HasCode(stderrors.New("plain"), RunConflict) {
		t.Error("HasCode matched plain error")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(InvalidRequest, "bad file set", nil).WithDetails(map[string]int{"files": 0})
	if err.Details == nil {
		t.Error("Details should be set")
	}
}
