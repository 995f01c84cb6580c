package errors

import (
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", NotFound("invoice", "1"), ErrCodeNotFound},
		{"validation", InvalidInput("subtotal", "malformed amount"), ErrCodeValidation},
		{"wrapped conflict", fmt.Errorf("submit: %w", Conflict("duplicate")), ErrCodeConflict},
		{"plain error", fmt.Errorf("boom"), ErrCodeInternal},
		{"wrap keeps code", Wrap(fmt.Errorf("db down"), ErrCodeInternal, "failed"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "unused"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := InvalidInput("total", "must not be negative")
	if got := err.Error(); got != "total: must not be negative" {
		t.Errorf("Error() = %q", got)
	}

	tr := InvalidTransition("pagada", "approve")
	if !Is(tr, ErrCodeInvalidTransition) {
		t.Errorf("expected invalid transition code, got %v", CodeOf(tr))
	}
	if tr.Details["from"] != "pagada" {
		t.Errorf("expected from detail, got %v", tr.Details)
	}
}
