package store

import (
	"errors"
	"testing"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"void", "active", true},
		{"void", "voided", false},
		{"void", "", false},
		{"reactivate", "voided", false},
		{"unknown", "active", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestApply(t *testing.T) {
	status, err := Apply(ActionVoid, "active")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "voided" {
		t.Fatalf("expected voided, got %s", status)
	}

	if _, err := Apply(ActionVoid, "voided"); !errors.Is(err, ErrAlreadyVoided) {
		t.Fatalf("expected ErrAlreadyVoided, got %v", err)
	}
	if _, err := Apply("reopen", "active"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
