package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationCollectsEveryField(t *testing.T) {
	var v Validation
	v.Add("budget_amount", "must be >= 10")
	v.Add("refund_mpesa_name", "required")
	v.Add("budget_amount", "second message is ignored")
	v.Add("client_email", "")

	err := v.Err()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %v", ve.Fields)
	}
	if ve.Fields["budget_amount"] != "must be >= 10" {
		t.Fatalf("unexpected budget message %q", ve.Fields["budget_amount"])
	}
}

func TestEmptyValidationIsNil(t *testing.T) {
	var v Validation
	if err := v.Err(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRetryableOnlyForTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&TransientError{Op: "update", Err: errors.New("timeout")}, true},
		{fmt.Errorf("wrapped: %w", &TransientError{Op: "x", Err: errors.New("busy")}), true},
		{Invalid("amount", "must be > 0"), false},
		{NotFound("order", "BOT-1"), false},
		{&InvalidTransitionError{Entity: "custom order", From: "paid", To: "pending"}, false},
		{&AmountMismatchError{Expected: 50, Got: 49}, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
