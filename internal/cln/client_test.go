package cln

import (
	"strings"
	"testing"
)

func TestPaymentOutcome_Complete(t *testing.T) {
	preimage := strings.Repeat("22", 32)
	outcome, err := paymentOutcome("complete", preimage)
	if err != nil {
		t.Fatalf("paymentOutcome() error = %v", err)
	}
	if !outcome.Success || outcome.Preimage == nil || outcome.Preimage[0] != 0x22 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestPaymentOutcome_Failed(t *testing.T) {
	outcome, err := paymentOutcome("failed", "")
	if err != nil {
		t.Fatalf("paymentOutcome() error = %v", err)
	}
	if outcome.Success || outcome.Error != "failed" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestPaymentOutcome_RejectsMalformedPreimage(t *testing.T) {
	if _, err := paymentOutcome("complete", "not-hex"); err == nil {
		t.Error("expected error for malformed preimage on a completed payment")
	}
}

func TestDecodePreimageHex_RejectsWrongLength(t *testing.T) {
	if _, err := decodePreimageHex("abcd"); err == nil {
		t.Error("expected error for short preimage, got nil")
	}
}
