package lnd

import (
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"

	"github.com/lnswap/swapd/internal/lightning"
)

func TestDecodePreimageHex(t *testing.T) {
	preimage := strings.Repeat("ab", 32)
	got, err := decodePreimageHex(preimage)
	if err != nil {
		t.Fatalf("decodePreimageHex() error = %v", err)
	}
	if got[0] != 0xab || got[31] != 0xab {
		t.Errorf("decodePreimageHex() = %x, want all 0xab bytes", got)
	}
}

func TestDecodePreimageHex_RejectsWrongLength(t *testing.T) {
	if _, err := decodePreimageHex("abcd"); err == nil {
		t.Error("expected error for short preimage, got nil")
	}
}

func TestDecodePreimageHex_RejectsInvalidHex(t *testing.T) {
	if _, err := decodePreimageHex("not-hex-" + strings.Repeat("0", 56)); err == nil {
		t.Error("expected error for invalid hex, got nil")
	}
}

func TestMapPaymentState_Succeeded(t *testing.T) {
	preimage := strings.Repeat("11", 32)
	result, err := mapPaymentState(&lnrpc.Payment{Status: lnrpc.Payment_SUCCEEDED, PaymentPreimage: preimage})
	if err != nil {
		t.Fatalf("mapPaymentState() error = %v", err)
	}
	if result.State != lightning.PaymentStateSuccess {
		t.Errorf("State = %v, want success", result.State)
	}
	if result.Preimage == nil || result.Preimage[0] != 0x11 {
		t.Errorf("Preimage = %v, want decoded preimage", result.Preimage)
	}
}

func TestMapPaymentState_Failed(t *testing.T) {
	result, err := mapPaymentState(&lnrpc.Payment{
		Status:        lnrpc.Payment_FAILED,
		FailureReason: lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE,
	})
	if err != nil {
		t.Fatalf("mapPaymentState() error = %v", err)
	}
	if result.Error == "" {
		t.Error("expected a non-empty failure reason")
	}
}

func TestMapPaymentState_Pending(t *testing.T) {
	result, err := mapPaymentState(&lnrpc.Payment{Status: lnrpc.Payment_IN_FLIGHT})
	if err != nil {
		t.Fatalf("mapPaymentState() error = %v", err)
	}
	if result.State != lightning.PaymentStatePending {
		t.Errorf("State = %v, want pending", result.State)
	}
}
