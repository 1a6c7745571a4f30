package lnd

import (
	"context"
	"errors"
)

// ErrLabelNotFound is returned when no payment index has been recorded for
// a label, or vice versa.
var ErrLabelNotFound = errors.New("lnd: label not found")

// Repository maps swapd's own payment labels onto lnd's opaque, monotonic
// payment_index cursors, so a later ListPayments lookup can resume from the
// right place instead of re-scanning the whole payment history.
type Repository interface {
	AddLabel(ctx context.Context, label string, paymentIndex uint64) error
	GetLabel(ctx context.Context, paymentIndex uint64) (string, error)
	GetPaymentIndex(ctx context.Context, label string) (uint64, error)
}
