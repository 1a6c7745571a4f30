package preimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnswap/swapd/internal/lightning"
	"github.com/lnswap/swapd/internal/swap"
)

// HistoricalMonitor reconciles payment attempts left unresolved by a prior
// process instance: anything AddPaymentAttempt recorded that never got a
// matching UnlockAddPaymentResult, most often because the process crashed or
// restarted between dispatching a payment and persisting its outcome.
//
// Unlike Monitor, which watches forever for new activity, HistoricalMonitor
// works off a fixed starting set and stops once it has resolved all of them
// — there's no new work for it to discover once the backlog from before
// startup has drained.
type HistoricalMonitor struct {
	lightning    lightning.Node
	swapRepo     swap.SwapRepository
	pollInterval time.Duration

	pending []*swap.PaymentAttempt
}

// NewHistoricalMonitor constructs a HistoricalMonitor. pollInterval defaults
// to 30s when zero. Call Initialize before Run.
func NewHistoricalMonitor(lightningNode lightning.Node, swapRepo swap.SwapRepository, pollInterval time.Duration) *HistoricalMonitor {
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	return &HistoricalMonitor{
		lightning:    lightningNode,
		swapRepo:     swapRepo,
		pollInterval: pollInterval,
	}
}

// Initialize loads every payment attempt still missing a recorded result.
// Call once, before Run.
func (m *HistoricalMonitor) Initialize(ctx context.Context) error {
	attempts, err := m.swapRepo.GetUnhandledPaymentAttempts(ctx)
	if err != nil {
		return fmt.Errorf("historical preimage monitor: get unhandled payment attempts: %w", err)
	}
	m.pending = attempts
	slog.Info("historical preimage monitor initialized", "unhandled", len(attempts))
	return nil
}

// Run checks every pending attempt's payment state on pollInterval, dropping
// each one that resolves, until none are left or ctx is cancelled. A backlog
// that never drains (a node that genuinely lost track of a payment) leaves
// Run polling forever rather than returning an error.
func (m *HistoricalMonitor) Run(ctx context.Context) error {
	for {
		if len(m.pending) == 0 {
			slog.Debug("historical preimage monitor backlog drained")
			return nil
		}

		remaining, err := m.doCheckPayments(ctx, m.pending)
		if err != nil {
			return fmt.Errorf("historical preimage monitor: %w", err)
		}
		m.pending = remaining

		if len(m.pending) == 0 {
			slog.Debug("historical preimage monitor backlog drained")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.pollInterval):
		}
	}
}

// doCheckPayments queries the state of every attempt in turn and returns the
// subset still pending. A node reporting a definitive terminal state
// (success, failure, or not-found-at-all) is persisted and dropped; one
// still in flight is carried over to the next pass.
func (m *HistoricalMonitor) doCheckPayments(ctx context.Context, attempts []*swap.PaymentAttempt) ([]*swap.PaymentAttempt, error) {
	var pending []*swap.PaymentAttempt

	for _, attempt := range attempts {
		state, err := m.lightning.GetPaymentState(ctx, attempt.PaymentHash, attempt.Label)
		switch {
		case errors.Is(err, lightning.ErrPaymentNotFound):
			if err := m.recordResult(ctx, attempt, &swap.PaymentResult{
				Label:       attempt.Label,
				PaymentHash: attempt.PaymentHash,
				Success:     false,
				Error:       "cancelled",
				RecordedAt:  time.Now(),
			}); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, fmt.Errorf("get payment state for %s: %w", attempt.Label, err)
		}

		switch state.State {
		case lightning.PaymentStateSuccess:
			if err := m.recordResult(ctx, attempt, &swap.PaymentResult{
				Label:       attempt.Label,
				PaymentHash: attempt.PaymentHash,
				Success:     true,
				Preimage:    state.Preimage,
				RecordedAt:  time.Now(),
			}); err != nil {
				return nil, err
			}
		case lightning.PaymentStateFailure:
			if err := m.recordResult(ctx, attempt, &swap.PaymentResult{
				Label:       attempt.Label,
				PaymentHash: attempt.PaymentHash,
				Success:     false,
				Error:       state.Error,
				RecordedAt:  time.Now(),
			}); err != nil {
				return nil, err
			}
		default: // lightning.PaymentStatePending
			pending = append(pending, attempt)
		}
	}

	return pending, nil
}

func (m *HistoricalMonitor) recordResult(ctx context.Context, attempt *swap.PaymentAttempt, result *swap.PaymentResult) error {
	if err := m.swapRepo.UnlockAddPaymentResult(ctx, attempt.PaymentHash, attempt.Label, result); err != nil {
		return fmt.Errorf("persist payment result for %s: %w", attempt.Label, err)
	}
	slog.Info("resolved historical payment attempt", "label", attempt.Label, "success", result.Success)
	return nil
}
