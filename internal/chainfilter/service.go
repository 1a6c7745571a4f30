// Package chainfilter rejects utxos whose ancestor senders appear on an
// operator-maintained address denylist.
package chainfilter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lnswap/swapd/internal/chain"
)

// Repository is the address-filter deny set.
type Repository interface {
	HasFilteredAddress(ctx context.Context, addresses []string) (bool, error)
}

// Service filters a batch of utxos concurrently, one ancestor-sender lookup
// per utxo. A lookup failure does not poison the batch: the utxo passes
// through (logged) rather than blocking honest flows against a flaky
// upstream filter or chain source.
type Service struct {
	chainSource chain.ChainSource
	repo        Repository
}

// New builds a Service.
func New(chainSource chain.ChainSource, repo Repository) *Service {
	return &Service{chainSource: chainSource, repo: repo}
}

// FilterUtxos returns the subset of utxos whose ancestor sender addresses
// are not on the filter list. Lookups run concurrently, unordered.
func (s *Service) FilterUtxos(ctx context.Context, utxos []chain.Utxo) []chain.Utxo {
	type result struct {
		utxo     chain.Utxo
		filtered bool
	}

	results := make(chan result, len(utxos))
	var wg sync.WaitGroup
	for _, u := range utxos {
		wg.Add(1)
		go func(u chain.Utxo) {
			defer wg.Done()
			results <- result{utxo: u, filtered: s.shouldFilter(ctx, u)}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]chain.Utxo, 0, len(utxos))
	for r := range results {
		if r.filtered {
			slog.Debug("chainfilter: utxo filtered", "outpoint", r.utxo.Outpoint)
			continue
		}
		out = append(out, r.utxo)
	}
	return out
}

func (s *Service) shouldFilter(ctx context.Context, u chain.Utxo) bool {
	senders, err := s.chainSource.GetSenderAddresses(ctx, u.Outpoint)
	if err != nil {
		slog.Warn("chainfilter: sender lookup failed, passing utxo through", "outpoint", u.Outpoint, "error", err)
		return false
	}
	if len(senders) == 0 {
		return false
	}

	filtered, err := s.repo.HasFilteredAddress(ctx, senders)
	if err != nil {
		slog.Warn("chainfilter: filter lookup failed, passing utxo through", "outpoint", u.Outpoint, "error", err)
		return false
	}
	return filtered
}
