package chainfilter

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
)

type fakeChainSource struct {
	chain.ChainSource
	senders map[wire.OutPoint][]string
	errs    map[wire.OutPoint]error
}

func (f *fakeChainSource) GetSenderAddresses(ctx context.Context, outpoint wire.OutPoint) ([]string, error) {
	if err, ok := f.errs[outpoint]; ok {
		return nil, err
	}
	return f.senders[outpoint], nil
}

type fakeRepo struct {
	filtered map[string]bool
	err      error
}

func (f *fakeRepo) HasFilteredAddress(ctx context.Context, addresses []string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, a := range addresses {
		if f.filtered[a] {
			return true, nil
		}
	}
	return false, nil
}

func outpointsOf(utxos []chain.Utxo) []string {
	out := make([]string, len(utxos))
	for i, u := range utxos {
		out[i] = u.Outpoint.String()
	}
	sort.Strings(out)
	return out
}

func TestFilterUtxos_RemovesFilteredSenders(t *testing.T) {
	good := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}
	bad := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 0}

	source := &fakeChainSource{senders: map[wire.OutPoint][]string{
		good: {"bcrt1qgood"},
		bad:  {"bcrt1qbad"},
	}}
	repo := &fakeRepo{filtered: map[string]bool{"bcrt1qbad": true}}

	svc := New(source, repo)
	out := svc.FilterUtxos(context.Background(), []chain.Utxo{
		{Outpoint: good, Value: 1000},
		{Outpoint: bad, Value: 2000},
	})

	if len(out) != 1 || out[0].Outpoint != good {
		t.Fatalf("FilterUtxos() = %v, want only %v", outpointsOf(out), good)
	}
}

func TestFilterUtxos_SenderLookupErrorPassesThrough(t *testing.T) {
	op := wire.OutPoint{Hash: chainhash.Hash{3}, Index: 0}
	source := &fakeChainSource{errs: map[wire.OutPoint]error{op: errors.New("rpc timeout")}}
	repo := &fakeRepo{}

	svc := New(source, repo)
	out := svc.FilterUtxos(context.Background(), []chain.Utxo{{Outpoint: op, Value: 500}})

	if len(out) != 1 {
		t.Fatalf("FilterUtxos() = %v, want utxo to pass through despite lookup error", out)
	}
}

func TestFilterUtxos_RepositoryErrorPassesThrough(t *testing.T) {
	op := wire.OutPoint{Hash: chainhash.Hash{4}, Index: 0}
	source := &fakeChainSource{senders: map[wire.OutPoint][]string{op: {"bcrt1qwhatever"}}}
	repo := &fakeRepo{err: errors.New("db unavailable")}

	svc := New(source, repo)
	out := svc.FilterUtxos(context.Background(), []chain.Utxo{{Outpoint: op, Value: 500}})

	if len(out) != 1 {
		t.Fatalf("FilterUtxos() = %v, want utxo to pass through despite repo error", out)
	}
}

func TestFilterUtxos_NoSendersIsNotFiltered(t *testing.T) {
	op := wire.OutPoint{Hash: chainhash.Hash{5}, Index: 0}
	source := &fakeChainSource{senders: map[wire.OutPoint][]string{}}
	repo := &fakeRepo{filtered: map[string]bool{}}

	svc := New(source, repo)
	out := svc.FilterUtxos(context.Background(), []chain.Utxo{{Outpoint: op, Value: 500}})

	if len(out) != 1 {
		t.Fatalf("FilterUtxos() = %v, want utxo with no resolvable senders to pass", out)
	}
}
