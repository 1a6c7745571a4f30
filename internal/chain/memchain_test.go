package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hash(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func header(height int64) BlockHeader {
	return BlockHeader{
		Hash:   hash(byte(height)),
		Height: height,
		Prev:   hash(byte(height - 1)),
	}
}

func TestNewChain_HasTipBaseAndBlock(t *testing.T) {
	h := header(1)
	c := NewChain(h)

	if c.Base().Hash != h.Hash {
		t.Errorf("Base() = %v, want %v", c.Base().Hash, h.Hash)
	}
	if c.Tip().Hash != h.Hash {
		t.Errorf("Tip() = %v, want %v", c.Tip().Hash, h.Hash)
	}
	if !c.Contains(h.Hash) {
		t.Error("expected chain to contain its own block")
	}
	got, err := c.GetBlock(h.Hash)
	if err != nil || got.Hash != h.Hash {
		t.Errorf("GetBlock() = %v, %v", got, err)
	}
}

func TestAppend_Success(t *testing.T) {
	base := header(1)
	newTip := header(2)
	c := NewChain(base)

	if err := c.Append(newTip); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if c.Tip().Hash != newTip.Hash {
		t.Errorf("Tip() = %v, want %v", c.Tip().Hash, newTip.Hash)
	}
	if c.Base().Hash != base.Hash {
		t.Errorf("Base() = %v, want %v", c.Base().Hash, base.Hash)
	}
}

func TestAppend_Failure(t *testing.T) {
	base := header(1)
	newTip := header(3) // prev doesn't match base's hash
	c := NewChain(base)

	if err := c.Append(newTip); err != ErrInvalidChain {
		t.Errorf("Append() error = %v, want ErrInvalidChain", err)
	}
}

func TestPrepend_Success(t *testing.T) {
	tip := header(2)
	newBase := header(1)
	c := NewChain(tip)

	if err := c.Prepend(newBase); err != nil {
		t.Fatalf("Prepend() error = %v", err)
	}
	if c.Tip().Hash != tip.Hash {
		t.Errorf("Tip() = %v, want %v", c.Tip().Hash, tip.Hash)
	}
	if c.Base().Hash != newBase.Hash {
		t.Errorf("Base() = %v, want %v", c.Base().Hash, newBase.Hash)
	}
}

func TestPrepend_Failure(t *testing.T) {
	tip := header(3)
	newBase := header(1)
	c := NewChain(tip)

	if err := c.Prepend(newBase); err != ErrInvalidChain {
		t.Errorf("Prepend() error = %v, want ErrInvalidChain", err)
	}
}

func TestChainFromHeaders_Empty(t *testing.T) {
	if _, err := ChainFromHeaders(nil); err != ErrEmptyChain {
		t.Errorf("ChainFromHeaders(nil) error = %v, want ErrEmptyChain", err)
	}
}

func TestRebase_Success(t *testing.T) {
	base, err := ChainFromHeaders([]BlockHeader{header(2), header(1)})
	if err != nil {
		t.Fatal(err)
	}
	c, err := ChainFromHeaders([]BlockHeader{header(3), header(2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Rebase(base); err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}

	forward := c.IterForwards()
	wantForward := []BlockHeader{header(1), header(2), header(3)}
	for i, w := range wantForward {
		if forward[i].Hash != w.Hash {
			t.Errorf("IterForwards()[%d] = %v, want %v", i, forward[i].Hash, w.Hash)
		}
	}

	backward := c.IterBackwards()
	wantBackward := []BlockHeader{header(3), header(2), header(1)}
	for i, w := range wantBackward {
		if backward[i].Hash != w.Hash {
			t.Errorf("IterBackwards()[%d] = %v, want %v", i, backward[i].Hash, w.Hash)
		}
	}
}

func TestRetip_Success(t *testing.T) {
	c, err := ChainFromHeaders([]BlockHeader{header(2), header(1)})
	if err != nil {
		t.Fatal(err)
	}
	newTip, err := ChainFromHeaders([]BlockHeader{header(3), header(2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Retip(newTip); err != nil {
		t.Fatalf("Retip() error = %v", err)
	}

	forward := c.IterForwards()
	wantForward := []BlockHeader{header(1), header(2), header(3)}
	for i, w := range wantForward {
		if forward[i].Hash != w.Hash {
			t.Errorf("IterForwards()[%d] = %v, want %v", i, forward[i].Hash, w.Hash)
		}
	}
}

func TestRetip_Reorg(t *testing.T) {
	c, err := ChainFromHeaders([]BlockHeader{header(3), header(2), header(1)})
	if err != nil {
		t.Fatal(err)
	}

	reorgHeader := header(3)
	reorgHeader.Hash = hash(4)

	newTip, err := ChainFromHeaders([]BlockHeader{reorgHeader, header(2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Retip(newTip); err != nil {
		t.Fatalf("Retip() error = %v", err)
	}

	forward := c.IterForwards()
	wantForward := []BlockHeader{header(1), header(2), reorgHeader}
	for i, w := range wantForward {
		if forward[i].Hash != w.Hash {
			t.Errorf("IterForwards()[%d] = %v, want %v", i, forward[i].Hash, w.Hash)
		}
	}

	if c.Contains(header(3).Hash) {
		t.Error("old tip should have been discarded after reorg")
	}
}
