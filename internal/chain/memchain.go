package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// blockInfo is a header plus the hash of its successor, if any is known.
type blockInfo struct {
	header BlockHeader
	next   *chainhash.Hash
}

// Chain is an in-memory, hashmap-keyed view of a run of block headers from
// base (oldest) to tip (newest). It never validates proof of work or
// transaction content — it is the trivial bookkeeping structure the reorg
// logic in ChainMonitor is built on top of.
type Chain struct {
	tip    chainhash.Hash
	base   chainhash.Hash
	blocks map[chainhash.Hash]blockInfo
}

// NewChain creates a single-block chain where tip == base == h.
func NewChain(h BlockHeader) *Chain {
	c := &Chain{
		tip:    h.Hash,
		base:   h.Hash,
		blocks: map[chainhash.Hash]blockInfo{},
	}
	c.blocks[h.Hash] = blockInfo{header: h}
	return c
}

// Clone returns a deep copy, safe to mutate independently of the original.
func (c *Chain) Clone() *Chain {
	blocks := make(map[chainhash.Hash]blockInfo, len(c.blocks))
	for k, v := range c.blocks {
		blocks[k] = v
	}
	return &Chain{tip: c.tip, base: c.base, blocks: blocks}
}

// ChainFromHeaders builds a Chain from headers ordered newest-first (as
// persisted by ChainRepository.GetBlockHeaders). Fails with ErrEmptyChain on
// no input, ErrInvalidChain if any consecutive pair doesn't link.
func ChainFromHeaders(headers []BlockHeader) (*Chain, error) {
	if len(headers) == 0 {
		return nil, ErrEmptyChain
	}
	c := NewChain(headers[0])
	for _, h := range headers[1:] {
		if err := c.Prepend(h); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Tip returns the newest header in the chain.
func (c *Chain) Tip() BlockHeader {
	b, ok := c.blocks[c.tip]
	if !ok {
		panic("chain: does not contain its own tip")
	}
	return b.header
}

// Base returns the oldest header in the chain.
func (c *Chain) Base() BlockHeader {
	b, ok := c.blocks[c.base]
	if !ok {
		panic("chain: does not contain its own base")
	}
	return b.header
}

// Contains reports whether hash is a known block in this chain.
func (c *Chain) Contains(hash chainhash.Hash) bool {
	_, ok := c.blocks[hash]
	return ok
}

// GetBlock returns the header for hash, or ErrBlockNotFound.
func (c *Chain) GetBlock(hash chainhash.Hash) (BlockHeader, error) {
	b, ok := c.blocks[hash]
	if !ok {
		return BlockHeader{}, ErrBlockNotFound
	}
	return b.header, nil
}

// Append adds newTip as the new chain tip. Fails unless newTip.Prev == tip.
func (c *Chain) Append(newTip BlockHeader) error {
	if newTip.Prev != c.tip {
		return ErrInvalidChain
	}
	oldTip, ok := c.blocks[c.tip]
	if !ok {
		panic("chain: does not contain its own tip")
	}
	oldTip.next = &newTip.Hash
	c.blocks[c.tip] = oldTip
	c.tip = newTip.Hash
	c.blocks[newTip.Hash] = blockInfo{header: newTip}
	return nil
}

// Prepend adds base as the new chain base. Fails unless base.Hash == old
// base's Prev.
func (c *Chain) Prepend(base BlockHeader) error {
	oldBase, ok := c.blocks[c.base]
	if !ok {
		panic("chain: does not contain its own base")
	}
	if oldBase.header.Prev != base.Hash {
		return ErrInvalidChain
	}
	oldBaseHash := oldBase.header.Hash
	c.base = base.Hash
	c.blocks[base.Hash] = blockInfo{header: base, next: &oldBaseHash}
	return nil
}

// Rebase extends self further back using other, which must share self's
// base somewhere in its own run. Symmetric counterpart to Retip.
func (c *Chain) Rebase(other *Chain) error {
	next := c.Base()
	for next.Hash != other.base {
		current, err := other.GetBlock(next.Prev)
		if err != nil {
			return err
		}
		if err := c.Prepend(current); err != nil {
			return err
		}
		next = current
	}
	return nil
}

// Retip splices other onto the common ancestor other.Base(), discarding
// everything in self forward of that anchor and replacing it with other's
// forward run. Precondition: other.Base() must already be present in self.
func (c *Chain) Retip(other *Chain) error {
	anchor, ok := c.blocks[other.base]
	if !ok {
		return ErrBlockNotFound
	}

	next := anchor.next
	anchor.next = nil
	c.tip = anchor.header.Hash
	c.blocks[other.base] = anchor

	for next != nil {
		cur, ok := c.blocks[*next]
		if !ok {
			panic("chain: missing expected block during retip")
		}
		delete(c.blocks, *next)
		next = cur.next
	}

	forward := other.IterForwards()
	forward = forward[1:] // skip the anchor, already present in self
	for _, h := range forward {
		if err := c.Append(h); err != nil {
			return err
		}
	}
	return nil
}

// IterForwards returns headers from base to tip.
func (c *Chain) IterForwards() []BlockHeader {
	out := make([]BlockHeader, 0, len(c.blocks))
	cur, ok := c.blocks[c.base]
	if !ok {
		panic("chain: does not contain its own base")
	}
	for {
		out = append(out, cur.header)
		if cur.next == nil {
			break
		}
		cur, ok = c.blocks[*cur.next]
		if !ok {
			panic("chain: missing expected next block")
		}
	}
	return out
}

// IterBackwards returns headers from tip to base.
func (c *Chain) IterBackwards() []BlockHeader {
	out := make([]BlockHeader, 0, len(c.blocks))
	cur, ok := c.blocks[c.tip]
	if !ok {
		panic("chain: does not contain its own tip")
	}
	for {
		out = append(out, cur.header)
		if cur.header.Hash == c.base {
			break
		}
		cur, ok = c.blocks[cur.header.Prev]
		if !ok {
			panic("chain: missing expected prev block")
		}
	}
	return out
}
