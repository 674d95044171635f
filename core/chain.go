// Copyright 2021 Hailiang Zhao <hliangzhao@zju.edu.cn>
// This file is part of the lightChain, adapted for ledgerchain.
//
// The lightChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lightChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lightChain. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"fmt"
	"sync"

	"ledgerchain/store"
)

// BlockStore is the persistence contract the chain needs: blocks keyed
// by hash, plus the small set of chain metadata (tip, height, total
// work). go.etcd.io/bbolt's *store.Store satisfies it; tests may supply
// an in-memory fake.
type BlockStore interface {
	PutBlock(hash string, raw []byte) error
	GetBlock(hash string) ([]byte, error)
	DeleteBlock(hash string) error
	ClearBlocks() error
	ForEachBlock(fn func(hash string, raw []byte) error) error
	PutTip(hash string, height uint64) error
	Tip() (string, uint64, error)
	PutTotalWork(total uint64) error
	TotalWork() uint64
}

var _ BlockStore = (*store.Store)(nil)

// workForDifficulty is a single block's contribution to total work.
// Total work is defined as the plain sum of per-block difficulty
// values, not a reconstruction of actual hash-rate.
func workForDifficulty(difficulty int) uint64 {
	if difficulty <= 0 {
		return 0
	}
	return uint64(difficulty)
}

// BlockChain is the append-only, fork-aware sequence of blocks rooted at
// the genesis block, backed by a BlockStore.
type BlockChain struct {
	mu sync.RWMutex

	st BlockStore

	tipHash    string
	height     uint64
	totalWork  uint64
	difficulty int
}

// Open loads an existing chain from st, or bootstraps it with the
// genesis block if st has never seen one.
func Open(st BlockStore) (*BlockChain, error) {
	c := &BlockChain{st: st}

	hash, height, err := st.Tip()
	if err == nil {
		raw, gerr := st.GetBlock(hash)
		if gerr != nil {
			return nil, fmt.Errorf("core: load tip block %s: %w", hash, gerr)
		}
		tip, derr := DecodeBlock(raw)
		if derr != nil {
			return nil, derr
		}
		c.tipHash = hash
		c.height = height
		c.totalWork = st.TotalWork()
		c.difficulty = tip.Header.Difficulty
		return c, nil
	}

	genesis := NewGenesisBlock()
	if err := c.persistGenesis(genesis); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BlockChain) persistGenesis(genesis *Block) error {
	if err := c.st.PutBlock(genesis.Hash, EncodeBlock(genesis)); err != nil {
		return fmt.Errorf("core: persist genesis: %w", err)
	}
	work := workForDifficulty(genesis.Header.Difficulty)
	if err := c.st.PutTotalWork(work); err != nil {
		return err
	}
	if err := c.st.PutTip(genesis.Hash, 0); err != nil {
		return err
	}
	c.tipHash = genesis.Hash
	c.height = 0
	c.totalWork = work
	c.difficulty = genesis.Header.Difficulty
	return nil
}

// Tip returns the current chain head. The read lock is held across
// the store fetch so a concurrent reorg cannot delete the tip block
// out from under the lookup.
func (c *BlockChain) Tip() (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, err := c.st.GetBlock(c.tipHash)
	if err != nil {
		return nil, err
	}
	return DecodeBlock(raw)
}

// TipHash returns the current chain head's hash without decoding it.
func (c *BlockChain) TipHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHash
}

// Height returns the index of the current tip.
func (c *BlockChain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// TotalWork returns the chain's cumulative proof-of-work total.
func (c *BlockChain) TotalWork() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalWork
}

// Difficulty returns the difficulty declared in the current tip's
// header.
func (c *BlockChain) Difficulty() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// BlockByHash fetches and decodes a stored block.
func (c *BlockChain) BlockByHash(hash string) (*Block, error) {
	raw, err := c.st.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	return DecodeBlock(raw)
}

// BlockAt walks prev_hash links back from the tip to find the block at
// height, the read lock held for the whole walk so the path cannot be
// swapped out mid-traversal. O(height - targetHeight); fine for a
// reference node, not for a node serving deep history at scale.
func (c *BlockChain) BlockAt(height uint64) (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, err := c.BlockByHash(c.tipHash)
	if err != nil {
		return nil, err
	}
	for cur.Header.Index > height {
		cur, err = c.BlockByHash(cur.Header.PrevHash)
		if err != nil {
			return nil, err
		}
	}
	if cur.Header.Index != height {
		return nil, fmt.Errorf("core: no block at height %d", height)
	}
	return cur, nil
}

// Append extends the chain with b, which must chain directly onto the
// current tip. Callers (the validator) are responsible for having
// already checked b's proof-of-work and transactions.
func (c *BlockChain) Append(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Header.PrevHash != c.tipHash {
		return fmt.Errorf("core: block %s does not extend tip %s", b.Hash, c.tipHash)
	}
	if err := c.st.PutBlock(b.Hash, EncodeBlock(b)); err != nil {
		return err
	}
	newWork := c.totalWork + workForDifficulty(b.Header.Difficulty)
	if err := c.st.PutTotalWork(newWork); err != nil {
		return err
	}
	if err := c.st.PutTip(b.Hash, b.Header.Index); err != nil {
		return err
	}
	c.tipHash = b.Hash
	c.height = b.Header.Index
	c.totalWork = newWork
	c.difficulty = b.Header.Difficulty
	return nil
}

// ReplaceWith atomically swaps the active chain for blocks, an
// alternative branch with greater total work. The writer lock is held
// from clearing the persistent block store through updating the
// in-memory tip, so a concurrent reader can never observe the window
// where the old tip has been deleted from the store but is still named
// in memory. It fails closed: if any step cannot be persisted, the
// in-memory tip is left untouched so the caller never observes a chain
// state inconsistent with the store.
func (c *BlockChain) ReplaceWith(blocks []*Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("core: cannot replace chain with an empty branch")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.st.ClearBlocks(); err != nil {
		return fmt.Errorf("core: clear block store for reorg: %w", err)
	}

	var totalWork uint64
	for _, b := range blocks {
		if err := c.st.PutBlock(b.Hash, EncodeBlock(b)); err != nil {
			return fmt.Errorf("core: persist reorg block %s: %w", b.Hash, err)
		}
		totalWork += workForDifficulty(b.Header.Difficulty)
	}

	tip := blocks[len(blocks)-1]
	if err := c.st.PutTotalWork(totalWork); err != nil {
		return err
	}
	if err := c.st.PutTip(tip.Hash, tip.Header.Index); err != nil {
		return err
	}

	c.tipHash = tip.Hash
	c.height = tip.Header.Index
	c.totalWork = totalWork
	c.difficulty = tip.Header.Difficulty
	return nil
}

// Blocks returns the full chain from genesis to tip, inclusive, in
// ascending height order, the read lock held for the whole walk.
// Intended for reorg candidate comparison and for serving full-chain
// sync requests; not for routine use on a long chain.
func (c *BlockChain) Blocks() ([]*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip, err := c.BlockByHash(c.tipHash)
	if err != nil {
		return nil, err
	}
	chain := []*Block{tip}
	cur := tip
	for cur.Header.Index > 0 {
		cur, err = c.BlockByHash(cur.Header.PrevHash)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
