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
)

// MempoolPruner is the slice of the mempool the validator needs: drop
// transactions whose inputs a newly-accepted block consumed, and wipe
// everything on a reorg, since pending transactions must be
// re-submitted once their inputs may no longer exist.
type MempoolPruner interface {
	Remove(txid string)
	RemoveSpent(ops []OutPoint)
	Clear()
}

// Validator runs the end-to-end block and chain verification rules of
// the chain's acceptance policy and owns the composite
// (validate + append + UTXO update + mempool prune) and
// (validate + replace + UTXO rebuild + mempool clear) operations.
//
// mu is the node's single logical state lock co-protecting the chain,
// UTXO set and mempool across component boundaries: both composites
// run under it in write mode, so no reader going through View can ever
// observe a replaced chain next to a UTXO set still being rebuilt.
// The per-component locks below it only guard each component's own
// store calls.
type Validator struct {
	mu    sync.RWMutex
	chain *BlockChain
	utxo  *UTXOSet
	pool  MempoolPruner
}

// NewValidator wires a Validator to the chain, UTXO set and mempool it
// must keep consistent with one another.
func NewValidator(chain *BlockChain, utxo *UTXOSet, pool MempoolPruner) *Validator {
	return &Validator{chain: chain, utxo: utxo, pool: pool}
}

// View runs fn with the state lock held in read mode. Queries spanning
// the chain, UTXO set or mempool run inside it so they never interleave
// with a half-applied composite operation.
func (v *Validator) View(fn func()) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn()
}

// Update runs fn with the state lock held in write mode, ordering it
// against block acceptance and reorganization. Mempool admission goes
// through here: an entry must never be validated against a UTXO set a
// concurrent reorg is about to discard.
func (v *Validator) Update(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn()
}

// ValidateAndAppend runs single-block validation (rules a-h) against
// the current tip and, on success, atomically appends the block,
// updates the real UTXO set from the shadow deltas, and prunes mempool
// entries the block consumed. The whole composite runs under the state
// lock in write mode.
func (v *Validator) ValidateAndAppend(b *Block) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tip, err := v.chain.Tip()
	if err != nil {
		return fmt.Errorf("core: validator: load tip: %w", err)
	}

	if err := v.checkAgainstPredecessor(b, tip); err != nil {
		return err
	}

	shadowSpent, err := v.checkTransactions(b)
	if err != nil {
		return err
	}

	if err := v.chain.Append(b); err != nil {
		return fmt.Errorf("core: validator: append: %w", err)
	}
	if err := v.utxo.ApplyBlock(b); err != nil {
		return fmt.Errorf("core: validator: utxo update: %w", err)
	}
	if v.pool != nil {
		for _, tx := range b.Transactions {
			v.pool.Remove(tx.Txid)
		}
		ops := make([]OutPoint, 0, len(shadowSpent))
		for op := range shadowSpent {
			ops = append(ops, op)
		}
		v.pool.RemoveSpent(ops)
	}
	return nil
}

// checkAgainstPredecessor implements rules a-f: index/prev-hash
// continuity, recomputed block hash, proof-of-work, coinbase position,
// Merkle root.
func (v *Validator) checkAgainstPredecessor(b *Block, predecessor *Block) error {
	if b.Header.Index != predecessor.Header.Index+1 {
		return fmt.Errorf("core: validator: block index %d does not follow %d", b.Header.Index, predecessor.Header.Index)
	}
	if b.Header.PrevHash != predecessor.Hash {
		return fmt.Errorf("core: validator: prev_hash %s does not match tip %s", b.Header.PrevHash, predecessor.Hash)
	}
	if got := b.ComputeHash(); got != b.Hash {
		return fmt.Errorf("core: validator: block hash mismatch: recomputed %s, stored %s", got, b.Hash)
	}
	headerHash := b.Header.Hash()
	if !MeetsDifficulty(headerHash, b.Header.Difficulty) {
		return fmt.Errorf("core: validator: header hash %s does not meet difficulty %d", headerHash, b.Header.Difficulty)
	}
	if len(b.Transactions) > MaxBlockTxs {
		return fmt.Errorf("core: validator: block carries %d transactions, over the %d cap", len(b.Transactions), MaxBlockTxs)
	}
	if len(b.Transactions) == 0 || !b.Transactions[0].IsCoinbase() {
		return fmt.Errorf("core: validator: first transaction is not coinbase")
	}
	for _, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return fmt.Errorf("core: validator: coinbase transaction %s out of position", tx.Txid)
		}
	}
	if got := b.computeMerkleRoot(); got != b.Header.MerkleRoot {
		return fmt.Errorf("core: validator: merkle root mismatch: recomputed %s, header %s", got, b.Header.MerkleRoot)
	}
	return nil
}

// checkTransactions implements rules g-h: every non-coinbase
// transaction validated against a shadow UTXO set seeded from the real
// one, with each accepted input immediately marked spent in the
// shadow, catching any intra-block double-spend.
func (v *Validator) checkTransactions(b *Block) (map[OutPoint]bool, error) {
	shadowSpent := make(map[OutPoint]bool)

	for i, tx := range b.Transactions {
		if i == 0 {
			continue
		}
		var inputSum int64
		for _, vin := range tx.Vins {
			op := OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}
			if shadowSpent[op] {
				return nil, fmt.Errorf("core: validator: tx %s double-spends %s within block", tx.Txid, op)
			}
			out, ok := v.utxo.Lookup(op.Txid, op.Index)
			if !ok {
				return nil, fmt.Errorf("core: validator: tx %s references unknown or spent output %s", tx.Txid, op)
			}
			inputSum += out.Value
		}
		if !tx.Verify() {
			return nil, fmt.Errorf("core: validator: tx %s has an invalid signature", tx.Txid)
		}
		if !tx.VerifyInputOwnership(v.utxo.AddressOf) {
			return nil, fmt.Errorf("core: validator: tx %s spends an output it does not own", tx.Txid)
		}
		var outputSum int64
		for _, vout := range tx.Vouts {
			outputSum += vout.Value
		}
		if inputSum < outputSum+tx.Fee {
			return nil, fmt.Errorf("core: validator: tx %s spends more than it receives", tx.Txid)
		}
		for _, vin := range tx.Vins {
			shadowSpent[OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}] = true
		}
	}
	return shadowSpent, nil
}

// ValidateChain runs whole-chain validation over a candidate branch,
// in ascending height order starting from its genesis block. Beyond
// the structural rules, every non-coinbase transaction is validated
// against a scratch UTXO view built up block by block, so a candidate
// carrying a double-spend, a bad signature or an overspend anywhere in
// its history is rejected before adoption.
func ValidateChain(blocks []*Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("core: validator: empty candidate chain")
	}
	genesis := blocks[0]
	if genesis.Header.PrevHash != GenesisPrevHash {
		return fmt.Errorf("core: validator: candidate genesis prev_hash is not all-zero")
	}
	if genesis.Header.Index != 0 {
		return fmt.Errorf("core: validator: candidate genesis index is not 0")
	}

	scratch := make(map[OutPoint]TxOutput)
	addressOf := func(txid string, idx uint32) (string, bool) {
		out, ok := scratch[OutPoint{Txid: txid, Index: idx}]
		if !ok {
			return "", false
		}
		return out.PubKeyHash, true
	}
	applyTx := func(tx *Transaction) {
		if !tx.IsCoinbase() {
			for _, vin := range tx.Vins {
				delete(scratch, OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex})
			}
		}
		for i, vout := range tx.Vouts {
			scratch[OutPoint{Txid: tx.Txid, Index: uint32(i)}] = vout
		}
	}

	for i, cur := range blocks {
		if i > 0 {
			prev := blocks[i-1]
			if cur.Header.Index != prev.Header.Index+1 {
				return fmt.Errorf("core: validator: candidate indices not strictly sequential at height %d", cur.Header.Index)
			}
			if cur.Header.PrevHash != prev.Hash {
				return fmt.Errorf("core: validator: candidate prev_hash mismatch at height %d", cur.Header.Index)
			}
			if got := cur.ComputeHash(); got != cur.Hash {
				return fmt.Errorf("core: validator: candidate block hash mismatch at height %d", cur.Header.Index)
			}
			headerHash := cur.Header.Hash()
			if !MeetsDifficulty(headerHash, cur.Header.Difficulty) {
				return fmt.Errorf("core: validator: candidate PoW not met at height %d", cur.Header.Index)
			}
			if len(cur.Transactions) > MaxBlockTxs {
				return fmt.Errorf("core: validator: candidate block at height %d over the %d transaction cap", cur.Header.Index, MaxBlockTxs)
			}
			if len(cur.Transactions) == 0 || !cur.Transactions[0].IsCoinbase() {
				return fmt.Errorf("core: validator: candidate coinbase missing at height %d", cur.Header.Index)
			}
			if got := cur.computeMerkleRoot(); got != cur.Header.MerkleRoot {
				return fmt.Errorf("core: validator: candidate merkle root mismatch at height %d", cur.Header.Index)
			}
		}

		for j := range cur.Transactions {
			tx := &cur.Transactions[j]
			if tx.IsCoinbase() {
				if j != 0 {
					return fmt.Errorf("core: validator: candidate coinbase %s out of position at height %d", tx.Txid, cur.Header.Index)
				}
				applyTx(tx)
				continue
			}
			var inputSum int64
			for _, vin := range tx.Vins {
				out, ok := scratch[OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}]
				if !ok {
					return fmt.Errorf("core: validator: candidate tx %s at height %d spends an unknown or spent output", tx.Txid, cur.Header.Index)
				}
				inputSum += out.Value
			}
			if !tx.Verify() {
				return fmt.Errorf("core: validator: candidate tx %s at height %d has an invalid signature", tx.Txid, cur.Header.Index)
			}
			if !tx.VerifyInputOwnership(addressOf) {
				return fmt.Errorf("core: validator: candidate tx %s at height %d spends an output it does not own", tx.Txid, cur.Header.Index)
			}
			var outputSum int64
			for _, vout := range tx.Vouts {
				outputSum += vout.Value
			}
			if inputSum < outputSum+tx.Fee {
				return fmt.Errorf("core: validator: candidate tx %s at height %d spends more than it receives", tx.Txid, cur.Header.Index)
			}
			applyTx(tx)
		}
	}

	if uint64(len(blocks)-1) != blocks[len(blocks)-1].Header.Index {
		return fmt.Errorf("core: validator: candidate height and block count disagree")
	}
	return nil
}

// candidateTotalWork sums workForDifficulty over every header in blocks.
func candidateTotalWork(blocks []*Block) uint64 {
	var total uint64
	for _, b := range blocks {
		total += workForDifficulty(b.Header.Difficulty)
	}
	return total
}

// ShouldAdoptChain implements the fork-choice predicate: adopt
// candidate over the local tip when it is strictly taller, or equal
// height with strictly greater total work.
func ShouldAdoptChain(localHeight uint64, localWork uint64, candidate []*Block) bool {
	if len(candidate) == 0 {
		return false
	}
	candHeight := candidate[len(candidate)-1].Header.Index
	if candHeight > localHeight {
		return true
	}
	if candHeight == localHeight && candidateTotalWork(candidate) > localWork {
		return true
	}
	return false
}

// AdoptChain validates candidate and, if it passes and is preferable to
// the current local chain, atomically replaces the chain, rebuilds the
// UTXO set, and clears the mempool. The whole composite runs under the
// state lock in write mode, so no View reader sees the new chain with
// the old UTXO set. Returns (adopted, error); adopted is false with a
// nil error when the candidate simply loses fork choice rather than
// failing validation.
func (v *Validator) AdoptChain(candidate []*Block) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !ShouldAdoptChain(v.chain.Height(), v.chain.TotalWork(), candidate) {
		return false, nil
	}
	if err := ValidateChain(candidate); err != nil {
		return false, fmt.Errorf("core: validator: candidate chain rejected: %w", err)
	}
	if err := v.chain.ReplaceWith(candidate); err != nil {
		return false, fmt.Errorf("core: validator: replace chain: %w", err)
	}
	if err := v.utxo.RebuildFromBlocks(candidate); err != nil {
		return false, fmt.Errorf("core: validator: rebuild utxo: %w", err)
	}
	if v.pool != nil {
		v.pool.Clear()
	}
	return true, nil
}
