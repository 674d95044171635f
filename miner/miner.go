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

// Package miner assembles candidate blocks and searches for a winning
// nonce. A Miner never appends or broadcasts what it finds; the sealed
// block is handed back to the caller, which presents it to the
// validator like any other candidate.
package miner

import (
	"log"
	"math/rand"
	"time"

	"ledgerchain/core"
	"ledgerchain/mempool"
)

const (
	// RetargetWindow is how often (in blocks) difficulty is re-evaluated.
	RetargetWindow = 5
	// TargetInterval is the desired seconds between blocks.
	TargetInterval = int64(10)
	// MinDifficulty is the floor difficulty never retargets below.
	MinDifficulty = 1
	// nonceWheelSize is the width of the shuffled per-process nonce wheel.
	nonceWheelSize = 10000
)

// Miner searches for proof-of-work blocks awarding a subsidy to Address.
type Miner struct {
	chain *core.BlockChain
	utxo  *core.UTXOSet
	pool  *mempool.Mempool

	Address string
	Subsidy int64
	// HalvingInterval, when non-zero, halves Subsidy every that many
	// blocks of height. Zero disables halving (flat subsidy forever).
	HalvingInterval uint64

	wheel *rand.Rand
}

// New builds a Miner awarding subsidy to address, drawing candidates
// from pool and checking them against utxo.
func New(chain *core.BlockChain, utxo *core.UTXOSet, pool *mempool.Mempool, address string, subsidy int64) *Miner {
	return &Miner{
		chain:   chain,
		utxo:    utxo,
		pool:    pool,
		Address: address,
		Subsidy: subsidy,
		wheel:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// subsidyAt applies HalvingInterval-based halving, if enabled.
func (m *Miner) subsidyAt(height uint64) int64 {
	if m.HalvingInterval == 0 {
		return m.Subsidy
	}
	halvings := height / m.HalvingInterval
	s := m.Subsidy
	for i := uint64(0); i < halvings && s > 0; i++ {
		s /= 2
	}
	return s
}

// retarget compares the elapsed time of the last RetargetWindow blocks
// against the target and adjusts difficulty accordingly.
func (m *Miner) retarget(tip *core.Block) int {
	difficulty := tip.Header.Difficulty
	height := tip.Header.Index

	if (height+1)%RetargetWindow != 0 {
		return difficulty
	}
	if height+1 < RetargetWindow {
		return difficulty
	}
	windowStart, err := m.chain.BlockAt(height + 1 - RetargetWindow)
	if err != nil {
		return difficulty
	}

	elapsed := tip.Header.Timestamp - windowStart.Header.Timestamp
	target := TargetInterval * RetargetWindow

	switch {
	case elapsed < (target*9)/10:
		return difficulty + 1
	case elapsed > (target*11)/10:
		if difficulty-1 < MinDifficulty {
			return MinDifficulty
		}
		return difficulty - 1
	default:
		return difficulty
	}
}

// selectTransactions picks up to MaxBlockTxs-1 candidates from the
// mempool in fee-descending order, skipping any whose inputs collide
// with an already-selected input in this block or whose re-validation
// against the current UTXO set fails.
func (m *Miner) selectTransactions() ([]core.Transaction, int64) {
	candidates := m.pool.Top(core.MaxBlockTxs - 1)
	selected := make([]core.Transaction, 0, len(candidates))
	used := make(map[core.OutPoint]bool)
	var feeTotal int64

	for _, tx := range candidates {
		collision := false
		for _, vin := range tx.Vins {
			if used[core.OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}] {
				collision = true
				break
			}
		}
		if collision {
			log.Printf("miner: skipping tx %s, input collides within block", tx.Txid)
			continue
		}

		var inputSum int64
		ok := true
		for _, vin := range tx.Vins {
			out, found := m.utxo.Lookup(vin.RefTxid, vin.RefIndex)
			if !found {
				ok = false
				break
			}
			inputSum += out.Value
		}
		if !ok || !tx.Verify() {
			log.Printf("miner: skipping tx %s, fails re-validation against current UTXO set", tx.Txid)
			continue
		}
		var outputSum int64
		for _, vout := range tx.Vouts {
			outputSum += vout.Value
		}
		if inputSum < outputSum+tx.Fee {
			log.Printf("miner: skipping tx %s, insufficient input value", tx.Txid)
			continue
		}

		for _, vin := range tx.Vins {
			used[core.OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}] = true
		}
		selected = append(selected, *tx)
		feeTotal += tx.Fee
	}
	return selected, feeTotal
}

// searchNonce enumerates nonces on a freshly shuffled 0..nonceWheelSize-1
// wheel, repeated with an incrementing base, until the header hash
// meets difficulty. Distinct Miner instances (and so distinct
// processes) diverge because each owns its own shuffled wheel.
func (m *Miner) searchNonce(header *core.Header, difficulty int) uint64 {
	wheel := m.wheel.Perm(nonceWheelSize)
	var base uint64
	for {
		for _, offset := range wheel {
			nonce := base*nonceWheelSize + uint64(offset)
			header.Nonce = nonce
			if core.MeetsDifficulty(header.Hash(), difficulty) {
				return nonce
			}
		}
		base++
	}
}

// MineBlock assembles a full candidate block extending the current tip
// and searches for a winning nonce. It does not append or broadcast
// the result; the caller must present it to the validator.
func (m *Miner) MineBlock() (*core.Block, error) {
	tip, err := m.chain.Tip()
	if err != nil {
		return nil, err
	}

	difficulty := m.retarget(tip)
	nextHeight := tip.Header.Index + 1
	subsidy := m.subsidyAt(nextHeight)

	coinbase, err := core.NewCoinbaseTx(m.Address, uint32(nextHeight), subsidy)
	if err != nil {
		return nil, err
	}

	selected, feeTotal := m.selectTransactions()
	if feeTotal > 0 {
		log.Printf("miner: block %d carries %d in fees, not credited to the coinbase", nextHeight, feeTotal)
	}
	txs := make([]core.Transaction, 0, len(selected)+1)
	txs = append(txs, *coinbase)
	txs = append(txs, selected...)

	block := core.NewBlock(nextHeight, time.Now().Unix(), tip.Hash, difficulty, txs)
	nonce := m.searchNonce(&block.Header, difficulty)
	block.Header.Nonce = nonce
	block.Hash = block.ComputeHash()

	return block, nil
}
