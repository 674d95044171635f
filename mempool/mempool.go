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

// Package mempool holds validated, unconfirmed transactions awaiting a
// block, fee-ordered for selection and mirrored to a persistent
// collaborator so a restart does not lose them.
package mempool

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"ledgerchain/core"
)

// Store is the persistence contract mempool entries are mirrored
// through.
type Store interface {
	PutMempoolTx(txid string, raw []byte) error
	DeleteMempoolTx(txid string) error
	ForEachMempoolTx(fn func(txid string, raw []byte) error) error
}

// entry is a validated, non-coinbase transaction not yet included in
// any block, plus its declared fee and cached raw size.
type entry struct {
	tx      *core.Transaction
	fee     int64
	rawSize int
	seq     uint64
}

// Mempool tracks pending transactions and keeps its own optimistic
// view of them: admission reserves the outpoints a pending entry
// spends and provisionally records the outputs it creates, so chained
// mempool spends validate before any block confirms them. This view
// is layered on top of the authoritative UTXOSet, not written into
// it: the UTXO set stays confirmed-chain-only ground truth so the
// miner and the chain validator, which both re-check candidates
// against it, keep seeing a spendable output until a block actually
// consumes it.
type Mempool struct {
	mu sync.Mutex

	utxo     *core.UTXOSet
	st       Store
	entries  map[string]*entry
	seq      uint64
	curBytes int
	maxBytes int

	// reserved maps an outpoint a pending entry spends to the txid
	// holding the reservation, so a second pending entry cannot also
	// claim it.
	reserved map[core.OutPoint]string
	// provisional holds the outputs pending entries create, so a
	// chained spend (one pending tx spending another's not-yet-mined
	// output) can still be validated.
	provisional map[core.OutPoint]core.TxOutput
}

// New builds a Mempool bounded at maxBytes of raw transaction data,
// backed by utxo for admission checks, and mirrored to st for restart
// durability.
func New(utxo *core.UTXOSet, st Store, maxBytes int) *Mempool {
	return &Mempool{
		utxo:        utxo,
		st:          st,
		entries:     make(map[string]*entry),
		maxBytes:    maxBytes,
		reserved:    make(map[core.OutPoint]string),
		provisional: make(map[core.OutPoint]core.TxOutput),
	}
}

// lookupLocked resolves an outpoint against the confirmed UTXO set
// first, then against outputs other pending entries provisionally
// created. Must be called with mu held.
func (m *Mempool) lookupLocked(op core.OutPoint) (core.TxOutput, bool) {
	if out, ok := m.utxo.Lookup(op.Txid, op.Index); ok {
		return out, true
	}
	out, ok := m.provisional[op]
	return out, ok
}

// addressOfLocked adapts lookupLocked to the shape
// Transaction.VerifyInputOwnership expects. Must be called with mu
// held; Add holds it for the whole admission check.
func (m *Mempool) addressOfLocked(txid string, index uint32) (string, bool) {
	out, ok := m.lookupLocked(core.OutPoint{Txid: txid, Index: index})
	if !ok {
		return "", false
	}
	return out.PubKeyHash, true
}

func encodeTx(tx *core.Transaction) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tx); err != nil {
		panic(fmt.Errorf("mempool: encode tx: %w", err))
	}
	return buf.Bytes()
}

// DecodeTx reverses encodeTx, exported for the peer network's restart
// reload path.
func DecodeTx(raw []byte) (*core.Transaction, error) {
	var tx core.Transaction
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&tx); err != nil {
		return nil, fmt.Errorf("mempool: decode tx: %w", err)
	}
	return &tx, nil
}

// LoadFromStore replays every mirrored transaction back into the
// mempool on startup. Transactions whose inputs are no longer
// available (consumed by a block while the node was down) are
// silently dropped.
func (m *Mempool) LoadFromStore() error {
	var loaded []*core.Transaction
	err := m.st.ForEachMempoolTx(func(_ string, raw []byte) error {
		tx, derr := DecodeTx(raw)
		if derr != nil {
			return derr
		}
		loaded = append(loaded, tx)
		return nil
	})
	if err != nil {
		return err
	}
	for _, tx := range loaded {
		m.Add(tx)
	}
	return nil
}

// Add runs transaction-level admission checks and, on success, records
// the entry and reserves its inputs/outputs in the mempool's
// optimistic overlay. Returns false without any state change on
// rejection.
func (m *Mempool) Add(tx *core.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[tx.Txid]; exists {
		return false
	}
	if tx.IsCoinbase() {
		return false
	}

	var inputSum int64
	for _, vin := range tx.Vins {
		op := core.OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}
		if _, claimed := m.reserved[op]; claimed {
			return false
		}
		out, ok := m.lookupLocked(op)
		if !ok {
			return false
		}
		inputSum += out.Value
	}
	if !tx.Verify() {
		return false
	}
	if !tx.VerifyInputOwnership(m.addressOfLocked) {
		return false
	}
	var outputSum int64
	for _, vout := range tx.Vouts {
		if !core.ValidateAddress(vout.PubKeyHash) {
			return false
		}
		outputSum += vout.Value
	}
	if inputSum < outputSum+tx.Fee {
		return false
	}

	rawSize := len(tx.Serialize())
	if m.curBytes+rawSize > m.maxBytes {
		if !m.makeRoom(rawSize, tx.Fee) {
			return false
		}
	}

	if err := m.admit(tx, tx.Fee, rawSize); err != nil {
		return false
	}
	return true
}

// admit performs the actual bookkeeping for a transaction that has
// already passed validation: it reserves the outpoints tx spends and
// provisionally records the outputs it creates, in the mempool's own
// overlay, leaving the authoritative UTXO set untouched until a block
// actually confirms the transaction.
func (m *Mempool) admit(tx *core.Transaction, fee int64, rawSize int) error {
	if err := m.st.PutMempoolTx(tx.Txid, encodeTx(tx)); err != nil {
		return err
	}
	for _, vin := range tx.Vins {
		m.reserved[core.OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}] = tx.Txid
	}
	for i, vout := range tx.Vouts {
		m.provisional[core.OutPoint{Txid: tx.Txid, Index: uint32(i)}] = vout
	}
	m.seq++
	m.entries[tx.Txid] = &entry{tx: tx, fee: fee, rawSize: rawSize, seq: m.seq}
	m.curBytes += rawSize
	return nil
}

// releaseLocked drops e's reservations and provisional outputs from
// the overlay without touching the authoritative UTXO set. Must be
// called with mu held.
func (m *Mempool) releaseLocked(e *entry) {
	for _, vin := range e.tx.Vins {
		op := core.OutPoint{Txid: vin.RefTxid, Index: vin.RefIndex}
		if m.reserved[op] == e.tx.Txid {
			delete(m.reserved, op)
		}
	}
	for i := range e.tx.Vouts {
		delete(m.provisional, core.OutPoint{Txid: e.tx.Txid, Index: uint32(i)})
	}
}

// makeRoom evicts entries with a strictly lower fee/raw_size ratio
// than the incoming transaction, lowest first, until room exists for
// it. If even evicting every such entry would not make room, which
// includes the case where the incoming transaction is itself the
// lowest-ratio candidate, it returns false without evicting anything.
func (m *Mempool) makeRoom(needed int, fee int64) bool {
	if needed > m.maxBytes {
		return false
	}
	newRatio := float64(fee) / float64(needed)

	ids := make([]string, 0, len(m.entries))
	evictable := 0
	for id, e := range m.entries {
		if float64(e.fee)/float64(e.rawSize) < newRatio {
			ids = append(ids, id)
			evictable += e.rawSize
		}
	}
	if m.curBytes-evictable+needed > m.maxBytes {
		return false
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := m.entries[ids[i]], m.entries[ids[j]]
		ra := float64(a.fee) / float64(a.rawSize)
		rb := float64(b.fee) / float64(b.rawSize)
		if ra != rb {
			return ra < rb
		}
		return a.seq < b.seq
	})
	for _, id := range ids {
		if m.curBytes+needed <= m.maxBytes {
			break
		}
		m.evictLocked(id)
	}
	return m.curBytes+needed <= m.maxBytes
}

// evictLocked drops an entry and releases the outpoint reservation and
// provisional outputs it held in the overlay. Must be called with mu
// held. Any other still-pending entry that chained a spend off this
// one's provisional outputs is left referencing a now-vanished output
// and will itself fail re-admission or eventually be pruned; the
// mempool does not track that dependency graph.
func (m *Mempool) evictLocked(txid string) {
	e, ok := m.entries[txid]
	if !ok {
		return
	}
	m.releaseLocked(e)
	_ = m.st.DeleteMempoolTx(txid)
	m.curBytes -= e.rawSize
	delete(m.entries, txid)
}

// Remove drops a confirmed entry's bookkeeping: the owning block
// already applied the real effect to the UTXO set via ApplyBlock, so
// the entry's reservation and provisional outputs in the overlay are
// simply released, not replayed.
func (m *Mempool) Remove(txid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txid]
	if !ok {
		return
	}
	m.releaseLocked(e)
	_ = m.st.DeleteMempoolTx(txid)
	m.curBytes -= e.rawSize
	delete(m.entries, txid)
}

// RemoveSpent drops every pending entry referencing one of the given
// outpoints. A newly-accepted block may consume an output a pending
// transaction also spends without sharing its txid; such an entry is
// now an unmineable double-spend and is evicted.
func (m *Mempool) RemoveSpent(ops []core.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if txid, ok := m.reserved[op]; ok {
			m.evictLocked(txid)
		}
	}
}

// Replace implements RBF: newTx is admitted in place of oldTxid only
// if its declared fee is strictly greater. Otherwise the call fails
// without any state change.
func (m *Mempool) Replace(oldTxid string, newTx *core.Transaction) bool {
	m.mu.Lock()
	old, ok := m.entries[oldTxid]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if newTx.Fee <= old.fee {
		return false
	}

	m.mu.Lock()
	m.evictLocked(oldTxid)
	m.mu.Unlock()

	if m.Add(newTx) {
		return true
	}
	// Admission failed after the old entry was already evicted; restore
	// it rather than leave the mempool with neither transaction.
	m.mu.Lock()
	_ = m.admit(old.tx, old.fee, old.rawSize)
	m.mu.Unlock()
	return false
}

// Top returns up to n pending transactions in fee-descending order,
// ties broken by insertion order.
func (m *Mempool) Top(n int) []*core.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.entries[ids[i]], m.entries[ids[j]]
		if a.fee != b.fee {
			return a.fee > b.fee
		}
		return a.seq < b.seq
	})
	if n > len(ids) {
		n = len(ids)
	}
	out := make([]*core.Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = m.entries[ids[i]].tx
	}
	return out
}

// Clear empties the mempool outright, used when a reorg replaces the
// chain: pending transactions must be re-submitted since their inputs
// may no longer exist.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for txid := range m.entries {
		_ = m.st.DeleteMempoolTx(txid)
	}
	m.entries = make(map[string]*entry)
	m.reserved = make(map[core.OutPoint]string)
	m.provisional = make(map[core.OutPoint]core.TxOutput)
	m.curBytes = 0
}

// CurrentBytes returns the total raw size of pending transactions.
func (m *Mempool) CurrentBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curBytes
}

// MaxBytes returns the configured mempool capacity.
func (m *Mempool) MaxBytes() int {
	return m.maxBytes
}

// Len reports how many transactions are pending.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
