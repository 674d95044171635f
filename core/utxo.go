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
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"ledgerchain/store"
)

// UTXOStore is the persistence contract the UTXO set is built on: one
// row per unspent output, keyed by (txid, index).
type UTXOStore interface {
	PutUTXO(txid string, index uint32, raw []byte) error
	GetUTXO(txid string, index uint32) ([]byte, error)
	DeleteUTXO(txid string, index uint32) error
	ForEachUTXO(fn func(key string, raw []byte) error) error
	ClearUTXO() error
}

var _ UTXOStore = (*store.Store)(nil)

// OutPoint names one spendable output.
type OutPoint struct {
	Txid  string
	Index uint32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.Index)
}

// UTXOSet tracks every currently unspent transaction output, mirrored
// to an UTXOStore so it survives a restart without replaying the whole
// chain. Mutations are ordered by the Validator's state lock, whose
// composite operations hold it in write mode; the set's own lock only
// guards its store calls.
type UTXOSet struct {
	mu sync.RWMutex
	st UTXOStore
}

// NewUTXOSet wraps st.
func NewUTXOSet(st UTXOStore) *UTXOSet {
	return &UTXOSet{st: st}
}

func encodeOutput(out TxOutput) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		panic(fmt.Errorf("core: encode output: %w", err))
	}
	return buf.Bytes()
}

func decodeOutput(raw []byte) (TxOutput, error) {
	var out TxOutput
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return TxOutput{}, fmt.Errorf("core: decode output: %w", err)
	}
	return out, nil
}

// Add records out as unspent. Idempotent: adding the same outpoint
// twice just overwrites it with the same value.
func (u *UTXOSet) Add(txid string, index uint32, out TxOutput) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.st.PutUTXO(txid, index, encodeOutput(out))
}

// MarkSpent removes an output from the set. Idempotent: spending an
// already-absent outpoint is not an error.
func (u *UTXOSet) MarkSpent(txid string, index uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.st.DeleteUTXO(txid, index)
}

// IsSpent reports whether (txid, index) is absent from the set, i.e.
// already spent or never existed.
func (u *UTXOSet) IsSpent(txid string, index uint32) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, err := u.st.GetUTXO(txid, index)
	return err != nil
}

// Lookup returns the output at (txid, index) if it is still unspent.
func (u *UTXOSet) Lookup(txid string, index uint32) (TxOutput, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	raw, err := u.st.GetUTXO(txid, index)
	if err != nil {
		return TxOutput{}, false
	}
	out, err := decodeOutput(raw)
	if err != nil {
		return TxOutput{}, false
	}
	return out, true
}

// AddressOf is a lookup helper matching the shape
// Transaction.VerifyInputOwnership expects: resolve (txid, index) to
// the locking address of the unspent output there.
func (u *UTXOSet) AddressOf(txid string, index uint32) (string, bool) {
	out, ok := u.Lookup(txid, index)
	if !ok {
		return "", false
	}
	return out.PubKeyHash, true
}

// BalanceOf sums every unspent output locked to addr.
func (u *UTXOSet) BalanceOf(addr string) (int64, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var total int64
	err := u.st.ForEachUTXO(func(_ string, raw []byte) error {
		out, derr := decodeOutput(raw)
		if derr != nil {
			return derr
		}
		if out.PubKeyHash == addr {
			total += out.Value
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// OutputsFor returns every unspent outpoint and output locked to addr,
// used by the wallet and miner to select spendable inputs.
func (u *UTXOSet) OutputsFor(addr string) (map[OutPoint]TxOutput, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	result := make(map[OutPoint]TxOutput)
	err := u.st.ForEachUTXO(func(key string, raw []byte) error {
		out, derr := decodeOutput(raw)
		if derr != nil {
			return derr
		}
		if out.PubKeyHash != addr {
			return nil
		}
		op, perr := parseUTXOKey(key)
		if perr != nil {
			return perr
		}
		result[op] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseUTXOKey reverses the "txid:0000000042"-shaped key the store
// builds internally for iteration.
func parseUTXOKey(key string) (OutPoint, error) {
	i := bytes.LastIndexByte([]byte(key), ':')
	if i < 0 {
		return OutPoint{}, fmt.Errorf("core: malformed utxo key %q", key)
	}
	txid := key[:i]
	var index uint32
	if _, err := fmt.Sscanf(key[i+1:], "%d", &index); err != nil {
		return OutPoint{}, fmt.Errorf("core: malformed utxo key %q: %w", key, err)
	}
	return OutPoint{Txid: txid, Index: index}, nil
}

// Flush forces the backing store to durable storage, when it supports
// that; every mutation is already written through at the time it
// happens, so this only tightens the fsync guarantee.
func (u *UTXOSet) Flush() error {
	if s, ok := u.st.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// ApplyBlock advances the set by a block already known to be valid:
// every input it spends is removed, every output it creates is added.
func (u *UTXOSet) ApplyBlock(b *Block) error {
	for _, tx := range b.Transactions {
		if !tx.IsCoinbase() {
			for _, vin := range tx.Vins {
				if err := u.MarkSpent(vin.RefTxid, vin.RefIndex); err != nil {
					return err
				}
			}
		}
		for i, vout := range tx.Vouts {
			if err := u.Add(tx.Txid, uint32(i), vout); err != nil {
				return err
			}
		}
	}
	return nil
}

// RebuildFromBlocks clears the set and replays every block in order,
// used after a reorg replaces the active chain.
func (u *UTXOSet) RebuildFromBlocks(blocks []*Block) error {
	u.mu.Lock()
	if err := u.st.ClearUTXO(); err != nil {
		u.mu.Unlock()
		return err
	}
	u.mu.Unlock()

	for _, b := range blocks {
		if err := u.ApplyBlock(b); err != nil {
			return err
		}
	}
	return nil
}
