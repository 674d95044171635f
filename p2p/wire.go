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

package p2p

import (
	"encoding/hex"
	"fmt"

	"ledgerchain/core"
)

// headerWire is the JSON image of a block header on the wire: the
// canonical field-keyed structure peers exchange.
type headerWire struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	PrevHash   string `json:"prev_hash"`
	Difficulty int    `json:"difficulty"`
	MerkleRoot string `json:"merkle_root"`
	Nonce      uint64 `json:"nonce"`
}

type vinWire struct {
	RefTxid   string `json:"ref_txid"`
	RefIndex  uint32 `json:"ref_index"`
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
	Sequence  uint32 `json:"sequence"`
}

type voutWire struct {
	Value      int64  `json:"value"`
	PubKeyHash string `json:"pubkey_hash"`
}

type txWire struct {
	Txid     string     `json:"Txid"`
	Vins     []vinWire  `json:"vins"`
	Vouts    []voutWire `json:"vouts"`
	LockTime uint32     `json:"lockTime"`
	Fee      int64      `json:"fee"`
}

type blockWire struct {
	Header       headerWire `json:"header"`
	Transactions []txWire   `json:"transactions"`
	Hash         string     `json:"hash"`
}

func encodeTxWire(tx core.Transaction) txWire {
	vins := make([]vinWire, len(tx.Vins))
	for i, vin := range tx.Vins {
		vins[i] = vinWire{
			RefTxid:   vin.RefTxid,
			RefIndex:  vin.RefIndex,
			PubKey:    hex.EncodeToString(vin.PubKey),
			Signature: hex.EncodeToString(vin.Signature),
			Sequence:  vin.Sequence,
		}
	}
	vouts := make([]voutWire, len(tx.Vouts))
	for i, vout := range tx.Vouts {
		vouts[i] = voutWire{Value: vout.Value, PubKeyHash: vout.PubKeyHash}
	}
	return txWire{
		Txid:     tx.Txid,
		Vins:     vins,
		Vouts:    vouts,
		LockTime: tx.LockTime,
		Fee:      tx.Fee,
	}
}

func decodeTxWire(w txWire) (core.Transaction, error) {
	vins := make([]core.TxInput, len(w.Vins))
	for i, vin := range w.Vins {
		pubKey, err := hex.DecodeString(vin.PubKey)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("p2p: malformed vin pubkey: %w", err)
		}
		sig, err := hex.DecodeString(vin.Signature)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("p2p: malformed vin signature: %w", err)
		}
		vins[i] = core.TxInput{
			RefTxid:   vin.RefTxid,
			RefIndex:  vin.RefIndex,
			PubKey:    pubKey,
			Signature: sig,
			Sequence:  vin.Sequence,
		}
	}
	vouts := make([]core.TxOutput, len(w.Vouts))
	for i, vout := range w.Vouts {
		vouts[i] = core.TxOutput{Value: vout.Value, PubKeyHash: vout.PubKeyHash}
	}
	return core.Transaction{
		Txid:     w.Txid,
		Vins:     vins,
		Vouts:    vouts,
		LockTime: w.LockTime,
		Fee:      w.Fee,
	}, nil
}

func encodeBlockWire(b *core.Block) blockWire {
	txs := make([]txWire, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = encodeTxWire(tx)
	}
	return blockWire{
		Header: headerWire{
			Index:      b.Header.Index,
			Timestamp:  b.Header.Timestamp,
			PrevHash:   b.Header.PrevHash,
			Difficulty: b.Header.Difficulty,
			MerkleRoot: b.Header.MerkleRoot,
			Nonce:      b.Header.Nonce,
		},
		Transactions: txs,
		Hash:         b.Hash,
	}
}

func decodeBlockWire(w blockWire) (*core.Block, error) {
	txs := make([]core.Transaction, len(w.Transactions))
	for i, tw := range w.Transactions {
		tx, err := decodeTxWire(tw)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &core.Block{
		Header: core.Header{
			Index:      w.Header.Index,
			Timestamp:  w.Header.Timestamp,
			PrevHash:   w.Header.PrevHash,
			Difficulty: w.Header.Difficulty,
			MerkleRoot: w.Header.MerkleRoot,
			Nonce:      w.Header.Nonce,
		},
		Transactions: txs,
		Hash:         w.Hash,
	}, nil
}
