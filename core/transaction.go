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
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// CoinbaseRefTxid is the 64-character all-zero sentinel a coinbase input
// references in place of a real previous transaction.
const CoinbaseRefTxid = "0000000000000000000000000000000000000000000000000000000000000000"

// CoinbaseRefIndex is the sentinel vout index of every coinbase input.
const CoinbaseRefIndex = 0xFFFFFFFF

// SystemPubKey is the conventional, constant public key recorded on every
// coinbase input. It never signs anything; coinbase inputs are not
// separately verified, only shape-checked.
var SystemPubKey = []byte{
	0x02, 0x65, 0xab, 0xc0, 0x3f, 0xbd, 0xc8, 0x2e, 0x4e, 0x33, 0x12, 0xcb, 0xa1, 0x61, 0xf9, 0x20,
	0x34, 0x53, 0x3f, 0xe3, 0xc1, 0x1c, 0x5d, 0xa3, 0x10, 0x02, 0x1e, 0xd3, 0xd7, 0x38, 0xc5, 0x7d, 0xa4,
}

// TxInput is one input of a Transaction: a reference to a previous output
// plus the unlocking data that proves the right to spend it.
type TxInput struct {
	RefTxid   string // hex txid of the referenced transaction
	RefIndex  uint32 // vout index within that transaction
	PubKey    []byte // spender's public key (compressed or uncompressed)
	Signature []byte // DER signature over the tx's signature message
	Sequence  uint32
}

// TxOutput is one output of a Transaction: an amount locked to an address.
type TxOutput struct {
	Value      int64
	PubKeyHash string // address string; opaque for storage, decodable for verification
}

// Transaction is a set of inputs spending previous outputs and the new
// outputs they fund, plus an nLockTime field and a declared fee.
type Transaction struct {
	Txid     string
	Vins     []TxInput
	Vouts    []TxOutput
	LockTime uint32
	Fee      int64 // declared fee; not part of the canonical serialization
}

// IsCoinbase reports whether tx is the block-reward transaction.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vins) == 1 && len(tx.Vouts) == 1 &&
		tx.Vins[0].RefTxid == CoinbaseRefTxid && tx.Vins[0].RefIndex == CoinbaseRefIndex
}

// NewCoinbaseTx builds the block-reward transaction awarding subsidy (plus,
// optionally, fees aggregated by the caller) to minerAddr. The extra-nonce
// mixes blockHeight with 8 random bytes so distinct coinbases at the same
// height never collide.
func NewCoinbaseTx(minerAddr string, blockHeight uint32, subsidy int64) (*Transaction, error) {
	extraNonce := make([]byte, 8)
	if _, err := rand.Read(extraNonce); err != nil {
		return nil, fmt.Errorf("coinbase extra-nonce: %w", err)
	}
	heightPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(heightPrefix, blockHeight)
	scriptSig := append(heightPrefix, extraNonce...)

	tx := &Transaction{
		Vins: []TxInput{{
			RefTxid:   CoinbaseRefTxid,
			RefIndex:  CoinbaseRefIndex,
			PubKey:    SystemPubKey,
			Signature: scriptSig,
			Sequence:  0xFFFFFFFF,
		}},
		Vouts: []TxOutput{{
			Value:      subsidy,
			PubKeyHash: minerAddr,
		}},
		LockTime: blockHeight,
	}
	tx.Txid = tx.ComputeTxid()
	return tx, nil
}

// NewTransaction builds and signs a standard P2PKH transaction spending
// the given inputs (already resolved against the UTXO set by the caller)
// to the given outputs, declaring fee explicitly.
func NewTransaction(vins []TxInput, vouts []TxOutput, fee int64, key *KeyPair) *Transaction {
	tx := &Transaction{Vins: vins, Vouts: vouts, Fee: fee}
	tx.Sign(key)
	tx.Txid = tx.ComputeTxid()
	return tx
}

// Sign signs every input of tx with key over tx's signature message.
// Coinbase transactions are not signed; only ordinary spends carry
// signatures.
func (tx *Transaction) Sign(key *KeyPair) {
	if tx.IsCoinbase() {
		return
	}
	msg := tx.SignatureMessage()
	pub := key.Public.SerializeCompressed()
	for i := range tx.Vins {
		tx.Vins[i].PubKey = pub
		tx.Vins[i].Signature = Sign(key.Private, msg)
	}
}

// Verify checks every input's signature against its declared public key
// over tx's signature message. Coinbase transactions are always valid
// here; callers must separately enforce coinbase shape (single vin/vout,
// first position in block).
func (tx *Transaction) Verify() bool {
	if tx.IsCoinbase() {
		return true
	}
	msg := tx.SignatureMessage()
	for _, vin := range tx.Vins {
		if !Verify(vin.PubKey, vin.Signature, msg) {
			return false
		}
	}
	return true
}

// VerifyInputOwnership checks that every input's declared public key
// actually hashes to the address that locked the output it references.
// addressOf resolves (RefTxid, RefIndex) -> locking address.
func (tx *Transaction) VerifyInputOwnership(addressOf func(txid string, idx uint32) (string, bool)) bool {
	if tx.IsCoinbase() {
		return true
	}
	for _, vin := range tx.Vins {
		addr, ok := addressOf(vin.RefTxid, vin.RefIndex)
		if !ok {
			return false
		}
		if AddressFromPub(vin.PubKey) != addr {
			return false
		}
	}
	return true
}
