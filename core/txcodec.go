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
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"ledgerchain/utils"
)

// txVersion is the only serialization version this node speaks.
const txVersion uint32 = 1

// DoubleSHA256 is the digest used throughout for txids and block/header
// hashes.
func DoubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// scriptSigBytes packs a vin's unlocking data into the single scriptSig
// blob the wire layout carries: a one-byte signature length, the
// signature itself, then the raw public key bytes. clearForSigMsg, when
// true, drops the whole blob to empty.
func scriptSigBytes(vin TxInput, clearForSigMsg bool) []byte {
	if clearForSigMsg {
		return nil
	}
	sig := vin.Signature
	if len(sig) > 255 {
		sig = sig[:255]
	}
	out := make([]byte, 0, 1+len(sig)+len(vin.PubKey))
	out = append(out, byte(len(sig)))
	out = append(out, sig...)
	out = append(out, vin.PubKey...)
	return out
}

// serialize produces the canonical byte image of tx. When
// clearScriptSigs is true, every vin's scriptSig is emptied before
// encoding, which is how the signature message is built.
func (tx *Transaction) serialize(clearScriptSigs bool) []byte {
	var buf bytes.Buffer

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], txVersion)
	buf.Write(u32[:])

	buf.WriteByte(byte(len(tx.Vins)))
	for _, vin := range tx.Vins {
		refTxid, err := hex.DecodeString(vin.RefTxid)
		if err != nil || len(refTxid) != 32 {
			refTxid = make([]byte, 32)
		}
		buf.Write(utils.ReversedCopy(refTxid))

		binary.LittleEndian.PutUint32(u32[:], vin.RefIndex)
		buf.Write(u32[:])

		script := scriptSigBytes(vin, clearScriptSigs)
		buf.WriteByte(byte(len(script)))
		buf.Write(script)

		binary.LittleEndian.PutUint32(u32[:], vin.Sequence)
		buf.Write(u32[:])
	}

	buf.WriteByte(byte(len(tx.Vouts)))
	for _, vout := range tx.Vouts {
		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], uint64(vout.Value))
		buf.Write(u64[:])

		addr := []byte(vout.PubKeyHash)
		if len(addr) > 255 {
			addr = addr[:255]
		}
		buf.WriteByte(byte(len(addr)))
		buf.Write(addr)
	}

	binary.LittleEndian.PutUint32(u32[:], tx.LockTime)
	buf.Write(u32[:])

	return buf.Bytes()
}

// Serialize returns tx's canonical wire bytes, scriptSigs included.
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(false)
}

// ComputeTxid returns reverse(dSHA256(serialize(tx))) hex-encoded.
func (tx *Transaction) ComputeTxid() string {
	digest := DoubleSHA256(tx.serialize(false))
	return hex.EncodeToString(utils.ReversedCopy(digest))
}

// SignatureMessage returns dSHA256(serialized_with_empty_scriptSigs), the
// byte string every vin's signature commits to and every verifier
// recomputes. Clearing the scriptSigs first means signatures commit to
// the transaction's structure but never to their own bytes.
func (tx *Transaction) SignatureMessage() []byte {
	return DoubleSHA256(tx.serialize(true))
}
