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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// MaxBlockTxs caps the number of transactions a block may carry.
const MaxBlockTxs = 1024

// GenesisPrevHash is the all-zero sentinel previous-block hash.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisDifficulty is the difficulty every chain starts from.
const GenesisDifficulty = 4

// Header carries a block's index, timestamp, previous-block hash,
// difficulty, Merkle root and nonce.
type Header struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	PrevHash   string `json:"prev_hash"`
	Difficulty int    `json:"difficulty"`
	MerkleRoot string `json:"merkle_root"`
	Nonce      uint64 `json:"nonce"`
}

// headerHashFields is the field-sorted JSON image hashed for the header
// hash: keys are emitted in lexicographic order with consistent numeric
// encoding so the bytes are bit-exact across interoperating nodes.
type headerHashFields struct {
	Difficulty int    `json:"difficulty"`
	Index      uint64 `json:"index"`
	MerkleRoot string `json:"merkle_root"`
	Nonce      uint64 `json:"nonce"`
	PrevHash   string `json:"prev_hash"`
	Timestamp  int64  `json:"timestamp"`
}

// canonicalJSON re-marshals v through a map so object keys come out
// lexicographically sorted, matching Go's encoding/json map behavior,
// independent of struct field declaration order.
func canonicalJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		panic(err)
	}
	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(generic[k])
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf
}

// Hash returns the header hash: dSHA256(canonical_json(header_fields)).
func (h Header) Hash() string {
	fields := headerHashFields{
		Difficulty: h.Difficulty,
		Index:      h.Index,
		MerkleRoot: h.MerkleRoot,
		Nonce:      h.Nonce,
		PrevHash:   h.PrevHash,
		Timestamp:  h.Timestamp,
	}
	digest := DoubleSHA256(canonicalJSON(fields))
	return hex.EncodeToString(digest)
}

// MeetsDifficulty reports whether hexHash has at least difficulty
// leading hex zeros.
func MeetsDifficulty(hexHash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hexHash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}

// Block is a Header plus its ordered transactions, the first of which
// must be coinbase.
type Block struct {
	Header       Header        `json:"header"`
	Transactions []Transaction `json:"transactions"`
	Hash         string        `json:"hash"`
}

// computeMerkleRoot recomputes the Merkle root over the block's txids.
func (b *Block) computeMerkleRoot() string {
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.Txid
	}
	return MerkleRoot(ids)
}

// ComputeHash returns the block hash: dSHA256("HASH LIST:" ||
// header_hash || concat(serialize(tx) for tx in txs)).
func (b *Block) ComputeHash() string {
	buf := []byte("HASH LIST:")
	headerHash, err := hex.DecodeString(b.Header.Hash())
	if err == nil {
		buf = append(buf, headerHash...)
	} else {
		buf = append(buf, []byte(b.Header.Hash())...)
	}
	for _, tx := range b.Transactions {
		buf = append(buf, tx.Serialize()...)
	}
	return hex.EncodeToString(DoubleSHA256(buf))
}

// NewBlock assembles (but does not mine) a block from txs and the
// preceding header, filling in the Merkle root. The caller (the miner)
// is responsible for searching for a winning nonce and setting Hash.
func NewBlock(index uint64, timestamp int64, prevHash string, difficulty int, txs []Transaction) *Block {
	b := &Block{
		Header: Header{
			Index:      index,
			Timestamp:  timestamp,
			PrevHash:   prevHash,
			Difficulty: difficulty,
		},
		Transactions: txs,
	}
	b.Header.MerkleRoot = b.computeMerkleRoot()
	return b
}

// NewGenesisBlock builds the deterministic genesis block every node
// starts from.
func NewGenesisBlock() *Block {
	b := &Block{
		Header: Header{
			Index:      0,
			Timestamp:  0,
			PrevHash:   GenesisPrevHash,
			Difficulty: GenesisDifficulty,
			MerkleRoot: "0",
			Nonce:      0,
		},
		Transactions: nil,
	}
	b.Hash = b.ComputeHash()
	return b
}

func (b *Block) String() string {
	return fmt.Sprintf("Block#%d hash=%s prev=%s txs=%d", b.Header.Index, b.Hash, b.Header.PrevHash, len(b.Transactions))
}
