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
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot computes the Merkle root over txids, hex-encoded, duplicating
// the last leaf at any level with an odd leaf count (Bitcoin rule), and
// returning SHA256(empty) for an empty list.
func MerkleRoot(txids []string) string {
	if len(txids) == 0 {
		return hex.EncodeToString(sha256Sum(nil))
	}

	level := make([][]byte, len(txids))
	for i, id := range txids {
		h, err := hex.DecodeString(id)
		if err != nil {
			h = sha256Sum([]byte(id))
		}
		level[i] = h
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := append(append([]byte{}, level[i]...), level[i+1]...)
			next = append(next, sha256Sum(combined))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}
