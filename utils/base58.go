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

// Package utils collects small encoding and filesystem helpers used by
// the core package.
package utils

import (
	"bytes"
	"math/big"
)

var b58Alphabet = []byte("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz")
var b58Base = int64(len(b58Alphabet))

// Base58Encode returns the base58 encoding of input.
func Base58Encode(input []byte) []byte {
	var encoded []byte
	x := big.NewInt(0).SetBytes(input)
	base := big.NewInt(b58Base)
	zero := big.NewInt(0)
	mod := &big.Int{}

	for x.Cmp(zero) != 0 {
		x.DivMod(x, base, mod)
		encoded = append(encoded, b58Alphabet[mod.Int64()])
	}
	ReverseBytes(encoded)
	for _, b := range input {
		if b != 0x00 {
			break
		}
		encoded = append([]byte{b58Alphabet[0]}, encoded...)
	}
	return encoded
}

// Base58Decode reverses Base58Encode.
func Base58Decode(input []byte) []byte {
	tmp := big.NewInt(0)
	zeroBytes := 0
	for _, b := range input {
		if b != b58Alphabet[0] {
			break
		}
		zeroBytes++
	}

	payload := input[zeroBytes:]
	for _, b := range payload {
		idx := bytes.IndexByte(b58Alphabet, b)
		if idx < 0 {
			return nil
		}
		tmp.Mul(tmp, big.NewInt(b58Base))
		tmp.Add(tmp, big.NewInt(int64(idx)))
	}

	decoded := tmp.Bytes()
	return append(bytes.Repeat([]byte{0x00}, zeroBytes), decoded...)
}
