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
)

// EncodeBlock gob-encodes b for the block store. The network wire
// format is JSON (see p2p/wire.go); gob is used only for local
// persistence.
func EncodeBlock(b *Block) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		panic(fmt.Errorf("core: encode block: %w", err))
	}
	return buf.Bytes()
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(raw []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, fmt.Errorf("core: decode block: %w", err)
	}
	return &b, nil
}
