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

// Package store persists chain state across restarts: blocks indexed by
// hash, a small set of chain metadata keys, the UTXO set, the neighbor
// table and the mempool mirror, each a bucket of one go.etcd.io/bbolt
// database file.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

const (
	blocksBucket  = "blocks"
	metaBucket    = "meta"
	utxoBucket    = "utxo"
	mempoolBucket = "mempool"
	peersBucket   = "peers"
	tipKey        = "tip"
	heightKey     = "height"
	totalWorkKey  = "total_work"
)

// ErrNotFound is returned by lookups that find no record for the key.
var ErrNotFound = errors.New("store: not found")

// Store is the single bbolt-backed collaborator providing the three
// abstract key-value contracts the chain, UTXO set, mempool and peer
// table are built on: a block store, a metadata store, and a UTXO store.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database file at path and ensures every
// bucket this node needs exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{blocksBucket, metaBucket, utxoBucket, mempoolBucket, peersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync forces the database file to durable storage.
func (s *Store) Sync() error {
	return s.db.Sync()
}

// ---- block store ----

// PutBlock records the raw encoded block under its hash key.
func (s *Store) PutBlock(hash string, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blocksBucket)).Put([]byte(hash), raw)
	})
}

// GetBlock returns the raw encoded block for hash, or ErrNotFound.
func (s *Store) GetBlock(hash string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(blocksBucket)).Get([]byte(hash))
		if v == nil {
			return ErrNotFound
		}
		raw = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteBlock removes the block at hash. The reorg path does not call
// it; it empties the whole bucket with ClearBlocks instead.
func (s *Store) DeleteBlock(hash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blocksBucket)).Delete([]byte(hash))
	})
}

// ClearBlocks empties the block bucket outright, used before a reorg
// re-writes the winning branch so abandoned blocks never accumulate.
func (s *Store) ClearBlocks() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(blocksBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(blocksBucket))
		return err
	})
}

// ForEachBlock iterates every stored block in bucket order, which is
// insertion order for bbolt's default byte-key comparator only if keys
// sort that way; callers needing chain order should walk prev_hash links
// instead of relying on iteration order.
func (s *Store) ForEachBlock(fn func(hash string, raw []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blocksBucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// ---- metadata store ----

// PutMeta stores a small named value (tip hash, height, total work,
// difficulty, or an arbitrary peer/mempool bookkeeping key).
func (s *Store) PutMeta(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), value)
	})
}

// GetMeta returns the stored value for key, or ErrNotFound.
func (s *Store) GetMeta(key string) ([]byte, error) {
	var v []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(metaBucket)).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		v = append([]byte{}, raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PutTip records the current chain tip hash and height.
func (s *Store) PutTip(hash string, height uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		if err := b.Put([]byte(tipKey), []byte(hash)); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], height)
		return b.Put([]byte(heightKey), buf[:])
	})
}

// Tip returns the recorded chain tip hash and height. Returns
// ErrNotFound if the chain has never been persisted.
func (s *Store) Tip() (string, uint64, error) {
	var hash string
	var height uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		h := b.Get([]byte(tipKey))
		if h == nil {
			return ErrNotFound
		}
		hash = string(h)
		if raw := b.Get([]byte(heightKey)); raw != nil {
			height = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	return hash, height, err
}

// PutTotalWork records the chain's cumulative proof-of-work total.
func (s *Store) PutTotalWork(total uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], total)
	return s.PutMeta(totalWorkKey, buf[:])
}

// TotalWork returns the recorded cumulative work, or 0 if never set.
func (s *Store) TotalWork() uint64 {
	raw, err := s.GetMeta(totalWorkKey)
	if err != nil || len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// ---- peer table (own bucket) ----

// PutPeer records or refreshes a known neighbor address.
func (s *Store) PutPeer(addr string, lastSeen []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).Put([]byte(addr), lastSeen)
	})
}

// DeletePeer forgets a neighbor.
func (s *Store) DeletePeer(addr string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).Delete([]byte(addr))
	})
}

// ForEachPeer iterates every known neighbor.
func (s *Store) ForEachPeer(fn func(addr string, lastSeen []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// ---- UTXO store ----

// utxoKey packs a txid:index pair into the UTXO store's key space.
func utxoKey(txid string, index uint32) []byte {
	key := make([]byte, len(txid)+1+10)
	n := copy(key, txid)
	key[n] = ':'
	n++
	n += copy(key[n:], fmt.Sprintf("%010d", index))
	return key[:n]
}

// PutUTXO records an unspent output's encoded bytes.
func (s *Store) PutUTXO(txid string, index uint32, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(utxoBucket)).Put(utxoKey(txid, index), raw)
	})
}

// GetUTXO returns the encoded output for (txid, index), or ErrNotFound.
func (s *Store) GetUTXO(txid string, index uint32) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(utxoBucket)).Get(utxoKey(txid, index))
		if v == nil {
			return ErrNotFound
		}
		raw = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteUTXO removes an output once it is spent.
func (s *Store) DeleteUTXO(txid string, index uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(utxoBucket)).Delete(utxoKey(txid, index))
	})
}

// ForEachUTXO iterates every unspent output currently recorded.
func (s *Store) ForEachUTXO(fn func(key string, raw []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(utxoBucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// ClearUTXO empties the UTXO bucket, used before a full rebuild from the
// block store after a reorg.
func (s *Store) ClearUTXO() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(utxoBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(utxoBucket))
		return err
	})
}

// ---- mempool mirror ----

// PutMempoolTx mirrors a pending transaction so it survives a restart.
func (s *Store) PutMempoolTx(txid string, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mempoolBucket)).Put([]byte(txid), raw)
	})
}

// DeleteMempoolTx drops a transaction from the persisted mirror.
func (s *Store) DeleteMempoolTx(txid string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mempoolBucket)).Delete([]byte(txid))
	})
}

// ForEachMempoolTx iterates every mirrored pending transaction.
func (s *Store) ForEachMempoolTx(fn func(txid string, raw []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mempoolBucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
