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

// Package p2p exposes the node-to-node HTTP surface: the neighbor
// table, request/response protocol, periodic sync, and broadcast.
package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"
)

const (
	disconnectThreshold = 3
	pruneAfter          = time.Hour
)

// PeerStore is the persistence contract the neighbor table is mirrored
// through.
type PeerStore interface {
	PutPeer(addr string, record []byte) error
	DeletePeer(addr string) error
	ForEachPeer(fn func(addr string, record []byte) error) error
}

// PeerStatus is one of connected or disconnected.
type PeerStatus string

const (
	StatusConnected    PeerStatus = "connected"
	StatusDisconnected PeerStatus = "disconnected"
)

// PeerRecord is (address, last_seen, status, known_height, retry_count).
type PeerRecord struct {
	Address     string
	LastSeen    time.Time
	Status      PeerStatus
	KnownHeight uint64
	RetryCount  int
}

func encodePeer(r PeerRecord) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		panic(fmt.Errorf("p2p: encode peer: %w", err))
	}
	return buf.Bytes()
}

func decodePeer(raw []byte) (PeerRecord, error) {
	var r PeerRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&r); err != nil {
		return PeerRecord{}, fmt.Errorf("p2p: decode peer: %w", err)
	}
	return r, nil
}

// PeerTable maps a peer address to its PeerRecord, its own lock held
// only around in-memory bookkeeping, never across network I/O.
type PeerTable struct {
	mu    sync.Mutex
	st    PeerStore
	peers map[string]PeerRecord
}

// NewPeerTable loads the neighbor table from st.
func NewPeerTable(st PeerStore) (*PeerTable, error) {
	t := &PeerTable{st: st, peers: make(map[string]PeerRecord)}
	err := st.ForEachPeer(func(addr string, raw []byte) error {
		r, derr := decodePeer(raw)
		if derr != nil {
			return derr
		}
		t.peers[addr] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PeerTable) put(r PeerRecord) error {
	if err := t.st.PutPeer(r.Address, encodePeer(r)); err != nil {
		return err
	}
	t.peers[r.Address] = r
	return nil
}

// Add records addr as a neighbor. probeHeight is called without the
// table's lock held; its result seeds known_height and status, and a
// failed probe still results in the peer being added (disconnected,
// height 0).
func (t *PeerTable) Add(addr string, probeHeight func(string) (uint64, error)) error {
	height, err := probeHeight(addr)
	status := StatusConnected
	if err != nil {
		height = 0
		status = StatusDisconnected
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.put(PeerRecord{
		Address:     addr,
		LastSeen:    time.Now(),
		Status:      status,
		KnownHeight: height,
	})
}

// Remove deletes addr locally. notify is invoked without the table's
// lock held and its result is ignored: local removal happens
// regardless of whether the peer could be told.
func (t *PeerTable) Remove(addr string, notify func(string) error) {
	if notify != nil {
		_ = notify(addr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, addr)
	_ = t.st.DeletePeer(addr)
}

// List returns every known peer address.
func (t *PeerTable) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for addr := range t.peers {
		out = append(out, addr)
	}
	return out
}

// Snapshot returns a copy of every known PeerRecord.
func (t *PeerTable) Snapshot() []PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerRecord, 0, len(t.peers))
	for _, r := range t.peers {
		out = append(out, r)
	}
	return out
}

// Touch updates last_seen and known_height for addr, used when an
// inbound block names its sender.
func (t *PeerTable) Touch(addr string, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[addr]
	if !ok {
		r = PeerRecord{Address: addr, Status: StatusConnected}
	}
	r.LastSeen = time.Now()
	r.KnownHeight = height
	_ = t.put(r)
}

// RecordFailure increments retry_count for addr and downgrades it to
// disconnected once disconnectThreshold is reached.
func (t *PeerTable) RecordFailure(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[addr]
	if !ok {
		return
	}
	r.RetryCount++
	if r.RetryCount >= disconnectThreshold {
		r.Status = StatusDisconnected
	}
	_ = t.put(r)
}

// RecordSuccess resets retry_count and marks addr connected.
func (t *PeerTable) RecordSuccess(addr string, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[addr]
	if !ok {
		r = PeerRecord{Address: addr}
	}
	r.RetryCount = 0
	r.Status = StatusConnected
	r.LastSeen = time.Now()
	r.KnownHeight = height
	_ = t.put(r)
}

// PruneStale removes every peer disconnected for longer than
// pruneAfter.
func (t *PeerTable) PruneStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, r := range t.peers {
		if r.Status == StatusDisconnected && time.Since(r.LastSeen) > pruneAfter {
			delete(t.peers, addr)
			_ = t.st.DeletePeer(addr)
		}
	}
}
