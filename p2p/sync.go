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
	"log"
	"time"
)

// DefaultSyncInterval is the periodic synchronization cadence absent
// an operator override.
const DefaultSyncInterval = 2 * time.Minute

// DefaultRecoveryInterval bounds how long the sync daemon waits after
// an error before retrying; the effective backoff is
// min(DefaultRecoveryInterval, 2*interval).
const DefaultRecoveryInterval = 5 * time.Minute

// peerWork pairs a neighbor address with its last-reported height and
// total work, used to pick the heaviest chain among neighbors.
type peerWork struct {
	addr   string
	height uint64
	work   uint64
}

// bestPeer queries every connected neighbor's height and total work
// and returns the one with the greatest total work, ties broken by
// height. Unreachable neighbors are skipped, not treated as fatal.
func (n *Node) bestPeer() (peerWork, bool) {
	var candidates []peerWork
	for _, r := range n.Peers.Snapshot() {
		if r.Status != StatusConnected {
			continue
		}
		height, err := n.client.FetchHeight(r.Address)
		if err != nil {
			n.Peers.RecordFailure(r.Address)
			continue
		}
		work, err := n.client.FetchTotalWork(r.Address)
		if err != nil {
			n.Peers.RecordFailure(r.Address)
			continue
		}
		n.Peers.RecordSuccess(r.Address, height)
		candidates = append(candidates, peerWork{addr: r.Address, height: height, work: work})
	}
	if len(candidates) == 0 {
		return peerWork{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.work > best.work || (c.work == best.work && c.height > best.height) {
			best = c
		}
	}
	return best, true
}

// syncOnce runs one synchronization round: query every neighbor,
// select the heaviest, and if it is strictly better than the local
// chain, fetch and adopt it.
func (n *Node) syncOnce() error {
	best, ok := n.bestPeer()
	if !ok {
		return nil
	}
	if best.height < n.Chain.Height() {
		return nil
	}
	if best.height == n.Chain.Height() && best.work <= n.Chain.TotalWork() {
		return nil
	}

	blocks, err := n.client.FetchFullChain(best.addr)
	if err != nil {
		n.Peers.RecordFailure(best.addr)
		return err
	}

	adopted, err := n.Validator.AdoptChain(blocks)
	if err != nil {
		return err
	}
	if adopted {
		log.Printf("p2p: adopted chain from %s: height=%d total_work=%d", best.addr, best.height, best.work)
	}
	n.Peers.PruneStale()
	return nil
}

// RunSync is the periodic synchronization daemon: the only path
// through which the local chain can shrink or be replaced.
// It repeats every interval (DefaultSyncInterval unless overridden),
// honors a cooperative shutdown via Stop, and on error backs off to
// min(recoveryInterval, 2*interval) before retrying.
func (n *Node) RunSync(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	recoveryInterval := DefaultRecoveryInterval
	backoffCap := 2 * interval

	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		start := time.Now()
		err := n.syncOnce()
		elapsed := time.Since(start)

		var wait time.Duration
		if err != nil {
			log.Printf("p2p: sync daemon error: %v", err)
			wait = recoveryInterval
			if backoffCap < wait {
				wait = backoffCap
			}
		} else {
			wait = interval - elapsed
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-n.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
