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
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ledgerchain/core"
	"ledgerchain/mempool"
)

// Node is a running full node's network boundary: the HTTP surface,
// the neighbor table, and the periodic sync daemon, wired to the
// chain/UTXO/mempool/validator it fronts.
type Node struct {
	Chain     *core.BlockChain
	UTXO      *core.UTXOSet
	Pool      *mempool.Mempool
	Validator *core.Validator
	Peers     *PeerTable

	P2PPort int
	APIPort int

	client *Client
	stopCh chan struct{}
}

// NewNode wires a Node around already-constructed collaborators.
func NewNode(chain *core.BlockChain, utxo *core.UTXOSet, pool *mempool.Mempool, validator *core.Validator, peers *PeerTable, p2pPort, apiPort int) *Node {
	client := NewClient()
	client.BindLocalPort(p2pPort)
	return &Node{
		Chain:     chain,
		UTXO:      utxo,
		Pool:      pool,
		Validator: validator,
		Peers:     peers,
		P2PPort:   p2pPort,
		APIPort:   apiPort,
		client:    client,
		stopCh:    make(chan struct{}),
	}
}

// Router builds the gorilla/mux router implementing the bit-exact
// node-to-node HTTP surface. The same router serves both the P2P
// port and the API port.
func (n *Node) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/block", n.handlePostBlock).Methods(http.MethodPost)
	r.HandleFunc("/blocks/full", n.handleFullChain).Methods(http.MethodGet)
	r.HandleFunc("/blocks/latest", n.handleLatestBlock).Methods(http.MethodGet)
	r.HandleFunc("/blocks/height", n.handleHeight).Methods(http.MethodGet)
	r.HandleFunc("/blocks/total_difficulty", n.handleTotalDifficulty).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{index:[0-9]+}", n.handleBlockAt).Methods(http.MethodGet)
	r.HandleFunc("/tx", n.handlePostTx).Methods(http.MethodPost)
	r.HandleFunc("/peers", n.handleListPeers).Methods(http.MethodGet)
	r.HandleFunc("/peers", n.handleAddPeer).Methods(http.MethodPost)
	r.HandleFunc("/peers/remove", n.handleRemovePeer).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// senderAddress reconstructs the canonical ip:port of an inbound
// request's sender, using X-P2P-Port when present: the remote address
// seen by the HTTP server carries only the sender's ephemeral outbound
// port, not the one it listens on.
func senderAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	port := r.Header.Get("X-P2P-Port")
	if port == "" {
		return host
	}
	if _, err := strconv.Atoi(port); err != nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

func (n *Node) handlePostBlock(w http.ResponseWriter, r *http.Request) {
	var wire blockWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad data"})
		return
	}
	block, err := decodeBlockWire(wire)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid"})
		return
	}

	sender := senderAddress(r)
	n.Peers.Touch(sender, block.Header.Index)

	if err := n.Validator.ValidateAndAppend(block); err != nil {
		log.Printf("p2p: rejected block %s from %s: %v", block.Hash, sender, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "block accepted"})
}

func (n *Node) handleBlockAt(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil || idx == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	// the surface is 1-indexed; height 0 (genesis) is returned for index 1
	var b *core.Block
	n.Validator.View(func() {
		b, err = n.Chain.BlockAt(idx - 1)
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, encodeBlockWire(b))
}

func (n *Node) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	var b *core.Block
	var err error
	n.Validator.View(func() {
		b, err = n.Chain.Tip()
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, encodeBlockWire(b))
}

func (n *Node) handleFullChain(w http.ResponseWriter, r *http.Request) {
	var blocks []*core.Block
	var err error
	n.Validator.View(func() {
		blocks, err = n.Chain.Blocks()
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	wire := make([]blockWire, len(blocks))
	for i, b := range blocks {
		wire[i] = encodeBlockWire(b)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blockchain": wire})
}

func (n *Node) handleHeight(w http.ResponseWriter, r *http.Request) {
	var height uint64
	n.Validator.View(func() {
		height = n.Chain.Height()
	})
	writeJSON(w, http.StatusOK, map[string]uint64{"height": height})
}

func (n *Node) handleTotalDifficulty(w http.ResponseWriter, r *http.Request) {
	var work uint64
	n.Validator.View(func() {
		work = n.Chain.TotalWork()
	})
	writeJSON(w, http.StatusOK, map[string]uint64{"total_difficulty": work})
}

func (n *Node) handlePostTx(w http.ResponseWriter, r *http.Request) {
	var wire txWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid"})
		return
	}
	tx, err := decodeTxWire(wire)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid"})
		return
	}
	var admitted bool
	n.Validator.Update(func() {
		admitted = n.Pool.Add(&tx)
	})
	if !admitted {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txid": tx.Txid})
}

func (n *Node) handleListPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.Peers.List())
}

type addrRequest struct {
	Address string `json:"address"`
}

func (n *Node) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req addrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid address"})
		return
	}
	if err := n.Peers.Add(req.Address, n.client.FetchHeight); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid address"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "added peer " + req.Address})
}

func (n *Node) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	var req addrRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	target := req.Address
	notify := n.client.NotifyRemove
	if target == "" {
		// a departing peer names itself through its sender address and
		// has already forgotten us, so there is nothing to notify
		target = senderAddress(r)
		notify = nil
	}
	found := false
	for _, addr := range n.Peers.List() {
		if addr == target {
			found = true
			break
		}
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "peer not found"})
		return
	}
	n.Peers.Remove(target, notify)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ListenAndServe starts the HTTP server on both the P2P and API ports:
// peer traffic and operator traffic get separate listeners over one
// router. It blocks until the first of the two listeners fails.
func (n *Node) ListenAndServe() error {
	router := n.Router()
	errCh := make(chan error, 2)
	go func() { errCh <- http.ListenAndServe(":"+strconv.Itoa(n.P2PPort), router) }()
	go func() { errCh <- http.ListenAndServe(":"+strconv.Itoa(n.APIPort), router) }()
	return <-errCh
}

// Stop signals the sync daemon to end its loop.
func (n *Node) Stop() {
	close(n.stopCh)
}
