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
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ledgerchain/core"
)

// Client issues outbound requests to other nodes, every call carrying
// its own timeout.
type Client struct {
	httpClient *http.Client
	p2pPort    int
}

// NewClient builds a Client with a conservative default timeout;
// individual calls override it per endpoint.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// BindLocalPort records this node's own P2P port so outbound block
// pushes can set X-P2P-Port for the receiver.
func (c *Client) BindLocalPort(port int) {
	c.p2pPort = port
}

func (c *Client) get(addr, path string, timeout time.Duration, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s%s", addr, path), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("p2p: %s%s: status %d", addr, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(addr, path string, timeout time.Duration, body interface{}, extraHeaders map[string]string) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s%s", addr, path), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: timeout}
	return client.Do(req)
}

// ProbeHeight queries addr's current height, the probe callback
// PeerTable.Add expects when a neighbor is first registered.
func (n *Node) ProbeHeight(addr string) (uint64, error) {
	return n.client.FetchHeight(addr)
}

// FetchHeight queries a peer's current height, used both to probe a
// newly-added neighbor and during periodic sync.
func (c *Client) FetchHeight(addr string) (uint64, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := c.get(addr, "/blocks/height", 10*time.Second, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

// FetchTotalWork queries a peer's cumulative proof-of-work total.
func (c *Client) FetchTotalWork(addr string) (uint64, error) {
	var out struct {
		TotalDifficulty uint64 `json:"total_difficulty"`
	}
	if err := c.get(addr, "/blocks/total_difficulty", 3*time.Second, &out); err != nil {
		return 0, err
	}
	return out.TotalDifficulty, nil
}

// FetchFullChain retrieves and decodes a peer's entire chain, retrying
// with an increasing timeout: 10s, 15s, 20s across up to three
// attempts.
func (c *Client) FetchFullChain(addr string) ([]*core.Block, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		timeout := 10*time.Second + time.Duration(attempt)*5*time.Second
		var out struct {
			Blockchain []blockWire `json:"blockchain"`
		}
		err := c.get(addr, "/blocks/full", timeout, &out)
		if err == nil {
			blocks := make([]*core.Block, len(out.Blockchain))
			for i, w := range out.Blockchain {
				b, derr := decodeBlockWire(w)
				if derr != nil {
					return nil, derr
				}
				blocks[i] = b
			}
			return blocks, nil
		}
		lastErr = err
		log.Printf("p2p: fetch full chain from %s attempt %d failed: %v", addr, attempt+1, err)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("p2p: fetch full chain from %s: %w", addr, lastErr)
}

// PushBlock sends block to addr with a correlation id attached for
// cross-node log tracing, used by broadcast.
func (c *Client) PushBlock(addr string, block *core.Block) error {
	headers := map[string]string{"X-Broadcast-Id": uuid.NewString()}
	if c.p2pPort != 0 {
		headers["X-P2P-Port"] = strconv.Itoa(c.p2pPort)
	}
	resp, err := c.post(addr, "/block", 8*time.Second, encodeBlockWire(block), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("p2p: push block to %s: status %d", addr, resp.StatusCode)
	}
	return nil
}

// PushTx sends tx to addr.
func (c *Client) PushTx(addr string, tx *core.Transaction) error {
	headers := map[string]string{"X-Broadcast-Id": uuid.NewString()}
	resp, err := c.post(addr, "/tx", 8*time.Second, encodeTxWire(*tx), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("p2p: push tx to %s: status %d", addr, resp.StatusCode)
	}
	return nil
}

// NotifyRemove tells addr this node is disconnecting, best-effort.
// The body names no address; the receiver reconstructs this node's
// canonical ip:port from the request's remote IP plus X-P2P-Port.
func (c *Client) NotifyRemove(addr string) error {
	headers := map[string]string{}
	if c.p2pPort != 0 {
		headers["X-P2P-Port"] = strconv.Itoa(c.p2pPort)
	}
	resp, err := c.post(addr, "/peers/remove", 3*time.Second, addrRequest{}, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// BroadcastBlock delivers block to every connected neighbor,
// best-effort: failures increment retry_count and, on reaching
// disconnectThreshold, downgrade the peer to disconnected.
func (n *Node) BroadcastBlock(block *core.Block) {
	for _, r := range n.Peers.Snapshot() {
		if r.Status != StatusConnected {
			continue
		}
		go func(addr string) {
			if err := n.client.PushBlock(addr, block); err != nil {
				log.Printf("p2p: broadcast block to %s failed: %v", addr, err)
				n.Peers.RecordFailure(addr)
				return
			}
			n.Peers.RecordSuccess(addr, block.Header.Index)
		}(r.Address)
	}
}

// BroadcastTx delivers tx to every connected neighbor, best-effort.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	for _, r := range n.Peers.Snapshot() {
		if r.Status != StatusConnected {
			continue
		}
		go func(addr string, height uint64) {
			if err := n.client.PushTx(addr, tx); err != nil {
				log.Printf("p2p: broadcast tx to %s failed: %v", addr, err)
				n.Peers.RecordFailure(addr)
				return
			}
			n.Peers.RecordSuccess(addr, height)
		}(r.Address, r.KnownHeight)
	}
}
