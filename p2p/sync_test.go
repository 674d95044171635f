package p2p

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripScheme(url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
}

func TestSyncOnceAdoptsHeavierPeerChain(t *testing.T) {
	nodeA, chainA, _, _ := setupTestNode(t)
	nodeB, chainB, _, addrB := setupTestNode(t)

	genesisB, err := chainB.Tip()
	require.NoError(t, err)
	blockB1 := mineTestBlock(genesisB, addrB)
	require.NoError(t, nodeB.Validator.ValidateAndAppend(blockB1))

	srvA := httptest.NewServer(nodeA.Router())
	defer srvA.Close()
	srvB := httptest.NewServer(nodeB.Router())
	defer srvB.Close()

	require.NoError(t, nodeA.Peers.Add(stripScheme(srvB.URL), nodeA.ProbeHeight))
	assert.Equal(t, uint64(0), chainA.Height())

	require.NoError(t, nodeA.syncOnce())

	assert.Equal(t, uint64(1), chainA.Height())
	assert.Equal(t, blockB1.Hash, chainA.TipHash())
}

func TestSyncOnceIsNoopWhenNoPeersAreAhead(t *testing.T) {
	nodeA, chainA, _, _ := setupTestNode(t)
	nodeB, _, _, _ := setupTestNode(t)

	srvB := httptest.NewServer(nodeB.Router())
	defer srvB.Close()

	require.NoError(t, nodeA.Peers.Add(stripScheme(srvB.URL), nodeA.ProbeHeight))
	require.NoError(t, nodeA.syncOnce())

	assert.Equal(t, uint64(0), chainA.Height())
}

func TestBestPeerSkipsUnreachableNeighbors(t *testing.T) {
	nodeA, _, _, _ := setupTestNode(t)

	table, err := NewPeerTable(newMemPeerStore())
	require.NoError(t, err)
	table.Touch("127.0.0.1:1", 0)
	nodeA.Peers = table

	_, ok := nodeA.bestPeer()
	assert.False(t, ok)
}
