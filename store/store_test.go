package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerchain_test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutBlock("hash-a", []byte("block-bytes")))

	raw, err := s.GetBlock("hash-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("block-bytes"), raw)
}

func TestGetBlockMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetBlock("no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBlockRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutBlock("hash-a", []byte("x")))
	require.NoError(t, s.DeleteBlock("hash-a"))
	_, err := s.GetBlock("hash-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearBlocksEmptiesBucket(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutBlock("hash-a", []byte("x")))
	require.NoError(t, s.PutBlock("hash-b", []byte("y")))
	require.NoError(t, s.ClearBlocks())

	count := 0
	require.NoError(t, s.ForEachBlock(func(string, []byte) error { count++; return nil }))
	assert.Equal(t, 0, count)

	// the bucket itself must still exist and accept writes after clearing
	require.NoError(t, s.PutBlock("hash-c", []byte("z")))
}

func TestTipRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Tip()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutTip("tip-hash", 42))
	hash, height, err := s.Tip()
	require.NoError(t, err)
	assert.Equal(t, "tip-hash", hash)
	assert.Equal(t, uint64(42), height)
}

func TestTotalWorkDefaultsToZero(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, uint64(0), s.TotalWork())

	require.NoError(t, s.PutTotalWork(12345))
	assert.Equal(t, uint64(12345), s.TotalWork())
}

func TestUTXORoundTripAndClear(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutUTXO("txid-1", 0, []byte("out-0")))
	require.NoError(t, s.PutUTXO("txid-1", 1, []byte("out-1")))

	raw, err := s.GetUTXO("txid-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("out-0"), raw)

	require.NoError(t, s.DeleteUTXO("txid-1", 0))
	_, err = s.GetUTXO("txid-1", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ClearUTXO())
	count := 0
	require.NoError(t, s.ForEachUTXO(func(string, []byte) error { count++; return nil }))
	assert.Equal(t, 0, count)
}

func TestPeerTableRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutPeer("10.0.0.1:8080", []byte("seen")))
	require.NoError(t, s.PutPeer("10.0.0.2:8080", []byte("seen")))

	seen := make(map[string]bool)
	require.NoError(t, s.ForEachPeer(func(addr string, _ []byte) error {
		seen[addr] = true
		return nil
	}))
	assert.True(t, seen["10.0.0.1:8080"])
	assert.True(t, seen["10.0.0.2:8080"])

	require.NoError(t, s.DeletePeer("10.0.0.1:8080"))
	seen = make(map[string]bool)
	require.NoError(t, s.ForEachPeer(func(addr string, _ []byte) error {
		seen[addr] = true
		return nil
	}))
	assert.False(t, seen["10.0.0.1:8080"])
	assert.True(t, seen["10.0.0.2:8080"])
}

func TestMempoolMirrorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutMempoolTx("txid-1", []byte("raw-tx")))

	found := false
	require.NoError(t, s.ForEachMempoolTx(func(txid string, raw []byte) error {
		if txid == "txid-1" {
			found = true
			assert.Equal(t, []byte("raw-tx"), raw)
		}
		return nil
	}))
	assert.True(t, found)

	require.NoError(t, s.DeleteMempoolTx("txid-1"))
	found = false
	require.NoError(t, s.ForEachMempoolTx(func(txid string, _ []byte) error {
		if txid == "txid-1" {
			found = true
		}
		return nil
	}))
	assert.False(t, found)
}

func TestSyncForcesDurability(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutBlock("hash-a", []byte("x")))
	assert.NoError(t, s.Sync())
}

func TestReopenPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerchain_test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutTip("tip-hash", 7))
	require.NoError(t, s.PutBlock("tip-hash", []byte("block")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	hash, height, err := reopened.Tip()
	require.NoError(t, err)
	assert.Equal(t, "tip-hash", hash)
	assert.Equal(t, uint64(7), height)
}
