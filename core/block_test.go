package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisBlockShape(t *testing.T) {
	g := NewGenesisBlock()
	assert.Equal(t, uint64(0), g.Header.Index)
	assert.Equal(t, GenesisPrevHash, g.Header.PrevHash)
	assert.Equal(t, GenesisDifficulty, g.Header.Difficulty)
	assert.Empty(t, g.Transactions)
	assert.Equal(t, g.ComputeHash(), g.Hash)
}

func TestHeaderHashIsDeterministic(t *testing.T) {
	h := Header{Index: 1, Timestamp: 1000, PrevHash: GenesisPrevHash, Difficulty: 4, MerkleRoot: "abc", Nonce: 42}
	assert.Equal(t, h.Hash(), h.Hash())

	h2 := h
	h2.Nonce = 43
	assert.NotEqual(t, h.Hash(), h2.Hash())
}

func TestMeetsDifficulty(t *testing.T) {
	assert.True(t, MeetsDifficulty("0000abcd", 4))
	assert.False(t, MeetsDifficulty("0001abcd", 4))
	assert.True(t, MeetsDifficulty("abcd", 0))
	assert.False(t, MeetsDifficulty("ab", 4))
}

func TestBlockHashCoversTransactions(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	coinbase, err := NewCoinbaseTx(AddressFromPub(kp.Public.SerializeCompressed()), 1, 1000)
	require.NoError(t, err)

	b := NewBlock(1, 1000, GenesisPrevHash, 4, []Transaction{*coinbase})
	b.Hash = b.ComputeHash()
	original := b.Hash

	b.Transactions[0].Vouts[0].Value = 1
	assert.NotEqual(t, original, b.ComputeHash())
}

func TestNewBlockComputesMerkleRoot(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	coinbase, err := NewCoinbaseTx(AddressFromPub(kp.Public.SerializeCompressed()), 1, 1000)
	require.NoError(t, err)

	b := NewBlock(1, 1000, GenesisPrevHash, 4, []Transaction{*coinbase})
	assert.Equal(t, MerkleRoot([]string{coinbase.Txid}), b.Header.MerkleRoot)
}
