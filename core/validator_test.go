package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMempool is a minimal MempoolPruner recording what the validator
// told it to do, without pulling in the real mempool package (which
// would make core depend on mempool).
type fakeMempool struct {
	removed      []string
	spentRemoved []OutPoint
	cleared      bool
}

func (m *fakeMempool) Remove(txid string) { m.removed = append(m.removed, txid) }
func (m *fakeMempool) RemoveSpent(ops []OutPoint) {
	m.spentRemoved = append(m.spentRemoved, ops...)
}
func (m *fakeMempool) Clear() { m.cleared = true }

func minedBlockWithTxs(t *testing.T, parent *Block, minerAddr string, subsidy int64, txs []Transaction) *Block {
	t.Helper()
	coinbase, err := NewCoinbaseTx(minerAddr, uint32(parent.Header.Index+1), subsidy)
	require.NoError(t, err)
	all := append([]Transaction{*coinbase}, txs...)
	b := NewBlock(parent.Header.Index+1, int64(parent.Header.Index+1)*1000, parent.Hash, 1, all)
	mineNonce(b)
	return b
}

func setupValidator(t *testing.T) (*Validator, *BlockChain, *UTXOSet, *fakeMempool) {
	t.Helper()
	st := newFakeStore()
	chain, err := Open(st)
	require.NoError(t, err)
	utxo := NewUTXOSet(newFakeStore())
	pool := &fakeMempool{}
	return NewValidator(chain, utxo, pool), chain, utxo, pool
}

func TestValidatorAcceptsFirstMinedBlock(t *testing.T) {
	v, chain, utxo, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(kp.Public.SerializeCompressed())

	b := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(b))

	assert.Equal(t, uint64(1), chain.Height())
	balance, err := utxo.BalanceOf(minerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestValidatorAcceptsSimpleTransfer(t *testing.T) {
	v, chain, utxo, pool := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	bobAddr := AddressFromPub(bob.Public.SerializeCompressed())

	first := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(first))
	coinbaseTxid := first.Transactions[0].Txid

	transfer := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 300, PubKeyHash: bobAddr}, {Value: 690, PubKeyHash: minerAddr}},
		10, miner,
	)
	second := minedBlockWithTxs(t, first, minerAddr, 1000, []Transaction{*transfer})
	require.NoError(t, v.ValidateAndAppend(second))

	bobBalance, err := utxo.BalanceOf(bobAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bobBalance)
	assert.Contains(t, pool.removed, transfer.Txid)
	assert.Contains(t, pool.spentRemoved, OutPoint{Txid: coinbaseTxid, Index: 0},
		"the mempool must be told which outpoints the block consumed so conflicting entries can be dropped")
}

func TestValidatorRejectsDoubleSpendWithinBlock(t *testing.T) {
	v, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	first := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(first))
	coinbaseTxid := first.Transactions[0].Txid

	spendA := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-a"}},
		10, miner,
	)
	spendB := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-b"}},
		10, miner,
	)
	bad := minedBlockWithTxs(t, first, minerAddr, 1000, []Transaction{*spendA, *spendB})

	err = v.ValidateAndAppend(bad)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), chain.Height(), "the double-spending block must not be appended")
}

func TestValidatorRejectsInvalidSignature(t *testing.T) {
	v, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	first := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(first))
	coinbaseTxid := first.Transactions[0].Txid

	spend := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-a"}},
		10, miner,
	)
	spend.Vins[0].Signature[0] ^= 0xFF

	bad := minedBlockWithTxs(t, first, minerAddr, 1000, []Transaction{*spend})
	assert.Error(t, v.ValidateAndAppend(bad))
}

func TestValidatorRejectsUnknownOutput(t *testing.T) {
	v, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	spend := NewTransaction(
		[]TxInput{{RefTxid: hexID(9), RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-a"}},
		10, miner,
	)
	bad := minedBlockWithTxs(t, genesis, minerAddr, 1000, []Transaction{*spend})
	assert.Error(t, v.ValidateAndAppend(bad))
}

func TestAdoptChainReorganizesToHeavierFork(t *testing.T) {
	v, chain, utxo, pool := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	aliceAddr := AddressFromPub(alice.Public.SerializeCompressed())
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	bobAddr := AddressFromPub(bob.Public.SerializeCompressed())

	// local chain: one block mined by alice
	localB1 := minedBlockWithTxs(t, genesis, aliceAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(localB1))

	// rival branch: two blocks mined by bob, strictly taller
	rivalB1 := minedBlockWithTxs(t, genesis, bobAddr, 1000, nil)
	rivalB2 := minedBlockWithTxs(t, rivalB1, bobAddr, 1000, nil)

	adopted, err := v.AdoptChain([]*Block{genesis, rivalB1, rivalB2})
	require.NoError(t, err)
	assert.True(t, adopted)

	assert.Equal(t, uint64(2), chain.Height())
	assert.Equal(t, rivalB2.Hash, chain.TipHash())
	assert.True(t, pool.cleared)

	aliceBalance, err := utxo.BalanceOf(aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(0), aliceBalance, "alice's orphaned coinbase must no longer be spendable")

	bobBalance, err := utxo.BalanceOf(bobAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bobBalance)
}

func TestViewSeesChainAndUTXOTogether(t *testing.T) {
	v, chain, utxo, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(kp.Public.SerializeCompressed())

	b := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(b))

	v.View(func() {
		assert.Equal(t, uint64(1), chain.Height())
		balance, berr := utxo.BalanceOf(minerAddr)
		require.NoError(t, berr)
		assert.Equal(t, int64(1000), balance)
	})
}

func TestUpdateRunsCallbackUnderStateLock(t *testing.T) {
	v, _, _, _ := setupValidator(t)
	ran := false
	v.Update(func() { ran = true })
	assert.True(t, ran)
}

func TestValidateChainRejectsDoubleSpendAcrossBlocks(t *testing.T) {
	_, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	b1 := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	coinbaseTxid := b1.Transactions[0].Txid

	spendA := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-a"}},
		10, miner,
	)
	spendB := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 500, PubKeyHash: "addr-b"}},
		10, miner,
	)
	b2 := minedBlockWithTxs(t, b1, minerAddr, 1000, []Transaction{*spendA})
	b3 := minedBlockWithTxs(t, b2, minerAddr, 1000, []Transaction{*spendB})

	assert.Error(t, ValidateChain([]*Block{genesis, b1, b2, b3}),
		"the same outpoint spent in two different blocks must fail whole-chain validation")
	assert.NoError(t, ValidateChain([]*Block{genesis, b1, b2}))
}

func TestValidateChainRejectsOverspend(t *testing.T) {
	_, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	b1 := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	coinbaseTxid := b1.Transactions[0].Txid

	overspend := NewTransaction(
		[]TxInput{{RefTxid: coinbaseTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]TxOutput{{Value: 5000, PubKeyHash: "addr-a"}},
		10, miner,
	)
	b2 := minedBlockWithTxs(t, b1, minerAddr, 1000, []Transaction{*overspend})

	assert.Error(t, ValidateChain([]*Block{genesis, b1, b2}))
}

func TestAdoptChainRejectsShorterOrEqualFork(t *testing.T) {
	v, chain, _, _ := setupValidator(t)
	genesis, err := chain.Tip()
	require.NoError(t, err)

	miner, err := GenerateKeyPair()
	require.NoError(t, err)
	minerAddr := AddressFromPub(miner.Public.SerializeCompressed())

	localB1 := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	localB2 := minedBlockWithTxs(t, localB1, minerAddr, 1000, nil)
	require.NoError(t, v.ValidateAndAppend(localB1))
	require.NoError(t, v.ValidateAndAppend(localB2))

	rivalB1 := minedBlockWithTxs(t, genesis, minerAddr, 1000, nil)
	adopted, err := v.AdoptChain([]*Block{genesis, rivalB1})
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, uint64(2), chain.Height())

	// equal height and equal total work: still not adopted
	rivalB2 := minedBlockWithTxs(t, rivalB1, minerAddr, 1000, nil)
	adopted, err = v.AdoptChain([]*Block{genesis, rivalB1, rivalB2})
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, localB2.Hash, chain.TipHash())
}
