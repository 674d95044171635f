package mempool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerchain/core"
)

// memStore is a tiny in-memory collaborator satisfying both
// core.UTXOStore (for the UTXO set the mempool checks admissions
// against) and mempool.Store (for mirroring pending entries).
type memStore struct {
	mu   sync.Mutex
	utxo map[string][]byte
	pool map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{utxo: make(map[string][]byte), pool: make(map[string][]byte)}
}

func key(txid string, index uint32) string {
	return fmt.Sprintf("%s:%d", txid, index)
}

func (s *memStore) PutUTXO(txid string, index uint32, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxo[key(txid, index)] = raw
	return nil
}

func (s *memStore) GetUTXO(txid string, index uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.utxo[key(txid, index)]
	if !ok {
		return nil, errNotFound
	}
	return raw, nil
}

func (s *memStore) DeleteUTXO(txid string, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.utxo, key(txid, index))
	return nil
}

func (s *memStore) ForEachUTXO(fn func(key string, raw []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, raw := range s.utxo {
		if err := fn(k, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) ClearUTXO() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxo = make(map[string][]byte)
	return nil
}

func (s *memStore) PutMempoolTx(txid string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool[txid] = raw
	return nil
}

func (s *memStore) DeleteMempoolTx(txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pool, txid)
	return nil
}

func (s *memStore) ForEachMempoolTx(fn func(txid string, raw []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, raw := range s.pool {
		if err := fn(k, raw); err != nil {
			return err
		}
	}
	return nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "memStore: not found" }

var errNotFound = notFoundErr{}

// fundedSpend builds a signed transaction spending a single funded
// output, plus seeds that output into utxo so admission can find it.
func fundedSpend(t *testing.T, utxo *core.UTXOSet, fee int64, refTxid string, value int64) (*core.KeyPair, *core.Transaction) {
	t.Helper()
	kp, err := core.GenerateKeyPair()
	require.NoError(t, err)
	addr := core.AddressFromPub(kp.Public.SerializeCompressed())
	require.NoError(t, utxo.Add(refTxid, 0, core.TxOutput{Value: value, PubKeyHash: addr}))

	tx := core.NewTransaction(
		[]core.TxInput{{RefTxid: refTxid, RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]core.TxOutput{{Value: value - fee, PubKeyHash: addr}},
		fee, kp,
	)
	return kp, tx
}

func TestAddAcceptsValidTransaction(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	assert.True(t, pool.Add(tx))
	assert.Equal(t, 1, pool.Len())
	// Admission reserves the funding output in the mempool's own
	// overlay; it must not touch the authoritative UTXO set, or the
	// miner and the validator would see it as already gone when they
	// re-check this same transaction against confirmed chain state.
	assert.False(t, utxo.IsSpent("funding-txid", 0))
}

func TestAddRejectsSecondSpendOfReservedOutput(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	kp, tx1 := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx1))

	vins := []core.TxInput{{RefTxid: "funding-txid", RefIndex: 0, Sequence: 0xFFFFFFFF}}
	tx2 := core.NewTransaction(vins, []core.TxOutput{{Value: 90, PubKeyHash: core.AddressFromPub(kp.Public.SerializeCompressed())}}, 10, kp)
	assert.False(t, pool.Add(tx2))
	assert.Equal(t, 1, pool.Len())
}

func TestAddRejectsCoinbase(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	coinbase, err := core.NewCoinbaseTx("miner-addr", 1, 1000)
	require.NoError(t, err)
	assert.False(t, pool.Add(coinbase))
}

func TestAddRejectsUnknownInput(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	kp, err := core.GenerateKeyPair()
	require.NoError(t, err)
	tx := core.NewTransaction(
		[]core.TxInput{{RefTxid: "no-such-txid", RefIndex: 0, Sequence: 0xFFFFFFFF}},
		[]core.TxOutput{{Value: 10, PubKeyHash: "addr"}},
		1, kp,
	)
	assert.False(t, pool.Add(tx))
}

func TestAddRejectsDuplicateTxid(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))
	assert.False(t, pool.Add(tx))
}

func TestRemoveDropsConfirmedEntry(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))
	pool.Remove(tx.Txid)
	assert.Equal(t, 0, pool.Len())
}

func TestReplaceRequiresStrictlyHigherFee(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))

	kp2, err := core.GenerateKeyPair()
	require.NoError(t, err)
	vins := []core.TxInput{{RefTxid: "funding-txid", RefIndex: 0, Sequence: 0xFFFFFFFF}}
	sameFee := core.NewTransaction(vins, []core.TxOutput{{Value: 94, PubKeyHash: core.AddressFromPub(kp2.Public.SerializeCompressed())}}, 5, kp2)
	assert.False(t, pool.Replace(tx.Txid, sameFee))
	assert.Equal(t, 1, pool.Len())
}

func TestReplaceAcceptsStrictlyHigherFeeSameInputs(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	kp, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))

	vins := []core.TxInput{{RefTxid: "funding-txid", RefIndex: 0, Sequence: 0xFFFFFFFF}}
	replacement := core.NewTransaction(vins, []core.TxOutput{{Value: 80, PubKeyHash: core.AddressFromPub(kp.Public.SerializeCompressed())}}, 20, kp)
	assert.True(t, pool.Replace(tx.Txid, replacement))
	assert.Equal(t, 1, pool.Len())

	top := pool.Top(1)
	require.Len(t, top, 1)
	assert.Equal(t, replacement.Txid, top[0].Txid)
}

func TestTopOrdersByFeeDescending(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, low := fundedSpend(t, utxo, 1, "funding-a", 100)
	_, high := fundedSpend(t, utxo, 50, "funding-b", 100)
	require.True(t, pool.Add(low))
	require.True(t, pool.Add(high))

	top := pool.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, high.Txid, top[0].Txid)
	assert.Equal(t, low.Txid, top[1].Txid)
}

func TestClearEmptiesMempool(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))
	pool.Clear()
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 0, pool.CurrentBytes())
}

func TestMakeRoomEvictsLowestFeeRatio(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	_, cheap := fundedSpend(t, utxo, 1, "funding-a", 100)
	cheapSize := len(cheap.Serialize())

	// room for one transaction plus a few bytes of size jitter from
	// variable-length DER signatures and base58 addresses
	pool := New(utxo, st, cheapSize+8)
	require.True(t, pool.Add(cheap))

	_, expensive := fundedSpend(t, utxo, 1000, "funding-b", 100000)
	assert.True(t, pool.Add(expensive), "a much higher-fee transaction should evict the cheap one to make room")
	assert.Equal(t, 1, pool.Len())
	top := pool.Top(1)
	require.Len(t, top, 1)
	assert.Equal(t, expensive.Txid, top[0].Txid)
}

func TestAdmissionFailsWhenNewTxIsLowestRatio(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	_, rich := fundedSpend(t, utxo, 1000, "funding-a", 100000)
	richSize := len(rich.Serialize())

	pool := New(utxo, st, richSize+8)
	require.True(t, pool.Add(rich))

	_, stingy := fundedSpend(t, utxo, 1, "funding-b", 100)
	assert.False(t, pool.Add(stingy), "a lower-ratio transaction must not evict a higher-ratio one")
	assert.Equal(t, 1, pool.Len())
	top := pool.Top(1)
	require.Len(t, top, 1)
	assert.Equal(t, rich.Txid, top[0].Txid, "failed admission must leave the mempool unchanged")
}

func TestRemoveSpentDropsConflictingEntries(t *testing.T) {
	st := newMemStore()
	utxo := core.NewUTXOSet(st)
	pool := New(utxo, st, 1<<20)

	_, tx := fundedSpend(t, utxo, 5, "funding-txid", 100)
	require.True(t, pool.Add(tx))

	// a block confirmed some other transaction spending the same output
	pool.RemoveSpent([]core.OutPoint{{Txid: "funding-txid", Index: 0}})
	assert.Equal(t, 0, pool.Len())
}
