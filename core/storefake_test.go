package core

import (
	"errors"
	"sync"
)

// fakeStore is an in-memory BlockStore + UTXOStore for tests, standing
// in for the bbolt-backed store.Store collaborator.
type fakeStore struct {
	mu sync.Mutex

	blocks     map[string][]byte
	tipHash    string
	tipHeight  uint64
	haveTip    bool
	totalWork  uint64
	utxo       map[string][]byte
}

var errFakeNotFound = errors.New("fakeStore: not found")

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks: make(map[string][]byte),
		utxo:   make(map[string][]byte),
	}
}

func (f *fakeStore) PutBlock(hash string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[hash] = raw
	return nil
}

func (f *fakeStore) GetBlock(hash string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.blocks[hash]
	if !ok {
		return nil, errFakeNotFound
	}
	return raw, nil
}

func (f *fakeStore) DeleteBlock(hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocks, hash)
	return nil
}

func (f *fakeStore) ClearBlocks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = make(map[string][]byte)
	return nil
}

func (f *fakeStore) ForEachBlock(fn func(hash string, raw []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, raw := range f.blocks {
		if err := fn(h, raw); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) PutTip(hash string, height uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tipHash = hash
	f.tipHeight = height
	f.haveTip = true
	return nil
}

func (f *fakeStore) Tip() (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveTip {
		return "", 0, errFakeNotFound
	}
	return f.tipHash, f.tipHeight, nil
}

func (f *fakeStore) PutTotalWork(total uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalWork = total
	return nil
}

func (f *fakeStore) TotalWork() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalWork
}

func (f *fakeStore) utxoKey(txid string, index uint32) string {
	return txid + ":" + hexIndex(index)
}

func hexIndex(index uint32) string {
	const digits = "0123456789"
	if index == 0 {
		return "0000000000"
	}
	buf := [10]byte{}
	for i := range buf {
		buf[i] = '0'
	}
	pos := len(buf) - 1
	for index > 0 && pos >= 0 {
		buf[pos] = digits[index%10]
		index /= 10
		pos--
	}
	return string(buf[:])
}

func (f *fakeStore) PutUTXO(txid string, index uint32, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxo[f.utxoKey(txid, index)] = raw
	return nil
}

func (f *fakeStore) GetUTXO(txid string, index uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.utxo[f.utxoKey(txid, index)]
	if !ok {
		return nil, errFakeNotFound
	}
	return raw, nil
}

func (f *fakeStore) DeleteUTXO(txid string, index uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.utxo, f.utxoKey(txid, index))
	return nil
}

func (f *fakeStore) ForEachUTXO(fn func(key string, raw []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, raw := range f.utxo {
		if err := fn(k, raw); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) ClearUTXO() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxo = make(map[string][]byte)
	return nil
}
