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

// This file defines the wallet: a single SECP256k1 key pair plus the
// address derived from it. One key per address; nothing richer
// (multi-sig, HD derivation) is supported.
package core

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"ledgerchain/utils"
)

const walletFile = "wallets.dat"

// Wallet is a single key pair. PrivKeyBytes is the raw 32-byte scalar;
// secp256k1.PrivateKey itself carries unexported internal state and
// cannot be gob-encoded directly, so the wallet file stores bytes and
// reconstructs the key pair on load.
type Wallet struct {
	PrivKeyBytes [32]byte
	PubKey       []byte
}

// NewWallet generates a fresh key pair and wraps it as a Wallet.
func NewWallet() (*Wallet, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	w := &Wallet{PubKey: kp.Public.SerializeCompressed()}
	copy(w.PrivKeyBytes[:], kp.Private.Serialize())
	return w, nil
}

// KeyPair reconstructs the *KeyPair this wallet wraps.
func (w *Wallet) KeyPair() *KeyPair {
	priv := secp256k1.PrivKeyFromBytes(w.PrivKeyBytes[:])
	return &KeyPair{Private: priv, Public: priv.PubKey()}
}

// Address returns this wallet's P2PKH address.
func (w *Wallet) Address() string {
	return AddressFromPub(w.PubKey)
}

// Wallets is a keyring of addresses to their Wallet, persisted as a
// single gob-encoded file.
type Wallets struct {
	WalletsMap map[string]*Wallet
}

// NewWallets returns the keyring loaded from walletFile, or an empty
// one if the file does not yet exist.
func NewWallets() (*Wallets, error) {
	wallets := &Wallets{WalletsMap: make(map[string]*Wallet)}
	if ok, _ := utils.FileExists(walletFile); !ok {
		return wallets, nil
	}
	err := wallets.LoadFromFile()
	return wallets, err
}

// LoadFromFile replaces the in-memory keyring with the contents of
// walletFile.
func (wallets *Wallets) LoadFromFile() error {
	if ok, err := utils.FileExists(walletFile); !ok {
		return err
	}

	raw, err := ioutil.ReadFile(walletFile)
	if err != nil {
		return fmt.Errorf("core: read wallet file: %w", err)
	}

	var loaded Wallets
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&loaded); err != nil {
		return fmt.Errorf("core: decode wallet file: %w", err)
	}
	wallets.WalletsMap = loaded.WalletsMap
	return nil
}

// Save2File persists the keyring to walletFile.
func (wallets *Wallets) Save2File() error {
	raw := utils.GobEncode(*wallets)
	if err := ioutil.WriteFile(walletFile, raw, os.FileMode(0600)); err != nil {
		return fmt.Errorf("core: write wallet file: %w", err)
	}
	return nil
}

// GetAddrs lists every address currently in the keyring.
func (wallets *Wallets) GetAddrs() []string {
	addrs := make([]string, 0, len(wallets.WalletsMap))
	for addr := range wallets.WalletsMap {
		addrs = append(addrs, addr)
	}
	return addrs
}

// GetWallet looks up a wallet by its address.
func (wallets *Wallets) GetWallet(addr string) (*Wallet, error) {
	w, ok := wallets.WalletsMap[addr]
	if !ok {
		return nil, errors.New("core: address not found in wallets")
	}
	return w, nil
}

// CreateWallet generates a fresh key pair, adds it to the keyring under
// its derived address, and returns that address.
func (wallets *Wallets) CreateWallet() (string, error) {
	w, err := NewWallet()
	if err != nil {
		return "", err
	}
	addr := w.Address()
	wallets.WalletsMap[addr] = w
	return addr, nil
}
