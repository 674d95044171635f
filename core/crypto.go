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

// Package core implements the chain state machine, transaction/UTXO
// validation pipeline, and block structures shared by every node.
package core

import (
	"bytes"
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"ledgerchain/utils"
)

const addressVersion = byte(0x00)
const addrChecksumLen = 4

// KeyPair is a SECP256k1 private/public key pair. Signing is deterministic
// (RFC 6979) over SHA-256.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeyPair creates a fresh SECP256k1 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// PubFromPriv returns the compressed public key bytes for priv.
func PubFromPriv(priv *secp256k1.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()
}

// HashingPubKey returns RIPEMD160(SHA256(pubKey)), the 20-byte pubkey hash
// locked into every P2PKH output.
func HashingPubKey(pubKey []byte) []byte {
	sha := sha256.Sum256(pubKey)
	hasher := ripemd160.New()
	_, _ = hasher.Write(sha[:])
	return hasher.Sum(nil)
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:addrChecksumLen]
}

// AddressFromPub derives the Base58Check address string for a public key,
// compressed or uncompressed: Base58Check(0x00 || RIPEMD160(SHA256(pubkey))).
func AddressFromPub(pubKey []byte) string {
	pubKeyHash := HashingPubKey(pubKey)
	versioned := append([]byte{addressVersion}, pubKeyHash...)
	full := append(versioned, checksum(versioned)...)
	return string(utils.Base58Encode(full))
}

// AddressToPubKeyHash decodes a Base58Check address into its 20-byte
// pubkey hash, verifying the checksum. Returns nil if malformed.
func AddressToPubKeyHash(addr string) []byte {
	full := utils.Base58Decode([]byte(addr))
	if len(full) <= addrChecksumLen+1 {
		return nil
	}
	version := full[0]
	pubKeyHash := full[1 : len(full)-addrChecksumLen]
	gotChecksum := full[len(full)-addrChecksumLen:]
	if version != addressVersion {
		return nil
	}
	if !bytes.Equal(gotChecksum, checksum(full[:len(full)-addrChecksumLen])) {
		return nil
	}
	return pubKeyHash
}

// ValidateAddress reports whether addr is a well-formed, checksum-valid
// address. Malformed input is a negative verdict, never a panic.
func ValidateAddress(addr string) bool {
	return AddressToPubKeyHash(addr) != nil
}

// parsePubKey accepts either a 33-byte compressed or 65-byte uncompressed
// SECP256k1 public key and normalizes to *secp256k1.PublicKey. Malformed
// input returns (nil, false) rather than propagating a fault.
func parsePubKey(pubKey []byte) (*secp256k1.PublicKey, bool) {
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return nil, false
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return nil, false
	}
	return pub, true
}

// Sign produces a deterministic (RFC 6979) SECP256k1 signature over msg's
// SHA-256 digest, DER-encoded.
func Sign(priv *secp256k1.PrivateKey, msg []byte) []byte {
	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify checks a DER-encoded signature over msg's SHA-256 digest against
// a compressed or uncompressed public key. Any malformed input or failed
// verification yields false, never a panic.
func Verify(pubKey, sig, msg []byte) bool {
	pub, ok := parsePubKey(pubKey)
	if !ok {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return parsed.Verify(digest[:], pub)
}
