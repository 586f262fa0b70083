// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package crypto implements the pairwise key agreement and the message
// cipher pipeline. Identity keys are ECDH on P-256; the shared secret is
// expanded with HKDF-SHA256 into a 256-bit AES-GCM key. All operations are
// pure and safe for concurrent use.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// ErrKeyDerivation marks missing or malformed key material. A message
// pairing hit by it renders as pending/undecryptable, which is a different
// user-facing state than an authentication failure (ErrDecryption).
var ErrKeyDerivation = errors.New("key derivation failed")

// SymmetricKeySize is the derived AES-256-GCM key length in bytes.
const SymmetricKeySize = 32

// hkdfInfo domain-separates pairwise message keys from any future use of
// the same ECDH secret.
var hkdfInfo = []byte("msgchat pairwise message key v1")

// GenerateIdentityKeys creates a fresh P-256 ECDH keypair and returns both
// halves in portable form (base64 of the standard point/scalar encoding),
// suitable for storage, escrow, and re-import on another device.
func GenerateIdentityKeys() (publicKey, privateKey string, err error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate identity keys: %w", err)
	}

	publicKey = base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes())
	privateKey = base64.StdEncoding.EncodeToString(priv.Bytes())

	logrus.WithFields(logrus.Fields{
		"function": "GenerateIdentityKeys",
		"curve":    "P-256",
	}).Debug("Generated identity keypair")

	return publicKey, privateKey, nil
}

// DeriveSharedKey imports both keys, performs ECDH, and expands the secret
// into an AES-256-GCM key. Derivation is symmetric: (aPriv, bPub) and
// (bPriv, aPub) yield the same key for the same pair. Malformed or
// wrong-curve input returns ErrKeyDerivation.
func DeriveSharedKey(myPrivate, theirPublic string) ([]byte, error) {
	rawPriv, err := base64.StdEncoding.DecodeString(myPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key: %v", ErrKeyDerivation, err)
	}
	rawPub, err := base64.StdEncoding.DecodeString(theirPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key: %v", ErrKeyDerivation, err)
	}

	priv, err := ecdh.P256().NewPrivateKey(rawPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: import private key: %v", ErrKeyDerivation, err)
	}
	pub, err := ecdh.P256().NewPublicKey(rawPub)
	if err != nil {
		return nil, fmt.Errorf("%w: import public key: %v", ErrKeyDerivation, err)
	}

	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	key := make([]byte, SymmetricKeySize)
	kdf := hkdf.New(sha256.New, secret, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: expand secret: %v", ErrKeyDerivation, err)
	}

	for i := range secret {
		secret[i] = 0
	}

	return key, nil
}
