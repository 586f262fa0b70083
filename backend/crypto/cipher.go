// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrDecryption is an authentication failure: wrong key, tampered or
	// corrupted ciphertext. Distinct from ErrKeyDerivation, which means the
	// key was never available.
	ErrDecryption = errors.New("decryption failed: message authentication failed")

	// ErrEnvelope marks an envelope too short or not valid base64.
	ErrEnvelope = errors.New("malformed envelope")
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// EncryptPayload seals plaintext under an AES-256-GCM key with a fresh
// random nonce and returns base64(nonce || ciphertext || tag). Nonces are
// never reused for a key; callers must not cache envelopes for
// re-encryption.
func EncryptPayload(key, plaintext []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPayload reverses EncryptPayload. Authentication failure returns
// ErrDecryption; a structurally invalid envelope returns ErrEnvelope.
func DecryptPayload(key []byte, envelope string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", ErrEnvelope)
	}

	plaintext, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size %d, want %d", len(key), SymmetricKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
