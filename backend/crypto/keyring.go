// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Keyring caches one derived symmetric key per (self, peer) pairing for the
// process lifetime. A key is derived at most once; failed derivations are
// not cached so they can be retried as corrected key material arrives.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// SharedKey returns the pairwise AES key for (self, peer), deriving and
// caching it on first use. Returns nil when the key material is malformed,
// so callers can render a pending state instead of failing hard.
func (k *Keyring) SharedKey(self, peer, myPrivate, theirPublic string) []byte {
	cacheKey := self + "|" + peer

	k.mu.RLock()
	key, ok := k.keys[cacheKey]
	k.mu.RUnlock()
	if ok {
		return key
	}

	key, err := DeriveSharedKey(myPrivate, theirPublic)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SharedKey",
			"self":     self,
			"peer":     peer,
			"error":    err.Error(),
		}).Warn("Pairwise key derivation failed")
		return nil
	}

	k.mu.Lock()
	if cached, ok := k.keys[cacheKey]; ok {
		// Lost the race; keep the first derivation.
		key = cached
	} else {
		k.keys[cacheKey] = key
	}
	k.mu.Unlock()

	return key
}

// Forget drops the cached key for a pairing, e.g. after a contact rotates
// their identity key.
func (k *Keyring) Forget(self, peer string) {
	k.mu.Lock()
	delete(k.keys, self+"|"+peer)
	k.mu.Unlock()
}
