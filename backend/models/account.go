// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// Account is a registered identity. PrivateKey is the optional escrowed
// private key the client submitted at registration for cross-device
// recovery. Escrow trades confidentiality for recoverability and is always
// an explicit client choice, never done silently.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	PublicKey    string    `json:"publicKey"`
	PrivateKey   *string   `json:"privateKey,omitempty"`
	FriendCode   string    `json:"friendCode"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Contact is the subset of an account visible to its contacts. The public
// key is what the counterpart feeds into shared-key derivation.
type Contact struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}
