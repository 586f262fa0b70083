// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// MessageTTL is how long an unsaved message survives before the expiry
// sweep removes it. Saving a message suspends expiry; unsaving restores
// the deadline relative to the original creation time.
const MessageTTL = 48 * time.Hour

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// Message is the persisted record for a single direct message. The payload
// is ciphertext produced client-side; nothing server-side can read it.
type Message struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Payload     string     `json:"payload"`
	Type        string     `json:"type"` // "text" or "image"
	Time        string     `json:"time"` // display time, rendered by the sender
	IsSaved     bool       `json:"isSaved"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpireAt    *time.Time `json:"expireAt"`
}

// Expiry returns the deadline an unsaved copy of the message carries,
// always anchored to the original creation time.
func (m *Message) Expiry() time.Time {
	return m.CreatedAt.Add(MessageTTL)
}

// Between reports whether the message belongs to the conversation of the
// unordered identity pair (a, b).
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) ||
		(m.SenderID == b && m.RecipientID == a)
}

// PairKey returns a canonical key for an unordered identity pair, so both
// directions of a conversation map to the same bucket.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
