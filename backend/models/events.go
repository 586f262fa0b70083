// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "encoding/json"

// Relay wire event names. Transport-agnostic: the relay emits these over
// whatever stream a connection is attached to.
const (
	EventOnlineUsers  = "getOnlineUsers"
	EventMessage      = "getMessage"
	EventChatNuked    = "chatNuked"
	EventCallUser     = "callUser"
	EventCallAccepted = "callAccepted"
	EventCallEnded    = "callEnded"
	EventCallFailed   = "callFailed"
)

// Event is one relay-to-client frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// SendMessage is the client send request. ProvisionalID is a
// client-generated correlation key: the relay echoes it on the canonical
// record so the sender can reconcile its optimistic copy with the
// server-assigned id instead of guessing by timestamp.
type SendMessage struct {
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	Payload       string `json:"payload"`
	Type          string `json:"type"`
	Time          string `json:"time"`
	ProvisionalID string `json:"provisionalId,omitempty"`
}

// DeliverMessage is the canonical persisted record pushed to both the
// recipient and back to the sender.
type DeliverMessage struct {
	Message
	ProvisionalID string `json:"provisionalId,omitempty"`
}

// NukeNotice tells a live connection that all unsaved messages with Target
// were purged, so local caches can be pruned to the saved subset.
type NukeNotice struct {
	Target string `json:"target"`
}

// CallOffer carries the caller's session description to the callee.
// Signal is opaque negotiation data; no media ever transits the relay.
type CallOffer struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// CallAnswer carries the callee's answer back to the caller.
type CallAnswer struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// CallEnd terminates the session from either side.
type CallEnd struct {
	To string `json:"to"`
}

// CallFailed is emitted to the caller when an offer cannot be delivered.
type CallFailed struct {
	Reason string `json:"reason"`
}
