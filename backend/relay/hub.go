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

// Package relay pushes persisted messages and call signals to live
// connections. Persistence always happens first and never requires an
// online recipient; the live push is best effort, and a client that
// missed it recovers the record on its next history fetch.
package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/presence"
	"github.com/msgchat/msg/backend/storage"
)

// ErrPersistence wraps storage failures on send. The message is not
// considered sent; the caller must retry.
var ErrPersistence = errors.New("message not persisted")

type Hub struct {
	registry *presence.Registry
	store    storage.MessageStore

	// pairLocks serializes persistence per unordered identity pair so a
	// conversation's records land in receipt order. No ordering holds
	// across different pairs.
	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

func NewHub(registry *presence.Registry, store storage.MessageStore) *Hub {
	return &Hub{
		registry:  registry,
		store:     store,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// Relay persists the message, echoes the canonical record back to the
// sender's connection and pushes the same record to the recipient when
// online. Sender and recipient always see the same server-assigned id;
// the echoed ProvisionalID lets the sender reconcile its optimistic copy.
func (h *Hub) Relay(send models.SendMessage) (*models.Message, error) {
	if send.SenderID == "" || send.RecipientID == "" || send.Payload == "" {
		return nil, fmt.Errorf("invalid send: sender, recipient and payload are required")
	}
	if send.Type == "" {
		send.Type = models.MessageTypeText
	}

	lock := h.pairLock(models.PairKey(send.SenderID, send.RecipientID))
	lock.Lock()
	msg, err := h.store.Create(send.SenderID, send.RecipientID, send.Payload, send.Type, send.Time)
	lock.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sender":    send.SenderID,
			"recipient": send.RecipientID,
			"error":     err.Error(),
		}).Error("Failed to persist outgoing message")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	deliver := models.DeliverMessage{Message: *msg, ProvisionalID: send.ProvisionalID}
	ev := models.Event{Name: models.EventMessage, Data: deliver}

	if conn, ok := h.registry.Lookup(send.SenderID); ok {
		conn.Send(ev)
	}
	if conn, ok := h.registry.Lookup(send.RecipientID); ok {
		conn.Send(ev)
		logrus.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"recipient":  send.RecipientID,
		}).Debug("Pushed message to live recipient")
	}
	// An offline recipient is not an error; the record waits in storage.

	return msg, nil
}

// Nuke purges every unsaved message between the two identities, then
// notifies both parties' live connections naming the counterpart so local
// caches prune down to the saved subset.
func (h *Hub) Nuke(identityA, identityB string) (int, error) {
	removed, err := h.store.Nuke(identityA, identityB)
	if err != nil {
		return 0, err
	}

	if conn, ok := h.registry.Lookup(identityA); ok {
		conn.Send(models.Event{Name: models.EventChatNuked, Data: models.NukeNotice{Target: identityB}})
	}
	if conn, ok := h.registry.Lookup(identityB); ok {
		conn.Send(models.Event{Name: models.EventChatNuked, Data: models.NukeNotice{Target: identityA}})
	}

	return removed, nil
}

func (h *Hub) pairLock(key string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		h.pairLocks[key] = lock
	}
	return lock
}
