// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memory implements the storage contracts on process memory. It
// backs tests and single-node dev deployments; production uses the
// postgres and redis stores.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

// MessageStore keeps messages in arrival order per process. The expiry
// sweep runs both lazily on reads and eagerly from StartSweeper.
type MessageStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	order    []string
	now      func() time.Time
}

func NewMessageStore() *MessageStore {
	return NewMessageStoreWithClock(time.Now)
}

// NewMessageStoreWithClock injects the clock, letting tests drive expiry
// deterministically.
func NewMessageStoreWithClock(now func() time.Time) *MessageStore {
	return &MessageStore{
		messages: make(map[string]*models.Message),
		now:      now,
	}
}

func (s *MessageStore) Create(senderID, recipientID, payload, msgType, displayTime string) (*models.Message, error) {
	createdAt := s.now().UTC()
	expireAt := createdAt.Add(models.MessageTTL)

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Type:        msgType,
		Time:        displayTime,
		IsSaved:     false,
		CreatedAt:   createdAt,
		ExpireAt:    &expireAt,
	}

	s.mu.Lock()
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	s.mu.Unlock()

	copy := *msg
	return &copy, nil
}

func (s *MessageStore) Get(id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || s.expiredLocked(msg) {
		return nil, storage.ErrNotFound
	}
	copy := *msg
	return &copy, nil
}

func (s *MessageStore) History(userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []models.Message
	for _, id := range s.order {
		msg, ok := s.messages[id]
		if !ok || s.expiredLocked(msg) {
			continue
		}
		if msg.SenderID == userID || msg.RecipientID == userID {
			history = append(history, *msg)
		}
	}
	return history, nil
}

func (s *MessageStore) ToggleSave(id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || s.expiredLocked(msg) {
		return nil, storage.ErrNotFound
	}

	msg.IsSaved = !msg.IsSaved
	if msg.IsSaved {
		msg.ExpireAt = nil
	} else {
		// Anchor to the original creation time. Repeated toggles must not
		// drift the deadline forward.
		expireAt := msg.Expiry()
		msg.ExpireAt = &expireAt
	}

	copy := *msg
	return &copy, nil
}

func (s *MessageStore) BulkDelete(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.messages, id)
	}
	return nil
}

func (s *MessageStore) Nuke(identityA, identityB string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, msg := range s.messages {
		// The zero value of the flag counts as unsaved, so records that
		// never round-tripped through a save are purged too.
		if msg.Between(identityA, identityB) && !msg.IsSaved {
			delete(s.messages, id)
			removed++
		}
	}

	logrus.WithFields(logrus.Fields{
		"identity_a": identityA,
		"identity_b": identityB,
		"removed":    removed,
	}).Info("Nuked unsaved conversation history")

	return removed, nil
}

// Sweep removes every message whose deadline has elapsed and returns how
// many were dropped.
func (s *MessageStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, msg := range s.messages {
		if s.expiredLocked(msg) {
			delete(s.messages, id)
			removed++
		}
	}
	// Compact the order index so ids freed by sweeps and deletes do not
	// accumulate.
	live := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.messages[id]; ok {
			live = append(live, id)
		}
	}
	s.order = live

	if removed > 0 {
		logrus.WithField("removed", removed).Debug("Expiry sweep dropped messages")
	}
	return removed
}

// StartSweeper runs Sweep at the given interval until ctx is cancelled.
func (s *MessageStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *MessageStore) expiredLocked(msg *models.Message) bool {
	return msg.ExpireAt != nil && !msg.ExpireAt.After(s.now())
}
