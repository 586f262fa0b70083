// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package redis implements the message lifecycle store on Redis. Message
// bodies carry the expiry as a native key TTL, so the storage engine
// itself is the expiry sweep; saving a message persists the key, unsaving
// restores the deadline relative to the original creation time.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

const (
	// Key layout:
	//   msg:{id}         message body, TTL while unsaved
	//   msg:pair:{a:b}   ids for one conversation, arrival order
	//   msg:user:{id}    ids for one identity's history, arrival order
	msgKeyPrefix  = "msg:"
	pairKeyPrefix = "msg:pair:"
	userKeyPrefix = "msg:user:"
)

type MessageStore struct {
	rdb *redis.Client
	ctx context.Context
}

func NewMessageStore(rdb *redis.Client) *MessageStore {
	return &MessageStore{
		rdb: rdb,
		ctx: context.Background(),
	}
}

func (s *MessageStore) Create(senderID, recipientID, payload, msgType, displayTime string) (*models.Message, error) {
	createdAt := time.Now().UTC()
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

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := s.rdb.Set(s.ctx, msgKeyPrefix+msg.ID, data, models.MessageTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	// Index order is persistence order; the relay serializes sends per
	// pair, so list order is receipt order for a conversation.
	if err := s.rdb.RPush(s.ctx, pairKey(senderID, recipientID), msg.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index pair: %w", err)
	}
	if err := s.rdb.RPush(s.ctx, userKeyPrefix+senderID, msg.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index sender: %w", err)
	}
	if senderID != recipientID {
		if err := s.rdb.RPush(s.ctx, userKeyPrefix+recipientID, msg.ID).Err(); err != nil {
			return nil, fmt.Errorf("failed to index recipient: %w", err)
		}
	}

	return msg, nil
}

func (s *MessageStore) Get(id string) (*models.Message, error) {
	data, err := s.rdb.Get(s.ctx, msgKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) History(userID string) ([]models.Message, error) {
	listKey := userKeyPrefix + userID
	ids, err := s.rdb.LRange(s.ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get history index: %w", err)
	}

	var history []models.Message
	for _, id := range ids {
		msg, err := s.Get(id)
		if err == storage.ErrNotFound {
			// Expired or deleted body; prune the index entry.
			s.rdb.LRem(s.ctx, listKey, 1, id)
			continue
		} else if err != nil {
			return nil, err
		}
		history = append(history, *msg)
	}
	return history, nil
}

func (s *MessageStore) ToggleSave(id string) (*models.Message, error) {
	msg, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	msg.IsSaved = !msg.IsSaved
	if msg.IsSaved {
		msg.ExpireAt = nil
	} else {
		expireAt := msg.Expiry()
		msg.ExpireAt = &expireAt
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	key := msgKeyPrefix + id
	if err := s.rdb.Set(s.ctx, key, data, redis.KeepTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}

	if msg.IsSaved {
		if err := s.rdb.Persist(s.ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("failed to suspend expiry: %w", err)
		}
	} else {
		// EXPIREAT with a past deadline deletes the key immediately, which
		// is exactly the unsave-after-window semantics.
		if err := s.rdb.ExpireAt(s.ctx, key, *msg.ExpireAt).Err(); err != nil {
			return nil, fmt.Errorf("failed to restore expiry: %w", err)
		}
	}

	return msg, nil
}

func (s *MessageStore) BulkDelete(ids []string) error {
	for _, id := range ids {
		msg, err := s.Get(id)
		if err == storage.ErrNotFound {
			continue // already gone, deletion is idempotent
		} else if err != nil {
			return err
		}
		if err := s.deleteMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *MessageStore) Nuke(identityA, identityB string) (int, error) {
	listKey := pairKey(identityA, identityB)
	ids, err := s.rdb.LRange(s.ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get pair index: %w", err)
	}

	removed := 0
	for _, id := range ids {
		msg, err := s.Get(id)
		if err == storage.ErrNotFound {
			s.rdb.LRem(s.ctx, listKey, 1, id)
			continue
		} else if err != nil {
			return removed, err
		}
		if msg.IsSaved {
			continue
		}
		if err := s.deleteMessage(msg); err != nil {
			return removed, err
		}
		removed++
	}

	logrus.WithFields(logrus.Fields{
		"identity_a": identityA,
		"identity_b": identityB,
		"removed":    removed,
	}).Info("Nuked unsaved conversation history")

	return removed, nil
}

// CleanupExpiredIndexes prunes index entries whose message body has
// expired. Run periodically as a background job; Redis drops the bodies
// itself via TTL.
func (s *MessageStore) CleanupExpiredIndexes() error {
	for _, pattern := range []string{pairKeyPrefix + "*", userKeyPrefix + "*"} {
		iter := s.rdb.Scan(s.ctx, 0, pattern, 0).Iterator()
		for iter.Next(s.ctx) {
			listKey := iter.Val()

			ids, err := s.rdb.LRange(s.ctx, listKey, 0, -1).Result()
			if err != nil {
				continue
			}
			for _, id := range ids {
				if s.rdb.Exists(s.ctx, msgKeyPrefix+id).Val() == 0 {
					s.rdb.LRem(s.ctx, listKey, 1, id)
				}
			}

			if s.rdb.LLen(s.ctx, listKey).Val() == 0 {
				s.rdb.Del(s.ctx, listKey)
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// StartCleanup runs CleanupExpiredIndexes at the given interval until ctx
// is cancelled.
func (s *MessageStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.CleanupExpiredIndexes(); err != nil {
					logrus.WithError(err).Warn("Index cleanup failed")
				}
			}
		}
	}()
}

func (s *MessageStore) deleteMessage(msg *models.Message) error {
	if err := s.rdb.Del(s.ctx, msgKeyPrefix+msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.rdb.LRem(s.ctx, pairKey(msg.SenderID, msg.RecipientID), 1, msg.ID)
	s.rdb.LRem(s.ctx, userKeyPrefix+msg.SenderID, 1, msg.ID)
	if msg.SenderID != msg.RecipientID {
		s.rdb.LRem(s.ctx, userKeyPrefix+msg.RecipientID, 1, msg.ID)
	}
	return nil
}

func pairKey(a, b string) string {
	return pairKeyPrefix + models.PairKey(a, b)
}
