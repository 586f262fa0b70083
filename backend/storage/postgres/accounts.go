// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

func (s *Store) Register(username, password, publicKey string, privateKey *string) (*models.Account, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, storage.ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		PublicKey:    publicKey,
		PrivateKey:   privateKey,
		CreatedAt:    time.Now().UTC(),
	}

	// Friend codes are unique; retry on the rare collision.
	for attempt := 0; attempt < 3; attempt++ {
		account.FriendCode = mintFriendCode()
		_, err = s.db.Exec(`
			INSERT INTO users (id, username, password_hash, public_key, private_key, friend_code, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			account.ID, account.Username, account.PasswordHash,
			account.PublicKey, account.PrivateKey, account.FriendCode, account.CreatedAt)
		if err == nil {
			return account, nil
		}
		if !strings.Contains(err.Error(), "friend_code") {
			break
		}
	}

	if err != nil && strings.Contains(err.Error(), "username") {
		return nil, storage.ErrUsernameTaken
	}
	return nil, fmt.Errorf("insert user: %w", err)
}

func (s *Store) Login(username, password string) (*models.Account, []models.Contact, error) {
	account := &models.Account{}
	var privateKey sql.NullString

	err := s.db.QueryRow(`
		SELECT id, username, password_hash, public_key, private_key, friend_code, created_at
		FROM users WHERE username = $1`, username).Scan(
		&account.ID, &account.Username, &account.PasswordHash,
		&account.PublicKey, &privateKey, &account.FriendCode, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, storage.ErrNotFound
	} else if err != nil {
		return nil, nil, fmt.Errorf("query user: %w", err)
	}

	if privateKey.Valid {
		account.PrivateKey = &privateKey.String
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, storage.ErrBadCredentials
	}

	contacts, err := s.Contacts(username)
	if err != nil {
		return nil, nil, err
	}

	return account, contacts, nil
}

func (s *Store) AddContact(selfID, friendCode string) (*models.Contact, error) {
	contact := &models.Contact{}
	err := s.db.QueryRow(`
		SELECT id, username, public_key FROM users WHERE friend_code = $1`,
		friendCode).Scan(&contact.ID, &contact.Username, &contact.PublicKey)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("lookup friend code: %w", err)
	}

	if contact.ID == selfID {
		return nil, storage.ErrSelfAdd
	}

	// One canonical row per pair; the add is mutual by construction.
	user1, user2 := selfID, contact.ID
	if user1 > user2 {
		user1, user2 = user2, user1
	}

	_, err = s.db.Exec(`
		INSERT INTO contacts (user1_id, user2_id)
		VALUES ($1, $2)
		ON CONFLICT (user1_id, user2_id) DO NOTHING`, user1, user2)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}

	return contact, nil
}

func (s *Store) Contacts(username string) ([]models.Contact, error) {
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	rows, err := s.db.Query(`
		SELECT u.id, u.username, u.public_key
		FROM users self
		JOIN contacts c ON self.id IN (c.user1_id, c.user2_id)
		JOIN users u ON u.id = CASE WHEN c.user1_id = self.id THEN c.user2_id ELSE c.user1_id END
		WHERE self.username = $1
		ORDER BY u.username`, username)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Username, &c.PublicKey); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func mintFriendCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
