// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

// AccountStore is the in-memory account collaborator for tests and dev
// mode.
type AccountStore struct {
	mu         sync.Mutex
	byUsername map[string]*models.Account
	byID       map[string]*models.Account
	byCode     map[string]*models.Account
	contacts   map[string]map[string]bool // id -> set of contact ids
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		byUsername: make(map[string]*models.Account),
		byID:       make(map[string]*models.Account),
		byCode:     make(map[string]*models.Account),
		contacts:   make(map[string]map[string]bool),
	}
}

func (s *AccountStore) Register(username, password, publicKey string, privateKey *string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[username]; taken {
		return nil, storage.ErrUsernameTaken
	}

	code := mintFriendCode()
	for s.byCode[code] != nil {
		code = mintFriendCode()
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		PublicKey:    publicKey,
		PrivateKey:   privateKey,
		FriendCode:   code,
		CreatedAt:    time.Now().UTC(),
	}

	s.byUsername[username] = account
	s.byID[account.ID] = account
	s.byCode[code] = account
	s.contacts[account.ID] = make(map[string]bool)

	out := *account
	return &out, nil
}

func (s *AccountStore) Login(username, password string) (*models.Account, []models.Contact, error) {
	s.mu.Lock()
	account, ok := s.byUsername[username]
	s.mu.Unlock()
	if !ok {
		return nil, nil, storage.ErrNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, storage.ErrBadCredentials
	}

	contacts, err := s.Contacts(username)
	if err != nil {
		return nil, nil, err
	}

	out := *account
	return &out, contacts, nil
}

func (s *AccountStore) AddContact(selfID, friendCode string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.byCode[friendCode]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if target.ID == selfID {
		return nil, storage.ErrSelfAdd
	}
	if _, ok := s.byID[selfID]; !ok {
		return nil, storage.ErrNotFound
	}

	// Contact adds are mutual.
	s.contacts[selfID][target.ID] = true
	if s.contacts[target.ID] == nil {
		s.contacts[target.ID] = make(map[string]bool)
	}
	s.contacts[target.ID][selfID] = true

	return &models.Contact{ID: target.ID, Username: target.Username, PublicKey: target.PublicKey}, nil
}

func (s *AccountStore) Contacts(username string) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byUsername[username]
	if !ok {
		return nil, storage.ErrNotFound
	}

	var contacts []models.Contact
	for id := range s.contacts[account.ID] {
		c := s.byID[id]
		contacts = append(contacts, models.Contact{ID: c.ID, Username: c.Username, PublicKey: c.PublicKey})
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Username < contacts[j].Username })
	return contacts, nil
}

// mintFriendCode derives a short human-shareable token from a UUID.
func mintFriendCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
