// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/middleware"
	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

// tokenTTL is how long a login token stays valid.
const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	accounts  storage.AccountStore
	jwtSecret string
	jwtIssuer string
	log       *logrus.Logger
}

func NewAuthHandler(accounts storage.AccountStore, jwtSecret, jwtIssuer string, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, jwtSecret: jwtSecret, jwtIssuer: jwtIssuer, log: log}
}

// Register creates a new account. The client supplies its public identity
// key and may escrow an encrypted private key blob for multi-device login.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string  `json:"username"`
		Password   string  `json:"password"`
		PublicKey  string  `json:"publicKey"`
		PrivateKey *string `json:"privateKey"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" || req.PublicKey == "" {
		http.Error(w, "username, password and publicKey are required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.Register(req.Username, req.Password, req.PublicKey, req.PrivateKey)
	if err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}
		h.log.WithError(err).WithField("username", req.Username).Error("register failed")
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}

	h.log.WithFields(logrus.Fields{
		"user_id":  account.ID,
		"username": account.Username,
	}).Info("account registered")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"id":         account.ID,
		"username":   account.Username,
		"friendCode": account.FriendCode,
	})
}

// Login verifies credentials and returns the account, its contact list and
// a bearer token for the API surface.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, contacts, err := h.accounts.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "User not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrBadCredentials):
			http.Error(w, "Wrong password", http.StatusBadRequest)
		default:
			h.log.WithError(err).WithField("username", req.Username).Error("login failed")
			http.Error(w, "Failed to log in", http.StatusInternalServerError)
		}
		return
	}

	token, err := middleware.MintToken(h.jwtSecret, h.jwtIssuer, account.ID, account.Username, tokenTTL)
	if err != nil {
		h.log.WithError(err).Error("token mint failed")
		http.Error(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	if contacts == nil {
		contacts = []models.Contact{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         account.ID,
		"username":   account.Username,
		"friendCode": account.FriendCode,
		"publicKey":  account.PublicKey,
		"privateKey": account.PrivateKey,
		"contacts":   contacts,
		"token":      token,
	})
}
