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

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

type ContactHandler struct {
	accounts storage.AccountStore
	log      *logrus.Logger
}

func NewContactHandler(accounts storage.AccountStore, log *logrus.Logger) *ContactHandler {
	return &ContactHandler{accounts: accounts, log: log}
}

// AddContact links two accounts by friend code. The link is mutual, so the
// counterpart sees the caller in their contact list as well.
func (h *ContactHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		FriendCode string `json:"friendCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FriendCode == "" {
		http.Error(w, "friendCode is required", http.StatusBadRequest)
		return
	}

	contact, err := h.accounts.AddContact(userID, req.FriendCode)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Friend code not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrSelfAdd):
			http.Error(w, "Cannot add yourself", http.StatusBadRequest)
		default:
			h.log.WithError(err).WithField("user_id", userID).Error("add contact failed")
			http.Error(w, "Failed to add contact", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contact)
}

// Contacts returns the contact list for a username, public keys included.
func (h *ContactHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	username := vars["username"]

	contacts, err := h.accounts.Contacts(username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).WithField("username", username).Error("contacts lookup failed")
		http.Error(w, "Failed to retrieve contacts", http.StatusInternalServerError)
		return
	}

	if contacts == nil {
		contacts = []models.Contact{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"contacts": contacts,
		"count":    len(contacts),
	})
}
