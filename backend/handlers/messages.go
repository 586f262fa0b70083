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
	"github.com/msgchat/msg/backend/relay"
	"github.com/msgchat/msg/backend/storage"
)

type MessageHandler struct {
	hub   *relay.Hub
	store storage.MessageStore
	log   *logrus.Logger
}

func NewMessageHandler(hub *relay.Hub, store storage.MessageStore, log *logrus.Logger) *MessageHandler {
	return &MessageHandler{hub: hub, store: store, log: log}
}

// Send persists an encrypted message and pushes it to both live parties.
// The response is the canonical record; a connected sender also receives it
// on the stream, echoed with the provisional id for reconciliation.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	senderID := r.Context().Value("user_id").(string)

	var req models.SendMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	// The authenticated identity always wins over whatever the body says.
	req.SenderID = senderID

	msg, err := h.hub.Relay(req)
	if err != nil {
		if errors.Is(err, relay.ErrPersistence) {
			h.log.WithError(err).WithFields(logrus.Fields{
				"sender":    senderID,
				"recipient": req.RecipientID,
			}).Error("message persist failed")
			http.Error(w, "Failed to send message", http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// History returns the live messages between the authenticated user and the
// user named in the path, oldest first. Expired messages never appear.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	vars := mux.Vars(r)
	otherID := vars["userId"]

	msgs, err := h.store.History(userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("history fetch failed")
		http.Error(w, "Failed to retrieve messages", http.StatusInternalServerError)
		return
	}

	between := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Between(userID, otherID) {
			between = append(between, m)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"messages": between,
		"count":    len(between),
	})
}

// ToggleSave flips the saved flag on one message and returns the updated
// record so the client can show the new expiry.
func (h *MessageHandler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	msg, err := h.store.ToggleSave(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).WithField("message_id", id).Error("toggle save failed")
		http.Error(w, "Failed to update message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

// BulkDelete removes the listed messages regardless of save state. Missing
// ids are skipped, so retrying a delete is harmless.
func (h *MessageHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.BulkDelete(req.IDs); err != nil {
		h.log.WithError(err).Error("bulk delete failed")
		http.Error(w, "Failed to delete messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "deleted",
	})
}

// Nuke wipes every unsaved message between the caller and the other user
// and notifies both parties' live connections.
func (h *MessageHandler) Nuke(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		OtherID string `json:"otherId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OtherID == "" {
		http.Error(w, "otherId is required", http.StatusBadRequest)
		return
	}

	removed, err := h.hub.Nuke(userID, req.OtherID)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"other":   req.OtherID,
		}).Error("nuke failed")
		http.Error(w, "Failed to nuke chat", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "nuked",
		"removed": removed,
	})
}
